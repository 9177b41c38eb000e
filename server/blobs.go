package server

import (
	"errors"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/ndlib/paperstore/chunk"
)

// blobInfo is a blob along with whether a record points at it.
type blobInfo struct {
	chunk.Blob
	Referenced bool `json:"referenced"`
}

// ListBlobsHandler handles requests to GET /api/blobs
func (s *RESTServer) ListBlobsHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	used, err := s.Records.BlobIDs(r.Context())
	if err != nil {
		writeMessage(w, 500, err.Error())
		return
	}
	var result []blobInfo
	for _, b := range s.Chunks.List() {
		result = append(result, blobInfo{Blob: b, Referenced: used[b.ID]})
	}
	writeHTMLorJSON(w, r, listBlobTemplate, result)
}

// OrphansHandler handles requests to GET /api/blobs/orphans
func (s *RESTServer) OrphansHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	orphans, err := s.Records.Orphans(r.Context(), s.Chunks.List())
	if err != nil {
		writeMessage(w, 500, err.Error())
		return
	}
	var result []blobInfo
	for _, b := range orphans {
		result = append(result, blobInfo{Blob: b})
	}
	writeHTMLorJSON(w, r, listBlobTemplate, result)
}

var (
	listBlobTemplate = template.Must(template.New("listblob").Parse(`<html>
<h1>Blobs</h1>
<table>
<tr><th>ID</th><th>Name</th><th>Length</th><th>Created</th><th>Complete</th><th>Referenced</th></tr>
{{ range . }}
	<tr><td>{{ .ID }}</td><td>{{ .Name }}</td><td>{{ .Length }}</td><td>{{ .Created }}</td><td>{{ .Complete }}</td><td>{{ .Referenced }}</td></tr>
{{ else }}
	<tr><td colspan="6">No Blobs</td></tr>
{{ end }}
</table>
</html>`))
)

// DeleteBlobHandler handles requests to DELETE /api/blobs/:id
// Blobs referenced by a record cannot be deleted. Neither can incomplete
// blobs changed within the upload timeout, since they may still be
// receiving chunks.
func (s *RESTServer) DeleteBlobHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := chunk.ParseBlobID(ps.ByName("id"))
	if err != nil {
		writeMessage(w, 404, "Blob not found")
		return
	}
	b, err := s.Chunks.GetBlobMetadata(id)
	if errors.Is(err, chunk.ErrNotFound) {
		writeMessage(w, 404, "Blob not found")
		return
	} else if err != nil {
		writeMessage(w, 500, err.Error())
		return
	}
	if !b.Complete && time.Since(b.Modified) < s.uploadTimeout() {
		writeMessage(w, 409, "Blob is still being uploaded")
		return
	}
	used, err := s.Records.BlobIDs(r.Context())
	if err != nil {
		writeMessage(w, 500, err.Error())
		return
	}
	if used[id] {
		writeMessage(w, 409, "Blob is referenced by a submission")
		return
	}
	err = s.Chunks.DeleteBlob(id)
	if err != nil {
		log.Printf("blobs: delete %s: %s", id, err)
		writeMessage(w, 500, err.Error())
		return
	}
	log.Printf("blobs: %s deleted blob %s", ps.ByName("username"), id)
	writeMessage(w, 200, "Deleted")
}
