package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/ndlib/paperstore/chunk"
	"github.com/ndlib/paperstore/submission"
)

// PaperHandler handles requests to GET and HEAD /api/papers/:id
func (s *RESTServer) PaperHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := chunk.ParseBlobID(ps.ByName("id"))
	if err != nil {
		writeMessage(w, 404, "File not found")
		return
	}
	src, err := s.downloader.Stream(r.Context(), id)
	if errors.Is(err, chunk.ErrNotFound) {
		writeMessage(w, 404, "File not found")
		return
	} else if err != nil {
		log.Printf("papers: %s: %s", id, err)
		writeMessage(w, 500, "Could not read file")
		return
	}
	defer src.Close()

	b := src.Blob()
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.FormatInt(b.Length, 10))
	w.Header().Set("Last-Modified", b.Modified.UTC().Format(http.TimeFormat))
	if b.MD5 != "" {
		w.Header().Set("ETag", fmt.Sprintf("%q", b.MD5))
	}
	if b.SHA256 != "" {
		w.Header().Set("X-Content-Sha256", b.SHA256)
	}
	if r.Method == "HEAD" {
		return
	}
	nDownloads.Add(1)
	n, err := io.Copy(w, src)
	nBytesOut.Add(n)
	if err != nil {
		// too late to change the status
		log.Printf("papers: %s: sent %d of %d bytes: %s", id, n, b.Length, err)
	}
}

// SubmissionHandler handles requests to GET /api/submissions/:id
func (s *RESTServer) SubmissionHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sub, err := s.Records.Lookup(r.Context(), ps.ByName("id"))
	if errors.Is(err, submission.ErrNotFound) {
		writeMessage(w, 404, "Submission not found")
		return
	} else if err != nil {
		log.Printf("submissions: %s", err)
		writeMessage(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, sub)
}
