package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"mime/multipart"
	"net/http"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/julienschmidt/httprouter"

	"github.com/ndlib/paperstore/chunk"
	"github.com/ndlib/paperstore/submission"
	"github.com/ndlib/paperstore/transfer"
)

const (
	// maxFieldSize bounds each text field of an upload form.
	maxFieldSize = 1 << 20

	// formOverhead is allowed on top of the file size for the text fields
	// and multipart framing.
	formOverhead = 8 << 20
)

// the text fields of an upload form
type uploadForm struct {
	fields map[string]string
	file   chunk.BlobID // zero if no file was received
}

// UploadPaperHandler handles requests to POST /api/upload-paper.
//
// The body is a multipart form. The "pdf" part is streamed into the chunk
// store as it arrives, and the record is written after the whole form has
// been read.
func (s *RESTServer) UploadPaperHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), s.uploadTimeout())
	defer cancel()
	if err := s.uploadGate.Enter(ctx); err != nil {
		writeMessage(w, http.StatusServiceUnavailable, "Server busy")
		return
	}
	defer s.uploadGate.Leave()

	maxsize := s.MaxUploadSize
	if maxsize <= 0 {
		maxsize = transfer.DefaultMaxSize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxsize+formOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		writeMessage(w, 400, "Expected a multipart form")
		return
	}

	form := uploadForm{fields: make(map[string]string)}
	status, msg := s.readForm(ctx, mr, &form)
	if status != 0 {
		if !form.file.IsZero() {
			// the form is being rejected, so nothing may point at the file
			s.discard(form.file)
		}
		writeMessage(w, status, msg)
		return
	}
	if form.file.IsZero() {
		writeMessage(w, 400, "No file uploaded")
		return
	}

	sub, msg := parseFields(form.fields)
	if msg != "" {
		s.discard(form.file)
		writeMessage(w, 400, msg)
		return
	}
	sub.BlobID = form.file
	_, err = s.Records.Record(ctx, sub)
	if err != nil {
		// the blob stays behind as an orphan
		log.Printf("upload: blob %s has no record: %s", form.file, err)
		raven.CaptureError(err, map[string]string{"Blob": form.file.String()})
		nUploadFailures.Add(1)
		writeMessage(w, 500, "Upload failed")
		return
	}
	nUploads.Add(1)
	writeJSON(w, http.StatusCreated, struct {
		Message string `json:"message"`
		FileID  string `json:"fileId"`
	}{"Submission successful", form.file.String()})
}

// readForm goes through the parts of the form. The file is ingested when its
// part is reached. A non-zero status means the form is to be rejected with
// the given status and message.
func (s *RESTServer) readForm(ctx context.Context, mr *multipart.Reader, form *uploadForm) (int, string) {
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return 0, ""
		} else if err != nil {
			if isTooLarge(err) {
				return http.StatusRequestEntityTooLarge, "File too large"
			}
			return 400, "Malformed multipart form"
		}
		name := p.FormName()
		// only a part carrying a file name is the upload itself
		if name != "pdf" || p.FileName() == "" {
			value, err := ioutil.ReadAll(io.LimitReader(p, maxFieldSize+1))
			p.Close()
			if err != nil {
				return 400, "Malformed multipart form"
			}
			if len(value) > maxFieldSize {
				return 400, fmt.Sprintf("Field %s is too long", name)
			}
			form.fields[name] = string(value)
			continue
		}
		if !form.file.IsZero() {
			p.Close()
			return 400, "Only one file may be uploaded"
		}
		fname := fmt.Sprintf("%d-%s", time.Now().UnixNano()/int64(time.Millisecond), p.FileName())
		id, err := s.uploader.Ingest(ctx, p, fname, p.Header.Get("Content-Type"))
		p.Close()
		if err != nil {
			nUploadFailures.Add(1)
			return uploadStatus(id, err)
		}
		form.file = id
		b, _ := s.Chunks.GetBlobMetadata(id)
		nBytesIn.Add(b.Length)
	}
}

// uploadStatus maps an ingest error to a response.
func uploadStatus(id chunk.BlobID, err error) (int, string) {
	switch {
	case errors.Is(err, transfer.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType, "Only PDF files are allowed!"
	case errors.Is(err, transfer.ErrPayloadTooLarge), isTooLarge(err):
		return http.StatusRequestEntityTooLarge, "File too large"
	}
	log.Printf("upload: blob %s: %s", id, err)
	raven.CaptureError(err, map[string]string{"Blob": id.String()})
	return 500, "File upload failed"
}

// isTooLarge is true if err came from the http.MaxBytesReader limit.
func isTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge)
}

// parseFields makes a submission out of the text fields of the form. If a
// field is unusable it returns a message saying which.
func parseFields(fields map[string]string) (submission.Submission, string) {
	var sub submission.Submission
	n, err := submission.ParseAuthorCount(fields["noAuthors"])
	if err != nil {
		return sub, "Invalid noAuthors"
	}
	authors, err := submission.ParseAuthors(fields["authors"])
	if err != nil {
		return sub, "Invalid authors"
	}
	sub.Title = fields["title"]
	sub.NoAuthors = n
	sub.Authors = authors
	sub.DocumentType = fields["documentType"]
	sub.Abstract = fields["abstract"]
	return sub, ""
}

// discard removes a blob that was uploaded as part of a rejected form.
func (s *RESTServer) discard(id chunk.BlobID) {
	err := s.Chunks.DeleteBlob(id)
	if err != nil {
		log.Printf("upload: could not remove blob %s: %s", id, err)
	}
}
