package server

import (
	"expvar"
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// Version is reported by the welcome page. It is set at link time.
var Version = "dev"

var (
	nUploads        = expvar.NewInt("paperstore.uploads")
	nUploadFailures = expvar.NewInt("paperstore.upload.failures")
	nBytesIn        = expvar.NewInt("paperstore.upload.bytes")
	nDownloads      = expvar.NewInt("paperstore.downloads")
	nBytesOut       = expvar.NewInt("paperstore.download.bytes")
)

// WelcomeHandler reports the version and how many uploads are in progress.
func (s *RESTServer) WelcomeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	fmt.Fprintf(w, "paperstore (%s)\n", Version)
	fmt.Fprintf(w, "uploads in progress: %d\n", s.uploadGate.Inside())
}
