package server

import (
	"encoding/json"
	"expvar"
	"fmt"
	"html/template"
	"log"
	"net/http"
	_ "net/http/pprof" // for pprof server
	"time"

	"github.com/facebookgo/httpdown"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/ndlib/paperstore/chunk"
	"github.com/ndlib/paperstore/submission"
	"github.com/ndlib/paperstore/transfer"
	"github.com/ndlib/paperstore/util"
)

// RESTServer holds the configuration for a paperstore REST API server.
//
// Set all the public fields and then call Run. Run will listen on the given
// port and handle requests. Do not change any fields after calling Run.
type RESTServer struct {
	// Port number to listen on. defaults to 5000
	PortNumber string
	PProfPort  string

	// Chunks holds the uploaded papers. Run will panic if Chunks is nil.
	Chunks *chunk.Store

	// Records holds the submission records. Run will panic if Records is
	// nil.
	Records *submission.Writer

	// Validator decodes the X-Api-Key header for the admin routes. If this
	// is nil every request is treated as coming from an admin.
	Validator TokenDecoder

	// AllowedOrigins are the origins browsers may make cross origin
	// requests from. Empty means DefaultOrigins.
	AllowedOrigins []string

	// Limits on uploads. Zero values select the defaults.
	ChunkSize            int           // chunk.DefaultChunkSize
	MaxUploadSize        int64         // transfer.DefaultMaxSize
	MaxConcurrentUploads int           // DefaultConcurrentUploads
	UploadTimeout        time.Duration // DefaultUploadTimeout

	uploader   *transfer.Uploader
	downloader *transfer.Downloader
	uploadGate util.Gate
	server     httpdown.Server // used to close our listening socket
}

const (
	// DefaultConcurrentUploads is how many uploads may be ingested at once.
	// Further uploads wait their turn.
	DefaultConcurrentUploads = 8

	// DefaultUploadTimeout bounds the time a single upload may take.
	DefaultUploadTimeout = 10 * time.Minute
)

// DefaultOrigins are allowed to make cross origin requests when
// AllowedOrigins is empty.
var DefaultOrigins = []string{
	"http://localhost:4173",
	"http://localhost:5173",
	"https://fw9vjsxr-5173.inc1.devtunnels.ms",
}

// Run initializes the server and then blocks listening for and handling http
// requests.
func (s *RESTServer) Run() error {
	log.Println("==========")
	log.Printf("Starting paperstore version %s", Version)

	if s.PortNumber == "" {
		s.PortNumber = "5000"
	}
	// for pprof
	if s.PProfPort != "" {
		log.Println("Starting PProf on port", s.PProfPort)
		go func() {
			log.Println(http.ListenAndServe(":"+s.PProfPort, nil))
		}()
	}
	log.Println("Listening on", s.PortNumber)

	var err error
	h := httpdown.HTTP{
		StopTimeout: s.uploadTimeout(),
	}
	s.server, err = h.ListenAndServe(&http.Server{
		Addr:    ":" + s.PortNumber,
		Handler: s.Handler(),
	})
	if err != nil {
		log.Println(err)
		return err
	}
	return s.server.Wait()
}

// Stop will stop the server and return when the in-flight requests have
// finished and the socket is closed.
func (s *RESTServer) Stop() error {
	return s.server.Stop()
}

func (s *RESTServer) uploadTimeout() time.Duration {
	if s.UploadTimeout <= 0 {
		return DefaultUploadTimeout
	}
	return s.UploadTimeout
}

// Handler sets up the server and returns the handler for all its routes. Run
// calls this; it is exposed so the routes can be mounted elsewhere.
func (s *RESTServer) Handler() http.Handler {
	if s.Chunks == nil {
		panic("No blob storage given. Chunks is nil.")
	}
	if s.Records == nil {
		panic("No record storage given. Records is nil.")
	}
	if s.Validator == nil {
		log.Println("No Validator given")
		s.Validator = NewNobodyDecoder()
	}
	n := s.MaxConcurrentUploads
	if n <= 0 {
		n = DefaultConcurrentUploads
	}
	s.uploadGate = util.NewGate(n)
	s.uploader = &transfer.Uploader{
		Chunks:    s.Chunks,
		ChunkSize: s.ChunkSize,
		MaxSize:   s.MaxUploadSize,
	}
	s.downloader = &transfer.Downloader{Chunks: s.Chunks}

	origins := s.AllowedOrigins
	if len(origins) == 0 {
		origins = DefaultOrigins
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "HEAD", "POST", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "X-Api-Key"},
		AllowCredentials: true,
	})
	return c.Handler(s.addRoutes())
}

func (s *RESTServer) addRoutes() http.Handler {
	var routes = []struct {
		method  string
		route   string
		role    Role // RoleUnknown means no API key is needed to access
		handler httprouter.Handle
	}{
		{"POST", "/api/upload-paper", RoleUnknown, s.UploadPaperHandler},
		{"GET", "/api/papers/:id", RoleUnknown, s.PaperHandler},
		{"HEAD", "/api/papers/:id", RoleUnknown, s.PaperHandler},
		{"GET", "/api/submissions/:id", RoleUnknown, s.SubmissionHandler},

		// out of band cleanup
		{"GET", "/api/blobs", RoleRead, s.ListBlobsHandler},
		{"GET", "/api/blobs/orphans", RoleRead, s.OrphansHandler},
		{"DELETE", "/api/blobs/:id", RoleAdmin, s.DeleteBlobHandler},

		// other
		{"GET", "/", RoleUnknown, s.WelcomeHandler},
		{"GET", "/debug/vars", RoleUnknown, VarHandler}, // standard route for expvars data
	}

	r := httprouter.New()
	for _, route := range routes {
		r.Handle(route.method,
			route.route,
			logWrapper(s.authzWrapper(route.handler, route.role)))
	}
	return r
}

// General route handlers and convinence functions

// VarHandler adapts the expvar default handler to the httprouter three parameter handler.
func VarHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	// this code is taken from the stdlib expvar package.
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprintf(w, "{\n")
	first := true
	expvar.Do(func(kv expvar.KeyValue) {
		if !first {
			fmt.Fprintf(w, ",\n")
		}
		first = false
		fmt.Fprintf(w, "%q: %s", kv.Key, kv.Value)
	})
	fmt.Fprintf(w, "\n}\n")
}

// writeHTMLorJSON will either return val as JSON or as rendered using the
// given template, depending on the request header "Accept".
func writeHTMLorJSON(w http.ResponseWriter,
	r *http.Request,
	tmpl *template.Template,
	val interface{}) {

	if r.Header.Get("Accept") == "application/json" {
		writeJSON(w, http.StatusOK, val)
		return
	}
	tmpl.Execute(w, val)
}

func writeJSON(w http.ResponseWriter, status int, val interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(val)
}

// writeMessage sends a JSON body of the form {"message": msg}.
func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, struct {
		Message string `json:"message"`
	}{msg})
}

// authzWrapper returns a Handler which will first verify the user token as
// having at least the given Role. The user name is added as a parameter
// "username".
func (s *RESTServer) authzWrapper(handler httprouter.Handle, leastRole Role) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		user := ""
		if leastRole > RoleUnknown {
			var role Role
			var err error
			user, role, err = s.Validator.TokenDecode(r.Header.Get("X-Api-Key"))
			if err != nil {
				writeMessage(w, 500, err.Error())
				return
			}
			if role < leastRole {
				writeMessage(w, 401, "Forbidden")
				return
			}
		}
		ps = append(ps, httprouter.Param{Key: "username", Value: user})
		handler(w, r, ps)
	}
}

// logWrapper takes a handler and returns a handler which does the same thing,
// after first logging the request URL.
func logWrapper(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		log.Println(r.Method, r.URL)
		handler(w, r, ps)
	}
}
