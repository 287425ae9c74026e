// Package web serves the triage page and the JSON API behind it.
package web

import (
	"context"
	"embed"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"immich-sorter/internal/app/controller"
	"immich-sorter/internal/app/formatters"
	"immich-sorter/internal/immich"
)

//go:embed static
var static embed.FS

// Session is the triage session driven by the API.
type Session interface {
	State() controller.State
	Act(ctx context.Context, kind controller.ActionKind) (*controller.ActionRecord, error)
	Undo(ctx context.Context) (*controller.ActionRecord, error)
	SetFilter(ctx context.Context, models []string) error
	CameraModels(ctx context.Context) ([]string, error)
	Content(ctx context.Context, id immich.AssetID, size immich.Size) (*immich.Content, error)
}

// DiagnosticsFunc reports the health of the immich client.
type DiagnosticsFunc func(ctx context.Context) immich.ClientDiagnostics

// Config holds configuration values for the web server.
type Config struct {
	AllowedOrigins []string
	Metadata       []formatters.FormatConfig
}

// Server routes API requests to a Session.
type Server struct {
	conf        Config
	session     Session
	diagnostics DiagnosticsFunc
}

// NewServer creates a Server. diagnostics may be nil.
func NewServer(conf Config, session Session, diagnostics DiagnosticsFunc) *Server {
	if len(conf.Metadata) == 0 {
		conf.Metadata = formatters.Defaults()
	}
	if diagnostics == nil {
		diagnostics = func(context.Context) immich.ClientDiagnostics { return immich.ClientDiagnostics{} }
	}
	return &Server{conf: conf, session: session, diagnostics: diagnostics}
}

// Handler returns the routed handler wrapped with logging and CORS.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(logRequests)
	s.api(r)
	r.Handle("/", http.FileServerFS(mustSub(static, "static"))).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: s.conf.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
	})
	return c.Handler(r)
}

func (s *Server) api(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	api.HandleFunc("/state", s.stateHandler).Methods(http.MethodGet)
	api.HandleFunc("/actions/{kind}", s.actionHandler).Methods(http.MethodPost)
	api.HandleFunc("/undo", s.undoHandler).Methods(http.MethodPost)
	api.HandleFunc("/cameras", s.camerasHandler).Methods(http.MethodGet)
	api.Handle("/filter",
		RequestSizeLimitMiddleware(FilterMaxBodySize)(http.HandlerFunc(s.filterHandler)),
	).Methods(http.MethodPut)
	api.HandleFunc("/assets/{id}/{size}", s.contentHandler).Methods(http.MethodGet)
}
