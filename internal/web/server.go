// Package web serves the status page, its JSON form, Prometheus metrics and
// a press endpoint that acknowledges an activity without its button.
package web

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/sweeney/fourbuttons/internal/activity"
	"github.com/sweeney/fourbuttons/internal/status"
)

// PressFunc delivers a virtual button press, reporting whether the activity
// exists and accepted it.
type PressFunc func(id activity.ID, at time.Time) bool

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	press      PressFunc
	now        func() time.Time
	log        *zap.SugaredLogger
}

// Options are the optional collaborators of a Server.
type Options struct {
	// Press enables POST /activities/{id}/press when set.
	Press PressFunc
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// AccessLog receives one line per request when set.
	AccessLog io.Writer
	Now       func() time.Time
}

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker, log *zap.SugaredLogger, opts Options) *Server {
	s := &Server{tracker: tracker, press: opts.Press, now: opts.Now, log: log}
	if s.now == nil {
		s.now = time.Now
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/activities/{id}", s.handleActivity).Methods(http.MethodGet)
	if s.press != nil {
		r.HandleFunc("/activities/{id}/press", s.handlePress).Methods(http.MethodPost)
	}
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}

	var h http.Handler = r
	if opts.AccessLog != nil {
		h = handlers.LoggingHandler(opts.AccessLog, r)
	}
	h = handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(h)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the root handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, s.tracker.Snapshot()); err != nil {
		s.log.Warnw("failed to render status page", "error", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.tracker.Snapshot()))
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	id := activity.ID(mux.Vars(r)["id"])
	a, ok := s.tracker.Activity(id)
	if !ok {
		http.Error(w, "unknown activity", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatActivityJSON(a))
}

func (s *Server) handlePress(w http.ResponseWriter, r *http.Request) {
	id := activity.ID(mux.Vars(r)["id"])
	if _, ok := s.tracker.Activity(id); !ok {
		http.Error(w, "unknown activity", http.StatusNotFound)
		return
	}
	at := s.now()
	if !s.press(id, at) {
		http.Error(w, "activity is not accepting presses", http.StatusServiceUnavailable)
		return
	}
	s.log.Infow("virtual button press", "activity", id, "remote", r.RemoteAddr)

	// Browsers posting the status page form get sent back to it.
	if r.Header.Get("Accept") == "application/json" {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
