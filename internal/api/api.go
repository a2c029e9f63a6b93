// Package api exposes the tracker actions over HTTP. Every request names one
// action, via ?action= or the URL path, and is answered with JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/antigravity-dev/tracker/internal/config"
	"github.com/antigravity-dev/tracker/internal/tracker"
)

// DefaultAction is served when a request names none.
const DefaultAction = "table"

// Getter is an action that answers GET requests.
type Getter interface {
	Get(w http.ResponseWriter, r *http.Request)
}

// Poster is an action that answers POST requests.
type Poster interface {
	Post(w http.ResponseWriter, r *http.Request)
}

// Server is the HTTP API server.
type Server struct {
	cfgMgr         config.ConfigManager
	engine         *tracker.Engine
	importer       *tracker.Importer
	logger         *slog.Logger
	startTime      time.Time
	httpServer     *http.Server
	authMiddleware *AuthMiddleware
	actions        map[string]any
}

// NewServer creates a new API server. Settings are read from cfgMgr as
// requests arrive; api.bind is read once by Start.
func NewServer(cfgMgr config.ConfigManager, engine *tracker.Engine, importer *tracker.Importer, logger *slog.Logger) (*Server, error) {
	authMiddleware, err := NewAuthMiddleware(cfgMgr, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize auth middleware: %w", err)
	}

	s := &Server{
		cfgMgr:         cfgMgr,
		engine:         engine,
		importer:       importer,
		logger:         logger.With("component", "api"),
		startTime:      time.Now(),
		authMiddleware: authMiddleware,
	}
	s.actions = map[string]any{
		"submit":      submitAction{s},
		"edit":        editAction{s},
		"view":        viewAction{s},
		"comment":     commentAction{s},
		"list":        listAction{s},
		"table":       tableAction{s},
		"export":      exportAction{s},
		"import":      importAction{s},
		"import-one":  importOneAction{s},
		"fixpriority": fixPriorityAction{s},
	}
	return s, nil
}

// Close closes the server and cleans up resources
func (s *Server) Close() error {
	if s.authMiddleware != nil {
		return s.authMiddleware.Close()
	}
	return nil
}

// Actions lists the registered action names, sorted.
func (s *Server) Actions() []string {
	names := make([]string, 0, len(s.actions))
	for name := range s.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.authMiddleware.RequireAuth(s.handleAction))
	return mux
}

// Start begins listening on the configured bind address. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	bind := s.cfgMgr.Get().API.Bind
	s.httpServer = &http.Server{
		Addr:        bind,
		Handler:     s.Handler(),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "bind", bind)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// actionName reads the action from ?action=, then from the path.
func actionName(r *http.Request) string {
	if name := strings.TrimSpace(r.URL.Query().Get("action")); name != "" {
		return name
	}
	if name := strings.Trim(r.URL.Path, "/"); name != "" {
		return name
	}
	return DefaultAction
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	name := actionName(r)
	action, ok := s.actions[name]
	if !ok {
		s.logger.Debug("unknown action", "action", name)
		writeError(w, http.StatusNotFound, fmt.Sprintf("don't know how to handle action %q", name))
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		if g, ok := action.(Getter); ok {
			g.Get(w, r)
			return
		}
	case http.MethodPost:
		if p, ok := action.(Poster); ok {
			p.Post(w, r)
			return
		}
	}

	w.Header().Set("Allow", allowed(action))
	writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("action %q does not support %s", name, r.Method))
}

func allowed(action any) string {
	var methods []string
	if _, ok := action.(Getter); ok {
		methods = append(methods, http.MethodGet)
	}
	if _, ok := action.(Poster); ok {
		methods = append(methods, http.MethodPost)
	}
	return strings.Join(methods, ", ")
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := true
	resp := map[string]any{
		"uptime_s": time.Since(s.startTime).Seconds(),
		"actions":  s.Actions(),
	}
	if err := s.engine.Ping(); err != nil {
		healthy = false
		resp["error"] = err.Error()
	}
	resp["healthy"] = healthy

	if !healthy {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(resp)
		return
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSONStatus(w, code, map[string]string{"error": msg})
}

// writeTrackerError maps engine errors onto HTTP status codes.
func (s *Server) writeTrackerError(w http.ResponseWriter, action string, err error) {
	var ve *tracker.ValidationError
	var se *tracker.StoreError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tracker.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &se):
		s.logger.Error("store failure", "action", action, "error", err)
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		s.logger.Error("action failed", "action", action, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
