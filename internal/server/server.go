// Package server is the HTTP boundary of the wiki core. It owns route
// layout, identity extraction, and the single translation from error kinds
// to status codes; no handler writes a status by hand.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/beaglenote/wikidex/internal/activity"
	"github.com/beaglenote/wikidex/internal/aicontext"
	"github.com/beaglenote/wikidex/internal/config"
	"github.com/beaglenote/wikidex/internal/coordinator"
	"github.com/beaglenote/wikidex/internal/debug"
	"github.com/beaglenote/wikidex/internal/errors"
	"github.com/beaglenote/wikidex/internal/search"
	"github.com/beaglenote/wikidex/internal/suggest"
)

// userHeader carries the identity resolved by the upstream proxy. The core
// trusts it; there is no credential checking here.
const userHeader = "X-User-Id"

type ctxKey int

const userKey ctxKey = 0

// Server hosts the wiki API.
type Server struct {
	cfg       *config.Config
	coord     *coordinator.Coordinator
	engine    *search.Engine
	suggester *suggest.Suggester
	users     *activity.Store
	generator *aicontext.Generator

	http *http.Server
}

// New assembles the server and its router.
func New(cfg *config.Config, coord *coordinator.Coordinator, engine *search.Engine, suggester *suggest.Suggester, users *activity.Store, generator *aicontext.Generator) *Server {
	s := &Server{
		cfg:       cfg,
		coord:     coord,
		engine:    engine,
		suggester: suggester,
		users:     users,
		generator: generator,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(identity)

	r.Get("/healthz", s.handleHealthz)

	r.Route(cfg.Server.APIPrefix, func(r chi.Router) {
		r.Route("/search", func(r chi.Router) {
			r.Get("/", s.handleSearch)
			r.Get("/suggestions", s.handleSuggestions)
			r.Get("/stats", s.handleStats)
			r.Post("/rebuild", s.handleRebuild)
		})

		r.Route("/spaces", func(r chi.Router) {
			r.Get("/", s.handleListSpaces)
			r.Post("/", s.handleCreateSpace)
			r.Route("/{spaceID}", func(r chi.Router) {
				r.Get("/", s.handleGetSpace)
				r.Put("/", s.handleUpdateSpace)
				r.Delete("/", s.handleDeleteSpace)
				r.Get("/folders", s.handleFolders)
				r.Get("/templates", s.handleTemplates)
				r.Post("/ai-context", s.handleAIContext)
			})
		})

		r.Get("/documents", s.handleReadDocument)

		r.Route("/user", func(r chi.Router) {
			r.Get("/activity", s.handleGetActivity)
			r.Post("/visit", s.handleVisit)
			r.Post("/star", s.handleStar)
			r.Get("/folder-view-preferences", s.handleGetFolderViews)
			r.Post("/folder-view-preference", s.handleSetFolderView)
		})

		r.Route("/settings/ai", func(r chi.Router) {
			r.Get("/", s.handleGetAISettings)
			r.Post("/", s.handleSetAISettings)
			r.Post("/test", s.handleTestAISettings)
		})
	})

	s.http = &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     r,
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
	}
	return s
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	debug.LogServer("listening on %s, api at %s", s.cfg.Server.Addr, s.cfg.Server.APIPrefix)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// identity copies the upstream-resolved user into the request context.
func identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(
			context.WithValue(r.Context(), userKey, r.Header.Get(userHeader))))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userKey).(string)
	return id
}

// writeJSON is the single success path.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v) //nolint:errcheck // headers already sent
	}
}

// writeError is the single kind-to-status translation point.
func writeError(w http.ResponseWriter, err error) {
	kind := errors.KindOf(err)
	if kind == errors.KindInternal {
		debug.LogServer("internal error: %v", err)
	}
	writeJSON(w, errors.HTTPStatus(kind), map[string]string{
		"error": errors.Safe(err),
		"kind":  string(kind),
	})
}

// decodeBody parses a JSON request body into v. An empty body leaves v at
// its zero value; field-level validation happens in the stores.
func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return errors.Validation("server.decode", "invalid request body")
	}
	return nil
}
