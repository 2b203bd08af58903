package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/linkkeeper/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *noteservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Maintenance.
	r.Post("/run", h.Run)
	r.Get("/status", h.Status)

	// Link graph.
	r.Get("/broken", h.BrokenLinks)
	r.Get("/titles", h.Titles)
	r.Get("/notes/*", h.NoteResource)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
