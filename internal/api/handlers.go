package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/linkkeeper/internal/apperr"
	"github.com/starford/linkkeeper/internal/noteservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *noteservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *noteservice.Service) *Handler {
	return &Handler{svc: svc}
}

// noteRoute splits the wildcard after /api/notes/ into a note id and the
// trailing resource. Ids may contain slashes, raw or encoded as %2F.
func noteRoute(r *http.Request) (id, resource string) {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	i := strings.LastIndex(raw, "/")
	if i < 0 {
		return "", raw
	}
	id, resource = raw[:i], raw[i+1:]
	if decoded, err := url.PathUnescape(id); err == nil {
		id = decoded
	}
	return id, resource
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error, attrs ...any) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
	case errors.Is(err, apperr.ErrStoreUnavailable):
		slog.Error(op+" failed", append(attrs, slog.String("error", err.Error()))...)
		writeError(w, http.StatusServiceUnavailable, codeStoreUnavailable, "store unavailable")
	default:
		slog.Error(op+" failed", append(attrs, slog.String("error", err.Error()))...)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

// Run handles POST /api/run.
//
//	@Summary		Run link maintenance now
//	@Tags			maintenance
//	@Produce		json
//	@Success		200	{object}	RunResponse
//	@Failure		500	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/run [post]
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Run(r.Context())
	if err != nil {
		h.fail(w, "run", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// BrokenLinks handles GET /api/broken.
//
//	@Summary		List unresolved links
//	@Tags			links
//	@Produce		json
//	@Success		200	{object}	BrokenLinksResponse
//	@Security		BearerAuth
//	@Router			/broken [get]
func (h *Handler) BrokenLinks(w http.ResponseWriter, r *http.Request) {
	links, err := h.svc.BrokenLinks(r.Context())
	if err != nil {
		h.fail(w, "broken links", err)
		return
	}
	writeJSON(w, http.StatusOK, BrokenLinksResponse{Links: links, Total: len(links)})
}

// NoteResource handles GET /api/notes/{id}/links and GET /api/notes/{id}/backlinks.
//
//	@Summary		Outgoing links or backlinks of a note
//	@Tags			links
//	@Produce		json
//	@Param			id	path		string	true	"Note id"
//	@Success		200	{object}	NoteLinks
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id}/links [get]
//	@Router			/notes/{id}/backlinks [get]
func (h *Handler) NoteResource(w http.ResponseWriter, r *http.Request) {
	id, resource := noteRoute(r)
	if id == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "id is required")
		return
	}
	switch resource {
	case "links":
		links, err := h.svc.Outgoing(r.Context(), id)
		if err != nil {
			h.fail(w, "outgoing links", err, slog.String("id", id))
			return
		}
		writeJSON(w, http.StatusOK, links)
	case "backlinks":
		bl, err := h.svc.Backlinks(r.Context(), id)
		if err != nil {
			h.fail(w, "backlinks", err, slog.String("id", id))
			return
		}
		writeJSON(w, http.StatusOK, bl)
	default:
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
	}
}

// Titles handles GET /api/titles.
//
//	@Summary		Find notes by exact title
//	@Tags			links
//	@Produce		json
//	@Param			title	query		string	true	"Exact note title"
//	@Success		200		{object}	TitlesResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/titles [get]
func (h *Handler) Titles(w http.ResponseWriter, r *http.Request) {
	title := r.URL.Query().Get("title")
	if title == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "query parameter 'title' is required")
		return
	}
	notes, err := h.svc.Titled(r.Context(), title)
	if err != nil {
		h.fail(w, "titles", err, slog.String("title", title))
		return
	}
	writeJSON(w, http.StatusOK, TitlesResponse{Notes: notes, Ambiguous: len(notes) > 1})
}

// Status handles GET /api/status.
//
//	@Summary		Last committed run checkpoint
//	@Tags			maintenance
//	@Produce		json
//	@Success		200	{object}	Status
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context())
	if err != nil {
		h.fail(w, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
