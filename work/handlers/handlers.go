// Package handlers exposes the resolver and session registry over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"kmedia-resolver/work/livestream"
	"kmedia-resolver/work/logger"
	"kmedia-resolver/work/middleware"
	"kmedia-resolver/work/resolver"
	"kmedia-resolver/work/types"

	"github.com/gorilla/mux"
)

// Handler serves the playback-source API.
type Handler struct {
	resolver *resolver.Resolver
	sessions *livestream.Registry
}

// New builds the API handler set.
func New(res *resolver.Resolver, sessions *livestream.Registry) *Handler {
	return &Handler{resolver: res, sessions: sessions}
}

// RegisterRoutes mounts the API on the router. Source listings are the
// largest payloads and go out gzip-compressed.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/items/{item}/sources", middleware.Gzip(h.ResolveSources)).Methods(http.MethodGet)
	r.HandleFunc("/items/{item}/sources/{source}", middleware.Gzip(h.ResolveSource)).Methods(http.MethodGet)
	r.HandleFunc("/livestreams/open", h.OpenLiveStream).Methods(http.MethodPost)
	r.HandleFunc("/livestreams/{id}/mediainfo", middleware.Gzip(h.LiveStreamMediaInfo)).Methods(http.MethodGet)
	r.HandleFunc("/livestreams/{id}", h.CloseLiveStream).Methods(http.MethodDelete)
}

// ResolveSources handles GET /items/{item}/sources.
func (h *Handler) ResolveSources(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["item"]
	viewerID := r.URL.Query().Get("viewer")
	allowPathSub := r.URL.Query().Get("pathsub") == "true"

	sources, err := h.resolver.ResolvePlaybackSources(r.Context(), itemID, viewerID, allowPathSub)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

// ResolveSource handles GET /items/{item}/sources/{source}.
func (h *Handler) ResolveSource(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	viewerID := r.URL.Query().Get("viewer")
	liveStreamID := r.URL.Query().Get("livestream")
	allowPathSub := r.URL.Query().Get("pathsub") == "true"

	source, err := h.resolver.ResolveSingleSource(r.Context(), vars["item"], vars["source"], liveStreamID, viewerID, allowPathSub)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, source)
}

// OpenLiveStream handles POST /livestreams/open.
func (h *Handler) OpenLiveStream(w http.ResponseWriter, r *http.Request) {
	var req types.OpenLiveStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OpenToken == "" {
		http.Error(w, "openToken is required", http.StatusBadRequest)
		return
	}

	source, err := h.sessions.OpenLiveStream(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, source)
}

// LiveStreamMediaInfo handles GET /livestreams/{id}/mediainfo.
func (h *Handler) LiveStreamMediaInfo(w http.ResponseWriter, r *http.Request) {
	source, err := h.sessions.GetLiveStreamMediaInfo(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, source)
}

// CloseLiveStream handles DELETE /livestreams/{id}. Closing is idempotent;
// unknown ids still return 204.
func (h *Handler) CloseLiveStream(w http.ResponseWriter, r *http.Request) {
	h.sessions.CloseLiveStream(r.Context(), mux.Vars(r)["id"])
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("{handlers - writeJSON} encode response: %v", err)
	}
}

// writeError maps the error taxonomy onto HTTP status codes: unknown ids are
// 404, malformed requests 400, provider misbehavior 502, everything else 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var provErr *types.ProviderError

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrInvalidProviderResponse), errors.As(err, &provErr):
		status = http.StatusBadGateway
	}

	// The full chain goes to the log only. Upstream causes can carry raw
	// provider detail, credentialed URLs included, that must not reach the
	// client.
	message := err.Error()
	switch {
	case provErr != nil:
		message = provErr.Message()
	case status == http.StatusBadGateway:
		message = types.ErrInvalidProviderResponse.Error()
	case status == http.StatusInternalServerError:
		message = "internal server error"
	}

	if status == http.StatusInternalServerError {
		logger.Error("{handlers - writeError} %s %s: %v", r.Method, r.URL.Path, err)
	} else {
		logger.Debug("{handlers - writeError} %s %s: %d %v", r.Method, r.URL.Path, status, err)
	}
	http.Error(w, message, status)
}
