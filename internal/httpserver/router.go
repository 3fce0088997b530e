// Package httpserver assembles the HTTP surface: the websocket endpoint,
// session discovery, read-only room views and the static client.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"climbSync/internal/domain"
	"climbSync/internal/rooms"
)

type Sessions interface {
	Active() (rooms.ActiveSession, bool)
	Members(roomID string) []rooms.Member
	Queue(ctx context.Context, roomID string) (domain.QueueState, error)
}

type Options struct {
	PublicURL string
	StaticDir string
	WS        http.Handler
}

type handler struct {
	svc       Sessions
	publicURL string
}

func NewRouter(svc Sessions, opts Options) http.Handler {
	h := &handler{svc: svc, publicURL: strings.TrimRight(opts.PublicURL, "/")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(Logging)

	if opts.WS != nil {
		r.Get("/ws", opts.WS.ServeHTTP)
	}
	r.Get("/join", h.join)
	r.Get("/api/session/active", h.active)
	r.Route("/rooms/{id}", func(rr chi.Router) {
		rr.Get("/members", h.members)
		rr.Get("/queue", h.queue)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "timestamp": time.Now().UnixMilli()})
	})

	if opts.StaticDir != "" {
		files := http.FileServer(http.Dir(opts.StaticDir))
		r.Handle("/*", NeuterIndex(opts.StaticDir, files))
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json response failed", "err", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func toHTTP(err error) int {
	switch {
	case errors.Is(err, domain.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotRegistered), errors.Is(err, domain.ErrNotInRoom):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidOp), errors.Is(err, domain.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPersistenceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GET /join redirects a second device into the active session.
func (h *handler) join(w http.ResponseWriter, r *http.Request) {
	active, ok := h.svc.Active()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no active session"})
		return
	}
	host := r.Host
	if host == "" {
		host = "localhost:8080"
	}
	wsURL := "ws://" + host + "/ws"
	target := h.publicURL + active.BoardPath + "?daemonUrl=" + url.QueryEscape(wsURL)
	http.Redirect(w, r, target, http.StatusFound)
}

// GET /api/session/active
func (h *handler) active(w http.ResponseWriter, r *http.Request) {
	active, ok := h.svc.Active()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no active session"})
		return
	}
	writeJSON(w, http.StatusOK, active)
}

// GET /rooms/{id}/members
func (h *handler) members(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Members(chi.URLParam(r, "id")))
}

// GET /rooms/{id}/queue
func (h *handler) queue(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	st, err := h.svc.Queue(r.Context(), roomID)
	if err != nil {
		slog.Error("read queue failed", "room", roomID, "err", err)
		writeJSON(w, toHTTP(err), errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, st)
}
