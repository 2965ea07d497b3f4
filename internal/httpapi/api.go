// Package httpapi exposes the session-management HTTP surface: room
// creation and inspection. The delta-sync protocol itself runs over
// the websocket endpoint mounted at the root path.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/pokesync/supersync/internal/session"
	"github.com/pokesync/supersync/internal/store"
)

const greeting = "This is Super Sync."

// API wires the HTTP routes for session management.
type API struct {
	registry *session.Registry
	store    *store.Store
	ws       http.Handler
	logger   *zap.Logger
}

// New creates the HTTP API.
//
// Precondition: registry, st, and logger must be non-nil; ws may be nil
// when no websocket endpoint is mounted (tests).
func New(registry *session.Registry, st *store.Store, ws http.Handler, logger *zap.Logger) *API {
	return &API{registry: registry, store: st, ws: ws, logger: logger}
}

// Router builds the route table with permissive CORS, matching the
// original server's open cross-origin policy for browser extensions.
func (a *API) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", a.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/session/new", a.handleNewSession).Methods(http.MethodGet)
	r.HandleFunc("/session/room/{code}", a.handleRoom).Methods(http.MethodGet)
	return cors.AllowAll().Handler(r)
}

// handleRoot serves the greeting, or hands the request to the
// websocket endpoint when the client asks for an upgrade. The sync
// socket and the HTTP surface share the root path like the original.
func (a *API) handleRoot(w http.ResponseWriter, r *http.Request) {
	if a.ws != nil && websocket.IsWebSocketUpgrade(r) {
		a.ws.ServeHTTP(w, r)
		return
	}
	a.writeJSON(w, greeting)
}

// handleNewSession creates an empty session, persists its descriptor,
// and returns it.
func (a *API) handleNewSession(w http.ResponseWriter, r *http.Request) {
	s := a.registry.Create()
	snap := s.Snapshot()

	if err := a.store.Push("/rooms/"+s.ID(), snap); err != nil {
		// Persistence is advisory; the live session is already usable.
		a.logger.Warn("persisting room record failed",
			zap.String("session", s.ID()),
			zap.Error(err),
		)
	}

	a.writeJSON(w, snap)
}

// handleRoom returns the current session descriptor, or an empty body
// when no such session is live.
func (a *API) handleRoom(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	s, ok := a.registry.Get(code)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	a.writeJSON(w, s.Snapshot())
}

func (a *API) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("writing response failed", zap.Error(err))
	}
}
