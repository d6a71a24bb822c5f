package dispatch

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kimahriman/spark-connect-proxy/internal/session"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body) //nolint:errcheck
}

// restRouter builds the control-plane mux described in spec.md §4.3's routing table, using
// net/http's method+pattern ServeMux exactly as the teacher's server.go wires its own REST
// surface (chi is only an indirect transitive dependency in the teacher's go.mod, never
// called from its own code, so adopting it here would not be grounded).
func (e *Engine) restRouter() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /sessions", userAuth(e.identify, http.HandlerFunc(e.handleListSessions)))
	mux.Handle("POST /sessions", userAuth(e.identify, http.HandlerFunc(e.handleCreateSession)))
	mux.Handle("GET /sessions/{id}", userAuth(e.identify, http.HandlerFunc(e.handleGetSession)))
	mux.Handle("DELETE /sessions/{id}", userAuth(e.identify, http.HandlerFunc(e.handleDeleteSession)))
	mux.Handle("GET /versions", userAuth(e.identify, http.HandlerFunc(e.handleListVersions)))
	mux.Handle("POST /callback", tokenAuth(http.HandlerFunc(e.handleCallback)))

	return mux
}

type sessionDTO struct {
	Addr  *string `json:"addr,omitempty"`
	Token string  `json:"token"`
	ID    uint64  `json:"id"`
}

func toDTO(s session.Session) sessionDTO {
	return sessionDTO{ID: s.ID, Token: s.Token, Addr: s.Addr}
}

func (e *Engine) handleListSessions(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	sessions := e.store.ListSessions(user)
	dtos := make([]sessionDTO, len(sessions))

	for i, s := range sessions {
		dtos[i] = toDTO(s)
	}

	writeJSON(w, http.StatusOK, dtos)
}

type createSessionRequest struct {
	Version *string           `json:"version,omitempty"`
	Config  map[string]string `json:"config,omitempty"`
}

type createSessionResponse struct {
	Token string `json:"token"`
}

// handleCreateSession implements spec.md §4.4: authenticate, mint a token, create the session
// row, launch the backend, and return the token. A launch failure surfaces as 500 but leaves
// the orphaned session row in place, per spec.md §9's open question (not rolled back).
func (e *Engine) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	var req createSessionRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "malformed request body", http.StatusBadRequest)

			return
		}
	}

	token := uuid.NewString()
	e.store.CreateSession(user, token)
	e.metrics.SessionsTotal.Inc()

	versionName := ""
	if req.Version != nil {
		versionName = *req.Version
	}

	if err := e.launcher.Launch(versionName, user, token, req.Config); err != nil {
		e.logger.Error("failed to launch backend", zap.String("user", user), zap.Error(err))
		http.Error(w, "failed to launch backend", http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusOK, createSessionResponse{Token: token})
}

func parseSessionID(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)

	return id, err == nil
}

func (e *Engine) handleGetSession(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	id, ok := parseSessionID(r)
	if !ok {
		http.Error(w, "invalid session id", http.StatusBadRequest)

		return
	}

	s, ok := e.store.GetSession(user, id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)

		return
	}

	writeJSON(w, http.StatusOK, toDTO(s))
}

func (e *Engine) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	id, ok := parseSessionID(r)
	if !ok {
		http.Error(w, "invalid session id", http.StatusBadRequest)

		return
	}

	e.store.DeleteSession(user, id)
	w.WriteHeader(http.StatusOK)
}

func (e *Engine) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, _ := e.versionsCache.GetOrUpdate(func() ([]string, error) {
		return e.launcher.Versions(), nil
	})

	writeJSON(w, http.StatusOK, versions)
}

type callbackRequest struct {
	Address string `json:"address"`
}

// handleCallback implements spec.md §4.5: trust the bearer token as the security boundary,
// record the backend's address, and return an empty 200.
func (e *Engine) handleCallback(w http.ResponseWriter, r *http.Request) {
	token, _ := tokenFromContext(r.Context())

	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)

		return
	}

	e.logger.Debug("got callback", zap.String("token", token), zap.String("address", req.Address))

	e.store.SetSessionAddr(token, req.Address)
	w.WriteHeader(http.StatusOK)
}
