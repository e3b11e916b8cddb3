package directory

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/roach88/reconcilor/internal/engine"
)

// NewHandler serves m through the provider API.
func NewHandler(m *Memory) http.Handler {
	s := &server{m: m}

	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleList)
			r.Post("/", s.handleCreate)
			r.Delete("/", s.handleDestroy)
			r.Post("/remove", s.handleRemove)
			r.Post("/{index}/token", s.handleAuthToken)
		})
		r.Post("/token", s.handleMint)
		r.Get("/userinfo", s.handleUserInfo)
	})
	return r
}

// NewServer returns an HTTP server for m on addr that accepts both HTTP/1.1
// and cleartext HTTP/2.
func NewServer(addr string, m *Memory) *http.Server {
	h2s := &http2.Server{}
	return &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(NewHandler(m), h2s),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

type server struct {
	m *Memory
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.m.ListSessions(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, sessionsResponse{Sessions: sessions})
}

func (s *server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	if err := s.m.CreateSession(r.Context(), req.ID); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	if err := s.m.DestroyAllSessions(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleRemove(w http.ResponseWriter, r *http.Request) {
	var req removeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.m.RemoveSession(r.Context(), req.ID, req.Remaining); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		http.Error(w, "invalid session index", http.StatusBadRequest)
		return
	}
	token, err := s.m.FetchAuthToken(r.Context(), index)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, authTokenResponse{Token: token})
}

func (s *server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if !decodeBody(w, r, &req) {
		return
	}
	token, err := s.m.MintAccessToken(r.Context(), req.RefreshToken, req.Scope)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, mintResponse{AccessToken: token})
}

func (s *server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		respondError(w, engine.ErrUnauthorized)
		return
	}
	id, err := s.m.UserID(r.Context(), token)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, userInfoResponse{ID: id})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, engine.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}
