package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/personaplex/voicegate/internal/domain"
	"github.com/personaplex/voicegate/internal/keys"
)

type generateKeyRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	RateLimitRPM int    `json:"rate_limit_rpm"`
}

type generateKeyResponse struct {
	// Key is the plaintext API key, returned exactly once.
	Key    string      `json:"key"`
	Record keys.Record `json:"record"`
}

func (s *Server) handleGenerateKey(w http.ResponseWriter, r *http.Request) {
	var req generateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, domain.ErrInvalidRequest("invalid JSON body"))
		return
	}
	if req.Name == "" {
		writeError(w, s.logger, domain.ErrInvalidRequest("name is required"))
		return
	}
	if req.RateLimitRPM < 0 {
		writeError(w, s.logger, domain.ErrInvalidRequest("rate_limit_rpm must not be negative"))
		return
	}

	plaintext, rec, err := s.registry.Issue(r.Context(), req.Name, req.Description, req.RateLimitRPM)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, generateKeyResponse{
		Key:    plaintext,
		Record: rec.Public(),
	})
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	records, err := s.registry.List(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"keys": records})
}

func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.registry.Revoke(r.Context(), id); err != nil {
		writeError(w, s.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "revoked": true})
}
