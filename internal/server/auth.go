package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/personaplex/voicegate/internal/domain"
	"github.com/personaplex/voicegate/internal/keys"
)

// keyRecordFromContext returns the verified key record for an authenticated
// request, or nil outside the authenticated group.
func keyRecordFromContext(ctx context.Context) *keys.Record {
	if rec, ok := ctx.Value(apiKeyRecKey).(*keys.Record); ok {
		return rec
	}
	return nil
}

// presentedKey extracts the API key from the X-API-Key header, falling back
// to the api_key query parameter for WebSocket clients that cannot set
// headers.
func presentedKey(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k
	}
	return r.URL.Query().Get("api_key")
}

// AuthMiddleware verifies the presented API key against the registry and
// stores the key record in the request context.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := presentedKey(r)
		if presented == "" {
			writeError(w, s.logger, domain.ErrUnauthorized())
			return
		}

		rec, err := s.registry.Verify(r.Context(), presented)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}

		ctx := context.WithValue(r.Context(), apiKeyRecKey, rec)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RateLimitMiddleware spends one token from the key's bucket per request.
// Must run after AuthMiddleware.
func (s *Server) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := keyRecordFromContext(r.Context())
		if rec == nil {
			writeError(w, s.logger, domain.ErrUnauthorized())
			return
		}

		d := s.limiter.Allow(rec.ID, rec.RateLimitRPM)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			writeError(w, s.logger, domain.ErrRateLimited(d.RetryAfter))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// AdminAuthMiddleware gates the admin surface behind the shared admin
// secret, compared in constant time over digests so length is not leaked.
func (s *Server) AdminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := r.Header.Get("X-Admin-Secret")
		if s.adminSecret == "" || presented == "" {
			writeError(w, s.logger, domain.ErrUnauthorized())
			return
		}

		want := sha256.Sum256([]byte(s.adminSecret))
		got := sha256.Sum256([]byte(presented))
		if subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
			writeError(w, s.logger, domain.ErrUnauthorized())
			return
		}

		next.ServeHTTP(w, r)
	})
}
