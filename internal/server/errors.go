package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/personaplex/voicegate/internal/domain"
)

type errorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// writeError renders any error as the JSON error envelope. Unrecognized
// errors become internal_error without leaking their message.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		logger.Error("unhandled error", slog.String("error", err.Error()))
		apiErr = domain.ErrInternal("internal server error")
	}

	w.Header().Set("Content-Type", "application/json")
	if apiErr.Type == domain.ErrorTypeRateLimited && apiErr.RetryAfter > 0 {
		secs := int((apiErr.RetryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	w.WriteHeader(apiErr.HTTPStatusCode())

	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: errorBody{
		Type:    string(apiErr.Type),
		Message: apiErr.Message,
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
