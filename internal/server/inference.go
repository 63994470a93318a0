package server

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/personaplex/voicegate/internal/batch"
	"github.com/personaplex/voicegate/internal/domain"
)

const (
	// maxUploadBytes caps the multipart body. 60s of 24kHz mono 16-bit
	// audio is under 3MB; 32MB leaves plenty of headroom.
	maxUploadBytes = 32 << 20

	transcriptHeaderLimit = 500
)

// handleInference accepts a multipart WAV upload, runs it through the batch
// pipeline, and responds with the assembled output WAV.
func (s *Server) handleInference(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, s.logger, domain.ErrInvalidRequest("expected multipart/form-data with an audio file"))
		return
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		writeError(w, s.logger, domain.ErrInvalidRequest("missing audio file field"))
		return
	}
	defer file.Close()

	upload, err := io.ReadAll(file)
	if err != nil {
		writeError(w, s.logger, domain.ErrInvalidRequest("failed to read audio upload"))
		return
	}

	params := batch.Params{
		Voice:   r.FormValue("voice"),
		Persona: r.FormValue("persona"),
	}

	result, err := s.pipeline.Process(r.Context(), upload, params)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	s.logger.Info("batch inference served",
		slog.String("request_id", RequestIDFromContext(r.Context())),
		slog.Int("output_bytes", len(result.WAV)),
		slog.Duration("duration", time.Since(start)),
	)

	if result.Transcript != "" {
		// Header values cannot carry newlines.
		clean := strings.NewReplacer("\r", " ", "\n", " ").Replace(result.Transcript)
		w.Header().Set("X-Transcript", truncate(clean, transcriptHeaderLimit))
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(result.WAV)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.WAV)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
