// Package batch adapts a complete audio file into a synthetic real-time
// session against the backend protocol, collecting the streamed output into
// a single result file for callers who cannot hold a persistent connection.
package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/personaplex/voicegate/internal/audio"
	"github.com/personaplex/voicegate/internal/backend"
	"github.com/personaplex/voicegate/internal/domain"
)

// chunkSize is how much PCM goes into one backend frame: 100ms at 24kHz
// mono 16-bit. Batch submission ignores real time; chunks go out as fast as
// the backend drains them.
const chunkSize = 4800

// Params are the enumerated generation parameters a caller may set.
// Unknown multipart fields are rejected at the boundary, not passed through.
type Params struct {
	// Voice selects the backend voice profile. Empty means backend default.
	Voice string `json:"voice,omitempty"`

	// Persona is the text prompt defining the speaker role. Empty means
	// backend default.
	Persona string `json:"persona,omitempty"`
}

func (p Params) isZero() bool {
	return p.Voice == "" && p.Persona == ""
}

// Result is one completed batch inference.
type Result struct {
	// WAV is the fully assembled output waveform.
	WAV []byte

	// Transcript is the concatenated text output, secondary metadata.
	Transcript string
}

// Session is the slice of the backend handle the pipeline drives.
// *backend.Handle satisfies it.
type Session interface {
	Send(ctx context.Context, chunk []byte) error
	SendText(ctx context.Context, msg string) error
	Receive() <-chan backend.Unit
	Err() error
	Close()
}

// Opener opens backend sessions for the pipeline.
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

// connectorOpener adapts *backend.Connector to the Opener interface.
type connectorOpener struct {
	c *backend.Connector
}

func (o connectorOpener) Open(ctx context.Context) (Session, error) {
	h, err := o.c.Open(ctx)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Pipeline runs offline inference calls.
type Pipeline struct {
	opener     Opener
	sampleRate int
	timeout    time.Duration
	logger     *slog.Logger
}

// New creates a pipeline against connector. sampleRate is the PCM rate the
// backend requires; timeout bounds one whole Process call.
func New(connector *backend.Connector, sampleRate int, timeout time.Duration, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		opener:     connectorOpener{c: connector},
		sampleRate: sampleRate,
		timeout:    timeout,
		logger:     logger,
	}
}

// Process validates upload, drives one backend session with it, and returns
// the assembled output. It blocks until the result is complete or fails;
// a partial result is never returned as success. The backend handle is
// released on every path.
func (p *Pipeline) Process(ctx context.Context, upload []byte, params Params) (*Result, error) {
	// Validation happens before any backend resource is consumed.
	pcm, err := audio.DecodeWAV(upload, p.sampleRate)
	if err != nil {
		return nil, domain.ErrInvalidAudioFormat(err.Error())
	}

	start := time.Now()
	p.logger.Info("batch inference started",
		slog.Int("input_bytes", len(pcm.Data)),
		slog.Float64("input_seconds", pcm.Duration()))

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	sess, err := p.opener.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	// Collect concurrently with feeding; output can start before the last
	// input chunk is sent.
	var audioOut bytes.Buffer
	var transcript strings.Builder
	collectDone := make(chan struct{})
	go func() {
		defer close(collectDone)
		for unit := range sess.Receive() {
			if unit.IsText() {
				transcript.WriteString(unit.Text)
			} else {
				audioOut.Write(unit.Audio)
			}
		}
	}()

	if err := p.feed(ctx, sess, pcm.Data, params); err != nil {
		sess.Close()
		<-collectDone
		return nil, p.mapErr(ctx, err)
	}

	select {
	case <-collectDone:
	case <-ctx.Done():
		sess.Close()
		<-collectDone
		return nil, p.mapErr(ctx, ctx.Err())
	}

	if err := sess.Err(); err != nil {
		return nil, err
	}
	if audioOut.Len() == 0 {
		return nil, domain.ErrBackend("backend produced no audio")
	}

	p.logger.Info("batch inference complete",
		slog.Int("output_bytes", audioOut.Len()),
		slog.Duration("duration", time.Since(start)))

	return &Result{
		WAV:        audio.EncodeWAV(audio.PCM{SampleRate: p.sampleRate, Data: audioOut.Bytes()}),
		Transcript: transcript.String(),
	}, nil
}

// feed streams params and input audio into the session.
func (p *Pipeline) feed(ctx context.Context, sess Session, data []byte, params Params) error {
	if !params.isZero() {
		cfg, err := json.Marshal(params)
		if err != nil {
			return domain.ErrInternal(fmt.Sprintf("encoding params: %v", err))
		}
		if err := sess.SendText(ctx, string(cfg)); err != nil {
			return err
		}
	}

	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := sess.Send(ctx, data[off:end]); err != nil {
			return err
		}
	}
	return nil
}

// mapErr turns a deadline expiry into the Timeout taxonomy entry; other
// errors pass through.
func (p *Pipeline) mapErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.ErrTimeout("inference did not complete in time")
	}
	return err
}
