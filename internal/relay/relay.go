// Package relay pairs one client WebSocket with one backend session and
// moves audio and text in both directions until either side ends, then
// coordinates teardown so no session outlives both its endpoints.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/personaplex/voicegate/internal/backend"
	"github.com/personaplex/voicegate/internal/domain"
)

const (
	// openingQueue is how many client chunks may queue while the backend
	// session is still being established. When full, the client reader
	// stalls (backpressure); nothing is dropped.
	openingQueue = 4

	// defaultGrace is how long the surviving direction may flush after the
	// other one ends.
	defaultGrace = 3 * time.Second
)

// ClientConn is the caller-facing transport. *websocket.Conn satisfies it.
type ClientConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Relay runs streaming sessions against the backend connector.
type Relay struct {
	connector *backend.Connector
	grace     time.Duration
	logger    *slog.Logger
}

// New creates a relay. grace <= 0 selects the default flush grace period.
func New(connector *backend.Connector, grace time.Duration, logger *slog.Logger) *Relay {
	if grace <= 0 {
		grace = defaultGrace
	}
	return &Relay{connector: connector, grace: grace, logger: logger}
}

// clientFrame is one inbound client message with its frame type preserved.
type clientFrame struct {
	text bool
	data []byte
}

// session is the per-call state. Never shared across requests.
type session struct {
	id    string
	state atomic.Int32
}

func (s *session) transition(to domain.SessionState) {
	s.state.Store(int32(to))
}

// Run relays between client and a fresh backend session until either side
// ends, the context is cancelled, or an unrecoverable error occurs. It
// always releases both transports before returning.
func (r *Relay) Run(ctx context.Context, client ClientConn) error {
	sess := &session{id: uuid.New().String()[:8]}
	logger := r.logger.With(slog.String("session_id", sess.id))
	logger.Info("streaming session started")

	// Client chunks received before the backend is ready queue here,
	// bounded; the reader below stalls once it fills.
	clientChunks := make(chan clientFrame, openingQueue)
	go func() {
		defer close(clientChunks)
		for {
			msgType, data, err := client.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
				continue
			}
			clientChunks <- clientFrame{text: msgType == websocket.TextMessage, data: data}
		}
	}()

	sess.transition(domain.SessionOpening)
	handle, err := r.connector.Open(ctx)
	if err != nil {
		closeClient(client, websocket.CloseTryAgainLater, "backend unreachable")
		client.Close()
		drain(clientChunks)
		sess.transition(domain.SessionClosed)
		logger.Error("streaming session failed to open", slog.String("error", err.Error()))
		return err
	}

	sess.transition(domain.SessionActive)

	// Client -> backend.
	toBackendDone := make(chan error, 1)
	go func() {
		for frame := range clientChunks {
			var err error
			if frame.text {
				err = handle.SendText(ctx, string(frame.data))
			} else {
				err = handle.Send(ctx, frame.data)
			}
			if err != nil {
				toBackendDone <- err
				return
			}
		}
		// Client ended; a nil result distinguishes disconnect from error.
		toBackendDone <- nil
	}()

	// Backend -> client.
	toClientDone := make(chan error, 1)
	go func() {
		for unit := range handle.Receive() {
			msgType, data := websocket.BinaryMessage, unit.Audio
			if unit.IsText() {
				msgType, data = websocket.TextMessage, []byte(unit.Text)
			}
			if err := client.WriteMessage(msgType, data); err != nil {
				toClientDone <- fmt.Errorf("client write: %w", err)
				return
			}
		}
		toClientDone <- handle.Err()
	}()

	// Supervise: the first direction to finish moves the session to
	// Draining; the other gets the grace period to flush.
	var firstErr, lateErr error
	var pending chan error

	select {
	case firstErr = <-toBackendDone:
		pending = toClientDone
	case firstErr = <-toClientDone:
		pending = toBackendDone
	case <-ctx.Done():
		firstErr = ctx.Err()
	}

	sess.transition(domain.SessionDraining)

	if pending != nil {
		graceTimer := time.NewTimer(r.grace)
		select {
		case lateErr = <-pending:
			graceTimer.Stop()
		case <-graceTimer.C:
		}
	}

	// Force teardown of whatever is still open; this also unblocks any pump
	// still waiting on I/O.
	handle.Close()
	if backendFailed(firstErr) || backendFailed(lateErr) {
		closeClient(client, websocket.CloseInternalServerErr, "backend error")
	} else {
		closeClient(client, websocket.CloseNormalClosure, "")
	}
	client.Close()
	drain(clientChunks)

	if pending != nil && lateErr == nil {
		// Collect the forced pump exit so nothing leaks.
		select {
		case lateErr = <-pending:
		case <-time.After(r.grace):
		}
	}

	sess.transition(domain.SessionClosed)

	err = firstOf(firstErr, lateErr)
	if err != nil {
		logger.Info("streaming session ended", slog.String("error", err.Error()))
	} else {
		logger.Info("streaming session ended")
	}
	return err
}

// backendFailed reports whether err is a backend-side failure that the
// client should learn about through its close reason.
func backendFailed(err error) bool {
	if err == nil {
		return false
	}
	apiErr, ok := err.(*domain.APIError)
	return ok && (apiErr.Type == domain.ErrorTypeBackendError || apiErr.Type == domain.ErrorTypeBackendUnreachable)
}

func firstOf(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// drain consumes leftover queued chunks in the background so the client
// reader can observe the closed transport and exit.
func drain(chunks <-chan clientFrame) {
	go func() {
		for range chunks {
		}
	}()
}

func closeClient(client ClientConn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = client.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
}
