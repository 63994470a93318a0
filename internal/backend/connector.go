// Package backend manages the WebSocket transport to the speech-to-speech
// inference backend. One Handle corresponds to exactly one backend session;
// the connector never retries on its own, retry policy belongs to callers.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/personaplex/voicegate/internal/domain"
)

const (
	// maxFrameSize bounds a single backend frame.
	maxFrameSize = 1 << 20

	// writeTimeout bounds one Send when the caller's context has no
	// deadline. A slow backend stalls the sender (backpressure) but never
	// indefinitely.
	writeTimeout = 30 * time.Second

	// receiveBuffer is the bounded in-flight window between the backend
	// reader and its consumer. When full, the reader stalls and TCP
	// backpressure reaches the backend.
	receiveBuffer = 16
)

// Unit is one output element of a backend session: either an audio chunk or
// a text/transcript fragment, never both.
type Unit struct {
	Audio []byte
	Text  string
}

// IsText reports whether the unit carries a transcript fragment.
func (u Unit) IsText() bool {
	return u.Audio == nil
}

// Connector dials backend sessions.
type Connector struct {
	url            string
	connectTimeout time.Duration
	logger         *slog.Logger
}

// NewConnector creates a connector for the backend at url.
func NewConnector(url string, connectTimeout time.Duration, logger *slog.Logger) *Connector {
	return &Connector{
		url:            url,
		connectTimeout: connectTimeout,
		logger:         logger,
	}
}

// Open establishes one backend session. It fails fast with
// domain.ErrBackendUnreachable rather than hanging on an unresponsive
// backend.
func (c *Connector) Open(ctx context.Context) (*Handle, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.connectTimeout}

	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return nil, domain.ErrBackendUnreachable(fmt.Sprintf("backend dial failed: %v", err))
	}
	conn.SetReadLimit(maxFrameSize)

	h := &Handle{
		conn:   conn,
		units:  make(chan Unit, receiveBuffer),
		done:   make(chan struct{}),
		logger: c.logger,
	}
	go h.readLoop()

	return h, nil
}

// Handle is one open backend session.
type Handle struct {
	conn   *websocket.Conn
	units  chan Unit
	done   chan struct{}
	logger *slog.Logger

	closeOnce   sync.Once
	localClosed atomic.Bool

	// readErr is set before units is closed, never after.
	readErr error
}

// Send forwards one audio chunk to the backend as a binary frame. It blocks
// while the backend is not draining (backpressure) up to the context
// deadline or writeTimeout, whichever is sooner.
func (h *Handle) Send(ctx context.Context, chunk []byte) error {
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := h.conn.SetWriteDeadline(deadline); err != nil {
		return domain.ErrBackend(fmt.Sprintf("backend write setup failed: %v", err))
	}
	if err := h.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		return domain.ErrBackend(fmt.Sprintf("backend write failed: %v", err))
	}
	return nil
}

// SendText forwards one text/control message to the backend, under the same
// backpressure rules as Send.
func (h *Handle) SendText(ctx context.Context, msg string) error {
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := h.conn.SetWriteDeadline(deadline); err != nil {
		return domain.ErrBackend(fmt.Sprintf("backend write setup failed: %v", err))
	}
	if err := h.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		return domain.ErrBackend(fmt.Sprintf("backend write failed: %v", err))
	}
	return nil
}

// Receive returns the session's output stream. The channel is closed on
// backend end-of-turn, backend error, or Close; after it closes, Err
// reports whether the stream ended cleanly.
func (h *Handle) Receive() <-chan Unit {
	return h.units
}

// Err reports how the receive stream ended. Nil means a clean end-of-turn
// (or a local Close). Only valid after Receive's channel is closed.
func (h *Handle) Err() error {
	return h.readErr
}

// Close tears down the backend transport. Idempotent.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.localClosed.Store(true)
		close(h.done)
		deadline := time.Now().Add(time.Second)
		_ = h.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = h.conn.Close()
	})
}

func (h *Handle) readLoop() {
	defer close(h.units)

	for {
		msgType, data, err := h.conn.ReadMessage()
		if err != nil {
			if h.localClosed.Load() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				// End of turn.
				return
			}
			h.readErr = domain.ErrBackend(fmt.Sprintf("backend read failed: %v", err))
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if !h.deliver(Unit{Audio: data}) {
				return
			}
		case websocket.TextMessage:
			if !h.deliver(Unit{Text: string(data)}) {
				return
			}
		default:
			// Control frames are handled by gorilla; anything else is noise.
			h.logger.Debug("ignoring backend frame", slog.Int("type", msgType))
		}
	}
}

// deliver hands one unit to the consumer, stalling for backpressure but
// giving up once the handle is closed. Reports false when delivery stopped.
func (h *Handle) deliver(u Unit) bool {
	select {
	case h.units <- u:
		return true
	case <-h.done:
		return false
	}
}
