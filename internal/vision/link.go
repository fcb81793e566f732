// Package vision maintains the websocket link to the secondary vision
// service. The link reconnects with backoff for as long as the process runs;
// sends are best-effort and never block the caller.
package vision

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/haldvik/lookout/internal/logx"
)

var (
	// ErrNotConnected is returned by sends while the link is down.
	ErrNotConnected = errors.New("vision link not connected")
	// ErrSendBufferFull is returned when the outbound buffer is saturated.
	ErrSendBufferFull = errors.New("vision link send buffer full")
)

type outMsg struct {
	binary bool
	data   []byte
}

// Link is a reconnecting client connection to the vision service.
type Link struct {
	url       string
	onMessage func(data []byte)
	onState   func(connected bool)

	send      chan outMsg
	connected atomic.Bool
	warn      *logx.Limiter
}

// New creates a link. onMessage receives every inbound text message; onState
// is invoked on connect and disconnect. Both may be nil.
func New(url string, onMessage func([]byte), onState func(bool), warn *logx.Limiter) *Link {
	return &Link{
		url:       url,
		onMessage: onMessage,
		onState:   onState,
		send:      make(chan outMsg, 32),
		warn:      warn,
	}
}

// IsConnected reports current link state.
func (l *Link) IsConnected() bool { return l.connected.Load() }

// SendJSON enqueues a text message for delivery.
func (l *Link) SendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return l.enqueue(outMsg{data: b})
}

// SendBinary enqueues a binary frame envelope for delivery.
func (l *Link) SendBinary(data []byte) error {
	return l.enqueue(outMsg{binary: true, data: data})
}

func (l *Link) enqueue(m outMsg) error {
	if !l.connected.Load() {
		return ErrNotConnected
	}
	select {
	case l.send <- m:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Run dials and serves the link until ctx is done, reconnecting with backoff.
// The backoff resets after every successful connection.
func (l *Link) Run(ctx context.Context) error {
	attempt := 0
	for {
		connected, err := l.connectAndServe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			attempt = 0
		}
		delay := Delay(attempt)
		attempt++
		if l.warn.Allow("vision_link") {
			logx.Log.Warn().Dur("backoff", delay).Err(err).Msg("vision link down; retrying")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (l *Link) connectAndServe(ctx context.Context) (bool, error) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ws, _, err := websocket.Dial(connCtx, l.url, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = ws.Close(websocket.StatusInternalError, "closing")
	}()
	// Frames can exceed the library's modest default read limit.
	ws.SetReadLimit(16 << 20)

	logx.Log.Info().Str("url", l.url).Msg("vision link connected")
	l.connected.Store(true)
	if l.onState != nil {
		l.onState(true)
	}
	defer func() {
		l.connected.Store(false)
		if l.onState != nil {
			l.onState(false)
		}
	}()

	go func() {
		for {
			select {
			case <-connCtx.Done():
				return
			case m := <-l.send:
				typ := websocket.MessageText
				if m.binary {
					typ = websocket.MessageBinary
				}
				if err := ws.Write(connCtx, typ, m.data); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for {
		typ, data, err := ws.Read(connCtx)
		if err != nil {
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				logx.Log.Info().Str("reason", ce.Reason).Msg("vision link closed")
			}
			return true, err
		}
		if typ == websocket.MessageText && l.onMessage != nil {
			l.onMessage(data)
		}
	}
}
