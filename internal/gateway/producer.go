package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/haldvik/lookout/internal/logx"
	"github.com/haldvik/lookout/internal/protocol"
)

// producer is one connected client socket. All fields other than the channels
// are owned by the dispatch loop once the connection is registered.
type producer struct {
	id        string
	client    string
	sessionID string

	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newProducer(conn *websocket.Conn) *producer {
	return &producer{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

// enqueue offers b to the writer without blocking. A false return means the
// outbound buffer is saturated; messages for an already closed connection are
// silently discarded.
func (p *producer) enqueue(b []byte) bool {
	select {
	case <-p.closed:
		return true
	default:
	}
	select {
	case p.send <- b:
		return true
	default:
		return false
	}
}

func (p *producer) close() {
	p.closeOnce.Do(func() { close(p.closed) })
}

// handleWS upgrades the producer connection and pumps it. Exactly one producer
// may be attached at a time; a second connection is refused with a typed error
// before the socket closes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logx.Log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	// Frame envelopes exceed the library's modest default read limit.
	conn.SetReadLimit(16 << 20)
	p := newProducer(conn)

	accepted := make(chan bool, 1)
	s.post(func() {
		if s.producer != nil {
			accepted <- false
			return
		}
		s.producer = p
		accepted <- true
	})
	ctx := r.Context()
	if !<-accepted {
		b, _ := json.Marshal(protocol.NewError(protocol.CodeSingleClientOnly, "another client is already connected", ""))
		_ = conn.Write(ctx, websocket.MessageText, b)
		_ = conn.Close(websocket.StatusPolicyViolation, "single client only")
		return
	}
	logx.Log.Info().Str("client_id", p.id).Msg("producer connected")
	defer func() {
		p.close()
		s.post(func() { s.dropProducer(p) })
	}()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		for {
			select {
			case <-connCtx.Done():
				return
			case <-p.closed:
				cancel()
				return
			case b := <-p.send:
				if err := conn.Write(connCtx, websocket.MessageText, b); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for {
		typ, data, err := conn.Read(connCtx)
		if err != nil {
			logx.Log.Info().Str("client_id", p.id).Err(err).Msg("producer disconnected")
			return
		}
		switch typ {
		case websocket.MessageBinary:
			s.post(func() { s.handleFrame(p, data) })
		case websocket.MessageText:
			s.post(func() { s.handleText(p, data) })
		}
	}
}

// dropProducer clears all per-connection pipeline state. Runs on the loop.
func (s *Server) dropProducer(p *producer) {
	if s.producer != p {
		return
	}
	s.producer = nil
	n := s.routes.DeleteByOwner(p)
	s.captions.CancelPending()
	logx.Log.Info().Str("client_id", p.id).Int("routes_dropped", n).Msg("producer state cleared")
}
