package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"dynlight.ai/internal/metrics"
	"dynlight.ai/internal/protocol"
	"dynlight.ai/internal/sim/world"
)

type Options struct {
	// Schemas validates inbound ACT messages when set.
	Schemas *protocol.Schemas
	Metrics *metrics.Metrics

	// ActsPerSecond <= 0 disables per-connection rate limiting.
	ActsPerSecond float64
	ActBurst      int
}

type Server struct {
	world *world.World
	log   *log.Logger
	opts  Options

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, logger *log.Logger, opts Options) *Server {
	if opts.ActBurst <= 0 {
		opts.ActBurst = 1
	}
	s := &Server{
		world: w,
		log:   logger,
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		playerID, out := s.handshake(conn)
		if playerID == "" {
			return
		}
		if m := s.opts.Metrics; m != nil {
			m.WSConnections.Inc()
			defer m.WSConnections.Dec()
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		var limiter *rate.Limiter
		if s.opts.ActsPerSecond > 0 {
			limiter = rate.NewLimiter(rate.Limit(s.opts.ActsPerSecond), s.opts.ActBurst)
		}

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				s.reject("decode")
				continue
			}
			if base.Type != protocol.TypeAct {
				continue
			}
			if s.opts.Schemas != nil {
				if err := s.opts.Schemas.Validate(protocol.TypeAct, msg); err != nil {
					s.reject("schema")
					s.ack(out, "", protocol.ErrProtoBadRequest, err.Error())
					continue
				}
			}
			var act protocol.ActMsg
			if err := json.Unmarshal(msg, &act); err != nil {
				s.reject("decode")
				continue
			}
			if act.ProtocolVersion != protocol.Version {
				s.ack(out, "", protocol.ErrProtoBadRequest, "bad protocol_version")
				continue
			}
			if limiter != nil && !limiter.Allow() {
				s.reject("rate_limit")
				for _, in := range act.Instants {
					s.ack(out, in.ID, protocol.ErrRateLimit, "too many actions")
				}
				continue
			}
			s.world.Inbox() <- world.ActionEnvelope{PlayerID: playerID, Act: act}
		}

		// Cleanup: the world drops the player's light right away.
		s.world.Leave() <- playerID
	}
}

func (s *Server) reject(reason string) {
	if m := s.opts.Metrics; m != nil {
		m.WSRejected.WithLabelValues(reason).Inc()
	}
}

// ack is queued on the session's outbound channel so the writer goroutine stays
// the only one touching the connection. It is dropped when the queue is full.
func (s *Server) ack(out chan []byte, ackFor, code, message string) {
	b, err := json.Marshal(protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          ackFor,
		Accepted:        false,
		Code:            code,
		Message:         message,
		ServerTick:      s.world.CurrentTick(),
	})
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
	}
}

func (s *Server) handshake(conn *websocket.Conn) (playerID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}
	out = make(chan []byte, maxQ)

	respCh := make(chan world.JoinResponse, 1)
	s.world.Join() <- world.JoinRequest{
		Name: hello.PlayerName,
		Out:  out,
		Resp: respCh,
	}
	resp := <-respCh

	if err := writeJSON(conn, resp.Welcome); err != nil {
		// The world already admitted the player.
		s.world.Leave() <- resp.Welcome.PlayerID
		return "", nil
	}
	if s.log != nil {
		s.log.Printf("player joined: id=%s name=%q", resp.Welcome.PlayerID, hello.PlayerName)
	}
	return resp.Welcome.PlayerID, out
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
