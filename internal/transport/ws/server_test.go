package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"dynlight.ai/internal/metrics"
	"dynlight.ai/internal/protocol"
	"dynlight.ai/internal/sim/catalogs"
	"dynlight.ai/internal/sim/tuning"
	"dynlight.ai/internal/sim/world"
)

func startServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	cfg := world.ConfigFromTuning("ws-test", tuning.Defaults())
	cfg.LightIntervalTicks = 1
	w, err := world.New(cfg, cats)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	srv := httptest.NewServer(NewServer(w, nil, opts).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server) (*websocket.Conn, protocol.WelcomeMsg) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	hello := protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, PlayerName: "tester"}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("hello: %v", err)
	}
	var welcome protocol.WelcomeMsg
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&welcome); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	if welcome.Type != protocol.TypeWelcome || welcome.PlayerID == "" {
		t.Fatalf("welcome: %+v", welcome)
	}
	return conn, welcome
}

func sendAct(t *testing.T, conn *websocket.Conn, insts ...protocol.InstantReq) {
	t.Helper()
	act := protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: protocol.Version, Instants: insts}
	if err := conn.WriteJSON(act); err != nil {
		t.Fatalf("act: %v", err)
	}
}

// readUntil reads frames until match returns true or the deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, match func(typ string, raw []byte) bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		base, err := protocol.DecodeBase(raw)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if match(base.Type, raw) {
			return
		}
	}
}

func TestServer_HeldTorchShowsInObs(t *testing.T) {
	srv := startServer(t, Options{})
	conn, welcome := dial(t, srv)

	sendAct(t, conn, protocol.InstantReq{ID: "i1", Type: protocol.InstantSetHand, Hand: protocol.HandMain, Item: "TORCH"})
	readUntil(t, conn, func(typ string, raw []byte) bool {
		if typ != protocol.TypeObs {
			return false
		}
		var obs protocol.ObsMsg
		if err := json.Unmarshal(raw, &obs); err != nil {
			t.Fatalf("obs: %v", err)
		}
		for _, l := range obs.Lights {
			if l.Owner == welcome.PlayerID && l.Level == 14 {
				return true
			}
		}
		return false
	})
}

func TestServer_RateLimitAck(t *testing.T) {
	m := metrics.New()
	srv := startServer(t, Options{Metrics: m, ActsPerSecond: 0.001, ActBurst: 1})
	conn, _ := dial(t, srv)

	sendAct(t, conn, protocol.InstantReq{ID: "a1", Type: protocol.InstantSwapHands})
	sendAct(t, conn, protocol.InstantReq{ID: "a2", Type: protocol.InstantSwapHands})
	readUntil(t, conn, func(typ string, raw []byte) bool {
		if typ != protocol.TypeAck {
			return false
		}
		var ack protocol.AckMsg
		_ = json.Unmarshal(raw, &ack)
		if ack.AckFor != "a2" || ack.Code != protocol.ErrRateLimit || ack.Accepted {
			t.Fatalf("ack: %+v", ack)
		}
		return true
	})
	if got := testutil.ToFloat64(m.WSRejected.WithLabelValues("rate_limit")); got != 1 {
		t.Fatalf("rate_limit rejects=%v", got)
	}
	if got := testutil.ToFloat64(m.WSConnections); got != 1 {
		t.Fatalf("connections=%v", got)
	}
}

func TestServer_SchemaRejectsBadAct(t *testing.T) {
	schemas, err := protocol.CompileSchemas()
	if err != nil {
		t.Fatalf("schemas: %v", err)
	}
	srv := startServer(t, Options{Schemas: schemas})
	conn, _ := dial(t, srv)

	// MOVE without pos.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ACT","protocol_version":"1.0","instants":[{"id":"m1","type":"MOVE"}]}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, conn, func(typ string, raw []byte) bool {
		if typ != protocol.TypeAck {
			return false
		}
		var ack protocol.AckMsg
		_ = json.Unmarshal(raw, &ack)
		if ack.Code != protocol.ErrProtoBadRequest {
			t.Fatalf("ack: %+v", ack)
		}
		return true
	})
}

func TestServer_RejectsMissingHello(t *testing.T) {
	srv := startServer(t, Options{})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sendAct(t, conn)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("want policy close, got %v", err)
	}
}
