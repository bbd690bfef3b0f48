package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"dynlight.ai/internal/protocol"
)

// The bot walks a square with a torch in hand and drops it every few laps, then
// picks a fresh one up. It exercises movement, drop and pickup lighting.
func main() {
	var (
		url       = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name      = flag.String("name", "bot", "player name")
		item      = flag.String("item", "TORCH", "item to carry")
		side      = flag.Int("side", 6, "side length of the walked square, in blocks")
		every     = flag.Uint64("every", 5, "act every n observed ticks")
		dropEvery = flag.Int("drop_every", 3, "drop the item after this many laps (0 never)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		PlayerName:      *name,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 8},
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	b := &bot{conn: conn, logger: logger, item: *item, side: *side, every: *every, dropEvery: *dropEvery}
	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			b.origin = w.Spawn
			logger.Printf("WELCOME player_id=%s tick_rate=%d light_interval=%d", w.PlayerID, w.WorldParams.TickRateHz, w.WorldParams.LightIntervalTicks)

		case protocol.TypeAck:
			var a protocol.AckMsg
			if err := json.Unmarshal(msg, &a); err == nil {
				logger.Printf("ACK for=%s code=%s %s", a.AckFor, a.Code, a.Message)
			}

		case protocol.TypeObs:
			var obs protocol.ObsMsg
			if err := json.Unmarshal(msg, &obs); err != nil {
				continue
			}
			b.handleObs(&obs)
		}
	}
}

type bot struct {
	conn   *websocket.Conn
	logger *log.Logger

	item      string
	side      int
	every     uint64
	dropEvery int

	origin [3]float64
	step   int
	laps   int
}

func (b *bot) send(tick uint64, insts ...protocol.InstantReq) {
	_ = b.conn.WriteJSON(protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Tick:            tick,
		Instants:        insts,
	})
}

func (b *bot) handleObs(obs *protocol.ObsMsg) {
	for _, ev := range obs.Events {
		if t, _ := ev["type"].(string); t == "PICKUP" || t == "CHEST_REFRESH" {
			b.logger.Printf("event %v", ev)
		}
	}
	if b.every == 0 || obs.Tick%b.every != 0 {
		return
	}

	if obs.Self.MainHand == "" {
		b.send(obs.Tick, protocol.InstantReq{ID: fmt.Sprintf("H%d", obs.Tick), Type: protocol.InstantSetHand, Hand: protocol.HandMain, Item: b.item})
		return
	}

	perim := 4 * b.side
	if b.side <= 0 {
		perim = 1
	}
	b.step = (b.step + 1) % perim
	if b.step == 0 {
		b.laps++
		if b.dropEvery > 0 && b.laps%b.dropEvery == 0 {
			b.logger.Printf("lap %d: dropping %s at %v (lights=%d)", b.laps, b.item, obs.Self.Block, len(obs.Lights))
			b.send(obs.Tick, protocol.InstantReq{ID: fmt.Sprintf("D%d", obs.Tick), Type: protocol.InstantDrop, Hand: protocol.HandMain})
			return
		}
	}

	dx, dz := squarePoint(b.step, b.side)
	pos := [3]float64{b.origin[0] + float64(dx), obs.Self.Pos[1], b.origin[2] + float64(dz)}
	b.send(obs.Tick, protocol.InstantReq{ID: fmt.Sprintf("M%d", obs.Tick), Type: protocol.InstantMove, Pos: &pos, Yaw: float64(b.step/max(b.side, 1)) * 90})
}

// squarePoint maps a step along the perimeter of a side x side square to an offset.
func squarePoint(step, side int) (int, int) {
	if side <= 0 {
		return 0, 0
	}
	switch {
	case step < side:
		return step, 0
	case step < 2*side:
		return side, step - side
	case step < 3*side:
		return 3*side - step, side
	default:
		return 0, 4*side - step
	}
}
