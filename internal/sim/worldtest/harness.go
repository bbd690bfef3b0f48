package worldtest

import (
	"encoding/json"
	"testing"

	"dynlight.ai/internal/persistence/snapshot"
	"dynlight.ai/internal/protocol"
	"dynlight.ai/internal/sim/catalogs"
	world "dynlight.ai/internal/sim/world"
)

// Harness is a small black-box test helper for driving a world via exported APIs:
// - Join() issues JoinRequest via StepOnce()
// - Step()/StepFor() issues ACT via StepOnce()
// - Per-player Out channels carry OBS JSON
// - Anchors records every anchor mutation the engine makes
//
// It intentionally avoids touching world internals so tests can live outside the world package.
type Harness struct {
	T       *testing.T
	Cats    *catalogs.Catalogs
	W       *world.World
	Anchors *AnchorRecorder

	DefaultPlayerID string

	sessions map[string]*session
}

func NewHarness(t *testing.T, cfg world.WorldConfig, cats *catalogs.Catalogs, playerName string) *Harness {
	t.Helper()

	w, err := world.New(cfg, cats)
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	return NewHarnessWithWorld(t, w, cats, playerName)
}

// NewHarnessWithWorld is like NewHarness, but uses an already-constructed world instance.
// This is useful for snapshot round-trip tests where the snapshot is imported before join.
// An empty playerName joins nobody.
func NewHarnessWithWorld(t *testing.T, w *world.World, cats *catalogs.Catalogs, playerName string) *Harness {
	t.Helper()
	if w == nil {
		t.Fatalf("NewHarnessWithWorld: nil world")
	}

	h := &Harness{
		T:        t,
		Cats:     cats,
		W:        w,
		Anchors:  &AnchorRecorder{},
		sessions: map[string]*session{},
	}
	w.SetAnchorLogger(h.Anchors)
	if playerName != "" {
		h.DefaultPlayerID = h.Join(playerName)
	}
	return h
}

type session struct {
	PlayerID string
	Out      chan []byte
	lastObs  protocol.ObsMsg
}

func (h *Harness) Join(playerName string) string {
	h.T.Helper()

	out := make(chan []byte, 16)
	resp := make(chan world.JoinResponse, 1)
	h.W.StepOnce([]world.JoinRequest{{
		Name: playerName,
		Out:  out,
		Resp: resp,
	}}, nil, nil)
	jr := <-resp
	if jr.Welcome.PlayerID == "" {
		h.T.Fatalf("join returned empty player id")
	}
	s := &session{PlayerID: jr.Welcome.PlayerID, Out: out}
	h.sessions[s.PlayerID] = s
	h.drainAllObs()
	return s.PlayerID
}

// Leave disconnects a player in the next step.
func (h *Harness) Leave(playerID string) {
	h.T.Helper()
	h.W.StepOnce(nil, []string{playerID}, nil)
	delete(h.sessions, playerID)
	h.drainAllObs()
}

func (h *Harness) LastObs() protocol.ObsMsg {
	return h.LastObsFor(h.DefaultPlayerID)
}

func (h *Harness) LastObsFor(playerID string) protocol.ObsMsg {
	h.T.Helper()
	s := h.sessions[playerID]
	if s == nil {
		h.T.Fatalf("unknown player id: %q", playerID)
	}
	return s.lastObs
}

func (h *Harness) Step(instants ...protocol.InstantReq) protocol.ObsMsg {
	return h.StepFor(h.DefaultPlayerID, instants...)
}

func (h *Harness) StepFor(playerID string, instants ...protocol.InstantReq) protocol.ObsMsg {
	h.T.Helper()
	act := protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Tick:            h.W.CurrentTick(),
		PlayerID:        playerID,
		Instants:        instants,
	}
	h.W.StepOnce(nil, nil, []world.ActionEnvelope{{
		PlayerID: playerID,
		Act:      act,
	}})
	h.drainAllObs()
	return h.LastObsFor(playerID)
}

func (h *Harness) StepMulti(actions []world.ActionEnvelope) {
	h.T.Helper()
	h.W.StepOnce(nil, nil, actions)
	h.drainAllObs()
}

// StepNoop runs n steps without actions.
func (h *Harness) StepNoop(n int) {
	h.T.Helper()
	for i := 0; i < n; i++ {
		h.W.StepOnce(nil, nil, nil)
	}
	h.drainAllObs()
}

func (h *Harness) Snapshot() (tick uint64, snap snapshot.SnapshotV1) {
	h.T.Helper()
	// Keep tick stable: export at currentTick-1 then import would restore to currentTick.
	cur := h.W.CurrentTick()
	if cur == 0 {
		return 0, h.W.ExportSnapshot(0)
	}
	tick = cur - 1
	return tick, h.W.ExportSnapshot(tick)
}

func (h *Harness) drainAllObs() {
	h.T.Helper()
	for _, s := range h.sessions {
		h.drainOneObs(s)
	}
}

func (h *Harness) drainOneObs(s *session) {
	h.T.Helper()
	var last []byte
	for {
		select {
		case b := <-s.Out:
			last = b
			continue
		default:
		}
		break
	}
	if len(last) == 0 {
		return
	}
	var obs protocol.ObsMsg
	if err := json.Unmarshal(last, &obs); err != nil {
		h.T.Fatalf("unmarshal OBS: %v", err)
	}
	s.lastObs = obs
}

// AnchorRecorder is an in-memory world.AnchorLogger.
type AnchorRecorder struct {
	Entries []world.AnchorLogEntry
}

func (r *AnchorRecorder) WriteAnchor(e world.AnchorLogEntry) error {
	r.Entries = append(r.Entries, e)
	return nil
}

// For returns the entries of one subject, in order.
func (r *AnchorRecorder) For(subject string) []world.AnchorLogEntry {
	var out []world.AnchorLogEntry
	for _, e := range r.Entries {
		if e.Subject == subject {
			out = append(out, e)
		}
	}
	return out
}
