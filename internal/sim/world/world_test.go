package world

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"dynlight.ai/internal/lighting/engine"
	"dynlight.ai/internal/lighting/model"
	"dynlight.ai/internal/persistence/snapshot"
	"dynlight.ai/internal/protocol"
	"dynlight.ai/internal/sim/catalogs"
	"dynlight.ai/internal/sim/tuning"
)

type recordingToggles struct {
	calls map[string]bool
}

func (r *recordingToggles) SaveToggle(subject string, enabled bool, tick uint64) error {
	r.calls[subject] = enabled
	return nil
}

type countingAudit struct{ n int }

func (c *countingAudit) WriteAudit(AuditEntry) error { c.n++; return nil }

func newTestWorld(t *testing.T) *World {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	cfg := ConfigFromTuning("test", tuning.Defaults())
	cfg.LightIntervalTicks = 1
	cfg.PickupDelayTicks = 1000
	w, err := New(cfg, cats)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	return w
}

func join(t *testing.T, w *World, name string) (*Player, chan []byte) {
	t.Helper()
	out := make(chan []byte, 512)
	resp := make(chan JoinResponse, 1)
	w.stepInternal([]JoinRequest{{Name: name, Out: out, Resp: resp}}, nil, nil)
	r := <-resp
	id, err := uuid.Parse(r.Welcome.PlayerID)
	if err != nil {
		t.Fatalf("player id %q: %v", r.Welcome.PlayerID, err)
	}
	return w.players[id], out
}

func act(w *World, p *Player, insts ...protocol.InstantReq) {
	w.stepInternal(nil, nil, []ActionEnvelope{{
		PlayerID: p.ID.String(),
		Act:      protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: protocol.Version, Instants: insts},
	}})
}

func steps(w *World, n int) {
	for i := 0; i < n; i++ {
		w.stepInternal(nil, nil, nil)
	}
}

func setHand(item string) protocol.InstantReq {
	return protocol.InstantReq{ID: "h", Type: protocol.InstantSetHand, Hand: protocol.HandMain, Item: item}
}

func lightBlocks(w *World) []model.Vec3i {
	var out []model.Vec3i
	for _, p := range w.chunks.LightPositions() {
		if w.BlockKindAt(p) == model.BlockLight {
			out = append(out, p)
		}
	}
	return out
}

func drainEvents(out chan []byte) []protocol.Event {
	var evs []protocol.Event
	for {
		select {
		case b := <-out:
			var obs protocol.ObsMsg
			if err := json.Unmarshal(b, &obs); err == nil {
				evs = append(evs, obs.Events...)
			}
		default:
			return evs
		}
	}
}

func TestWorld_HeldTorchPlacesAnchor(t *testing.T) {
	w := newTestWorld(t)
	p, _ := join(t, w, "alice")
	if got := p.Pos.Block(); got != (model.Vec3i{X: 3, Y: 8, Z: 0}) {
		t.Fatalf("spawn block: got %v", got)
	}

	act(w, p, setHand("TORCH"))
	a, ok := w.Lights().AnchorOf(p.ID)
	if !ok {
		t.Fatalf("expected an anchor after the light tick")
	}
	if a.Pos != (model.Vec3i{X: 4, Y: 10, Z: 0}) || a.Level != 14 {
		t.Fatalf("anchor: got %+v", a)
	}
	if w.BlockKindAt(a.Pos) != model.BlockLight || w.chunks.LightLevel(a.Pos) != 14 {
		t.Fatalf("world block at anchor: %s level %d", w.BlockKindAt(a.Pos), w.chunks.LightLevel(a.Pos))
	}

	// Step into the next block: the light follows, and only one light exists.
	act(w, p, protocol.InstantReq{ID: "m", Type: protocol.InstantMove, Pos: &[3]float64{4.5, 8, 0.5}})
	a, _ = w.Lights().AnchorOf(p.ID)
	if a.Pos != (model.Vec3i{X: 5, Y: 10, Z: 0}) {
		t.Fatalf("anchor after move: got %v", a.Pos)
	}
	if n := len(lightBlocks(w)); n != 1 {
		t.Fatalf("light blocks: got %d want 1", n)
	}
}

func TestWorld_OffHandBrightestWins(t *testing.T) {
	w := newTestWorld(t)
	p, _ := join(t, w, "bob")
	act(w, p,
		setHand("REDSTONE_TORCH"),
		protocol.InstantReq{ID: "o", Type: protocol.InstantSetHand, Hand: protocol.HandOff, Item: "LANTERN"},
	)
	a, ok := w.Lights().AnchorOf(p.ID)
	if !ok || a.Level != 15 {
		t.Fatalf("anchor: got %+v ok=%v", a, ok)
	}

	act(w, p, protocol.InstantReq{ID: "s", Type: protocol.InstantSwapHands})
	if p.MainHand != "LANTERN" || p.OffHand != "REDSTONE_TORCH" {
		t.Fatalf("swap: main=%s off=%s", p.MainHand, p.OffHand)
	}
	a, _ = w.Lights().AnchorOf(p.ID)
	if a.Level != 15 {
		t.Fatalf("level after swap: %d", a.Level)
	}
}

func TestWorld_DropHandsLightToItemAndPickupBack(t *testing.T) {
	w := newTestWorld(t)
	p, out := join(t, w, "carol")
	act(w, p, setHand("TORCH"))

	act(w, p, protocol.InstantReq{ID: "d", Type: protocol.InstantDrop, Hand: protocol.HandMain})
	if p.MainHand != "" {
		t.Fatalf("hand should be empty, got %q", p.MainHand)
	}
	if _, ok := w.Lights().AnchorOf(p.ID); ok {
		t.Fatalf("player anchor should be gone after dropping the torch")
	}
	if len(w.items) != 1 {
		t.Fatalf("items: got %d", len(w.items))
	}
	var it *ItemEntity
	for _, v := range w.items {
		it = v
	}

	// Let it land; the sweep moves the light along as it falls.
	steps(w, 5)
	if !it.Resting || it.Pos.Block() != (model.Vec3i{X: 3, Y: 8, Z: 1}) {
		t.Fatalf("item: resting=%v block=%v", it.Resting, it.Pos.Block())
	}
	a, ok := w.Lights().AnchorOf(it.ID)
	if !ok || a.Pos != (model.Vec3i{X: 3, Y: 9, Z: 1}) {
		t.Fatalf("item anchor: got %+v ok=%v", a, ok)
	}

	it.PickupAfterTick = 0
	steps(w, 1)
	if _, ok := w.items[it.ID]; ok {
		t.Fatalf("item should have been picked up")
	}
	if p.MainHand != "TORCH" {
		t.Fatalf("picked item should be in the main hand, got %q", p.MainHand)
	}
	if _, ok := w.Lights().AnchorOf(it.ID); ok {
		t.Fatalf("item anchor should be removed on pickup")
	}
	if _, ok := w.Lights().AnchorOf(p.ID); !ok {
		t.Fatalf("player should carry the light again")
	}
	if n := len(lightBlocks(w)); n != 1 {
		t.Fatalf("light blocks: got %d want 1", n)
	}

	found := false
	for _, ev := range drainEvents(out) {
		if ev["type"] == "PICKUP" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a PICKUP event")
	}
}

func TestWorld_ItemDespawnRemovesLight(t *testing.T) {
	w := newTestWorld(t)
	it := w.spawnItemEntity(0, model.Vec3f{X: 10.5, Y: 8, Z: 10.5}, "GLOWSTONE", 1)
	steps(w, 1)
	if _, ok := w.Lights().AnchorOf(it.ID); !ok {
		t.Fatalf("dropped glowstone should be lit")
	}
	it.ExpiresTick = w.CurrentTick()
	steps(w, 1)
	if len(lightBlocks(w)) != 0 {
		t.Fatalf("light should go with the despawned item")
	}
}

func TestWorld_LeaveRemovesAnchorWithoutTick(t *testing.T) {
	w := newTestWorld(t)
	p, _ := join(t, w, "dave")
	act(w, p, setHand("LANTERN"))
	if len(lightBlocks(w)) != 1 {
		t.Fatalf("expected one light")
	}
	w.handleLeave(p.ID.String())
	if len(lightBlocks(w)) != 0 {
		t.Fatalf("leave must remove the anchor immediately")
	}
	if w.Lights().Tracking(p.ID) {
		t.Fatalf("subject still tracked after leave")
	}
}

func TestWorld_SetLightsToggle(t *testing.T) {
	w := newTestWorld(t)
	store := &recordingToggles{calls: map[string]bool{}}
	w.SetToggleStore(store)
	p, out := join(t, w, "erin")
	act(w, p, setHand("TORCH"))

	off := false
	act(w, p, protocol.InstantReq{ID: "l", Type: protocol.InstantSetLights, Enabled: &off})
	if len(lightBlocks(w)) != 0 {
		t.Fatalf("disabled subject must not keep a light")
	}
	if v, ok := store.calls[p.ID.String()]; !ok || v {
		t.Fatalf("toggle not persisted: %+v", store.calls)
	}

	// Moving while disabled places nothing.
	act(w, p, protocol.InstantReq{ID: "m", Type: protocol.InstantMove, Pos: &[3]float64{5.5, 8, 0.5}})
	if len(lightBlocks(w)) != 0 {
		t.Fatalf("disabled subject got a light after moving")
	}

	on := true
	act(w, p, protocol.InstantReq{ID: "l2", Type: protocol.InstantSetLights, Enabled: &on})
	if _, ok := w.Lights().AnchorOf(p.ID); !ok {
		t.Fatalf("re-enabled subject should be lit")
	}

	steps(w, 1)
	var last protocol.ObsMsg
	for {
		select {
		case b := <-out:
			_ = json.Unmarshal(b, &last)
			continue
		default:
		}
		break
	}
	if !last.Self.LightsEnabled || last.Self.Luminance != 14 || len(last.Lights) != 1 {
		t.Fatalf("obs self=%+v lights=%d", last.Self, len(last.Lights))
	}
	if last.Lights[0].Owner != p.ID.String() {
		t.Fatalf("light owner: %q", last.Lights[0].Owner)
	}
}

func TestWorld_PlacedFixtureMovesAnchor(t *testing.T) {
	w := newTestWorld(t)
	audit := &countingAudit{}
	w.SetAuditLogger(audit)
	p, _ := join(t, w, "frank")
	act(w, p, setHand("TORCH"))

	act(w, p, protocol.InstantReq{ID: "c", Type: protocol.InstantPlaceBlock, Target: &[3]int{5, 9, 0}, Block: "CHEST"})
	if w.BlockKindAt(model.Vec3i{X: 5, Y: 9, Z: 0}) != "CHEST" {
		t.Fatalf("chest not placed")
	}
	a, ok := w.Lights().AnchorOf(p.ID)
	if !ok || a.Pos != (model.Vec3i{X: 2, Y: 10, Z: 0}) {
		t.Fatalf("anchor next to chest should move: got %+v ok=%v", a, ok)
	}
	if w.BlockKindAt(model.Vec3i{X: 4, Y: 10, Z: 0}) != model.BlockAir {
		t.Fatalf("old anchor position not cleared")
	}
	// place light, place chest, remove light, place light
	if audit.n != 4 {
		t.Fatalf("audit entries: got %d want 4", audit.n)
	}
}

func TestWorld_MoveIntoSolidRejected(t *testing.T) {
	w := newTestWorld(t)
	p, out := join(t, w, "gina")
	act(w, p, protocol.InstantReq{ID: "bad", Type: protocol.InstantMove, Pos: &[3]float64{3.5, 7.5, 0.5}})
	if p.Pos.Block() != (model.Vec3i{X: 3, Y: 8, Z: 0}) {
		t.Fatalf("player moved into the ground: %v", p.Pos)
	}
	var code any
	for _, ev := range drainEvents(out) {
		if ev["type"] == "ACTION_RESULT" && ev["ref"] == "bad" {
			code = ev["code"]
		}
	}
	if code != protocol.ErrBlocked {
		t.Fatalf("code: got %v want %s", code, protocol.ErrBlocked)
	}
}

func TestWorld_DoubleChestRefresh(t *testing.T) {
	w := newTestWorld(t)
	p, out := join(t, w, "hank")
	act(w, p,
		protocol.InstantReq{ID: "c1", Type: protocol.InstantPlaceBlock, Target: &[3]int{4, 10, 2}, Block: "CHEST"},
		protocol.InstantReq{ID: "c2", Type: protocol.InstantPlaceBlock, Target: &[3]int{5, 10, 2}, Block: "CHEST"},
	)
	drainEvents(out)

	act(w, p, setHand("TORCH"))
	if a, ok := w.Lights().AnchorOf(p.ID); !ok || a.Pos != (model.Vec3i{X: 4, Y: 10, Z: 0}) {
		t.Fatalf("anchor: %+v ok=%v", a, ok)
	}
	steps(w, 4)

	var refresh protocol.Event
	for _, ev := range drainEvents(out) {
		if ev["type"] == "CHEST_REFRESH" {
			refresh = ev
		}
	}
	if refresh == nil {
		t.Fatalf("expected a CHEST_REFRESH event")
	}
	chests, _ := refresh["chests"].([]any)
	if len(chests) != 2 {
		t.Fatalf("chests: got %v", chests)
	}
}

func TestWorld_BlockPlacedOverAnchorRelights(t *testing.T) {
	w := newTestWorld(t)
	p, _ := join(t, w, "gina")
	act(w, p, setHand("TORCH"))
	old := model.Vec3i{X: 4, Y: 10, Z: 0}
	if a, ok := w.Lights().AnchorOf(p.ID); !ok || a.Pos != old {
		t.Fatalf("anchor: got %+v ok=%v", a, ok)
	}

	// The light block is replaceable, so the chest lands on the anchor itself.
	act(w, p, protocol.InstantReq{ID: "c", Type: protocol.InstantPlaceBlock, Target: &[3]int{4, 10, 0}, Block: "CHEST"})
	if got := w.BlockKindAt(old); got != "CHEST" {
		t.Fatalf("block at old anchor: got %s want CHEST", got)
	}
	a, ok := w.Lights().AnchorOf(p.ID)
	if !ok || a.Pos == old {
		t.Fatalf("anchor should move off the chest: got %+v ok=%v", a, ok)
	}
	if w.BlockKindAt(a.Pos) != model.BlockLight {
		t.Fatalf("new anchor %v holds %s", a.Pos, w.BlockKindAt(a.Pos))
	}
	if n := len(lightBlocks(w)); n != 1 {
		t.Fatalf("light blocks: got %d want 1", n)
	}
	if got := w.Lights().Stats().Overwritten; got != 1 {
		t.Fatalf("overwritten: got %d want 1", got)
	}
}

func TestWorld_LeaveWhileFadingClearsLight(t *testing.T) {
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	cfg := ConfigFromTuning("test", tuning.Defaults())
	cfg.LightIntervalTicks = 1
	cfg.PickupDelayTicks = 1000
	cfg.Light.Removal = engine.RemoveFade
	cfg.Light.FadeLevel = 5
	cfg.Light.FadeTicks = 10
	w, err := New(cfg, cats)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	p, _ := join(t, w, "hank")
	act(w, p, setHand("TORCH"))
	act(w, p, setHand(""))

	pos := model.Vec3i{X: 4, Y: 10, Z: 0}
	if w.BlockKindAt(pos) != model.BlockLight || w.chunks.LightLevel(pos) != 5 {
		t.Fatalf("expected a dimmed light at %v: %s level %d", pos, w.BlockKindAt(pos), w.chunks.LightLevel(pos))
	}
	if got := w.Lights().Stats().FadingNow; got != 1 {
		t.Fatalf("fading: got %d want 1", got)
	}

	w.stepInternal(nil, []string{p.ID.String()}, nil)
	if n := len(lightBlocks(w)); n != 0 {
		t.Fatalf("light blocks after leave: got %d want 0", n)
	}
	if got := w.Lights().Stats().FadingNow; got != 0 {
		t.Fatalf("fading after leave: got %d want 0", got)
	}
}

func TestWorld_ReloadRebuildsEngine(t *testing.T) {
	w := newTestWorld(t)
	p, _ := join(t, w, "iris")
	act(w, p, setHand("TORCH"))
	old := w.Lights()

	s := LightSettingsFrom(tuning.Defaults())
	s.Sources = map[string]int{"TORCH": 7}
	w.reloadLights(s)

	if !old.Closed() {
		t.Fatalf("old engine should be shut down")
	}
	if len(lightBlocks(w)) != 0 {
		t.Fatalf("reload must clear the old anchors first")
	}
	steps(w, 1)
	a, ok := w.Lights().AnchorOf(p.ID)
	if !ok || a.Level != 7 {
		t.Fatalf("anchor after reload: %+v ok=%v", a, ok)
	}

	s.Sources = map[string]int{}
	w.reloadLights(s)
	steps(w, 1)
	if len(lightBlocks(w)) != 0 {
		t.Fatalf("torch is no longer a light source")
	}
}

func TestWorld_AdminToggleThroughRun(t *testing.T) {
	w := newTestWorld(t)
	p, _ := join(t, w, "jack")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	changed, err := w.SetTracking(ctx2, p.ID.String(), false)
	if err != nil || !changed {
		t.Fatalf("SetTracking: changed=%v err=%v", changed, err)
	}
	changed, err = w.SetTracking(ctx2, p.ID.String(), false)
	if err != nil || changed {
		t.Fatalf("second SetTracking: changed=%v err=%v", changed, err)
	}
	if _, err := w.SetTracking(ctx2, "not-a-uuid", true); err == nil {
		t.Fatalf("expected an error for a bad id")
	}

	cancel()
	<-done
	if !w.Lights().Closed() {
		t.Fatalf("Run must shut the engine down on exit")
	}
}

func TestWorld_SnapshotPurgesStrayLights(t *testing.T) {
	w := newTestWorld(t)
	p, _ := join(t, w, "kim")
	act(w, p, setHand("TORCH"))
	w.spawnItemEntity(w.CurrentTick(), model.Vec3f{X: 10.5, Y: 8, Z: 10.5}, "GLOWSTONE", 2)
	w.SetDisabledSubjects([]string{p.ID.String()})
	lit := w.Lights().Anchors()
	if len(lit) == 0 {
		t.Fatalf("expected a live anchor to snapshot")
	}

	// Simulate a crash: export without clearing.
	snap := w.ExportSnapshot(w.CurrentTick())
	path := snapshot.Path(t.TempDir(), snap.Header.Tick)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	back, err := snapshot.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	w2 := newTestWorld(t)
	if err := w2.ImportSnapshot(back); err != nil {
		t.Fatalf("import: %v", err)
	}
	for _, a := range lit {
		if k := w2.BlockKindAt(a.Pos); k != model.BlockAir {
			t.Fatalf("stray light at %v survived import: %s", a.Pos, k)
		}
	}
	if len(w2.items) != 1 {
		t.Fatalf("items: got %d", len(w2.items))
	}
	if w2.TrackingEnabled(p.ID) {
		t.Fatalf("disabled set not restored")
	}
	if w2.CurrentTick() != snap.Header.Tick+1 {
		t.Fatalf("tick: got %d", w2.CurrentTick())
	}

	// The restored item is lit again once the world runs.
	w2.remarkAll(w2.Lights())
	steps(w2, 1)
	if n := len(w2.Lights().Anchors()); n != 1 {
		t.Fatalf("anchors after resume: got %d", n)
	}
}

func TestWorld_OneLightPerSubjectWhileWalking(t *testing.T) {
	w := newTestWorld(t)
	a, _ := join(t, w, "a")
	b, _ := join(t, w, "b")
	act(w, a, setHand("TORCH"))
	act(w, b, setHand("SEA_LANTERN"))
	for i := 0; i < 12; i++ {
		act(w, a, protocol.InstantReq{ID: "m", Type: protocol.InstantMove, Pos: &[3]float64{a.Pos.X + 1, 8, a.Pos.Z}})
		act(w, b, protocol.InstantReq{ID: "m", Type: protocol.InstantMove, Pos: &[3]float64{b.Pos.X, 8, b.Pos.Z + 1}, Yaw: 90})
		anchors := w.Lights().Anchors()
		if len(anchors) != 2 {
			t.Fatalf("step %d: anchors %d", i, len(anchors))
		}
		if n := len(lightBlocks(w)); n != 2 {
			t.Fatalf("step %d: light blocks %d", i, n)
		}
	}
}
