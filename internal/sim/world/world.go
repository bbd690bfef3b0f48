// Package world is the authoritative voxel host the light engine runs against. One
// goroutine owns all world state; transports talk to it through channels.
package world

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"dynlight.ai/internal/lighting/chestfix"
	"dynlight.ai/internal/lighting/engine"
	"dynlight.ai/internal/lighting/luminance"
	"dynlight.ai/internal/lighting/model"
	"dynlight.ai/internal/persistence/snapshot"
	"dynlight.ai/internal/protocol"
	"dynlight.ai/internal/sim/catalogs"
)

type World struct {
	cfg      WorldConfig
	catalogs *catalogs.Catalogs
	logger   *log.Logger

	chunks  *ChunkStore
	airID   uint16
	lightID uint16
	solid   []bool // by palette id

	tick          atomic.Uint64
	nextPlayerNum uint64

	players map[uuid.UUID]*Player
	clients map[uuid.UUID]*clientState
	items   map[uuid.UUID]*ItemEntity
	events  map[uuid.UUID][]protocol.Event

	toggleMu sync.RWMutex
	disabled map[uuid.UUID]bool

	lights     atomic.Pointer[engine.Engine]
	lightCfg   LightSettings
	observers  []engine.Observer
	chest      *chestfix.Queue
	lastReport atomic.Pointer[engine.TickReport]

	// Counters carried over from engines replaced by a reload.
	basePlacements uint64
	baseRemovals   uint64

	auditLogger  AuditLogger
	anchorLogger AnchorLogger
	toggleStore  ToggleStore
	snapshotSink chan<- snapshot.SnapshotV1

	inbox    chan ActionEnvelope
	join     chan JoinRequest
	leave    chan string
	admin    chan adminReq
	stop     chan struct{}
	stopOnce sync.Once
}

func New(cfg WorldConfig, cats *catalogs.Catalogs) (*World, error) {
	cfg.applyDefaults()

	b := func(id string) (uint16, error) {
		v, ok := cats.Blocks.Index[id]
		if !ok {
			return 0, fmt.Errorf("missing block id in palette: %s", id)
		}
		return v, nil
	}
	ids := map[string]uint16{}
	for _, id := range []string{model.BlockAir, model.BlockLight, "STONE", "DIRT", "GRASS"} {
		v, err := b(id)
		if err != nil {
			return nil, err
		}
		ids[id] = v
	}

	solid := make([]bool, len(cats.Blocks.Palette))
	for i, id := range cats.Blocks.Palette {
		solid[i] = cats.Blocks.Defs[id].Solid
	}

	w := &World{
		cfg:      cfg,
		catalogs: cats,
		logger:   log.New(io.Discard, "", 0),
		chunks: NewChunkStore(WorldGen{
			Seed:      cfg.Seed,
			Height:    cfg.Height,
			GroundY:   cfg.GroundY,
			BoundaryR: cfg.BoundaryR,
			Air:       ids[model.BlockAir],
			Stone:     ids["STONE"],
			Dirt:      ids["DIRT"],
			Grass:     ids["GRASS"],
		}),
		airID:    ids[model.BlockAir],
		lightID:  ids[model.BlockLight],
		solid:    solid,
		players:  map[uuid.UUID]*Player{},
		clients:  map[uuid.UUID]*clientState{},
		items:    map[uuid.UUID]*ItemEntity{},
		events:   map[uuid.UUID][]protocol.Event{},
		disabled: map[uuid.UUID]bool{},
		lightCfg: cfg.Light,
		inbox:    make(chan ActionEnvelope, 1024),
		join:     make(chan JoinRequest, 64),
		leave:    make(chan string, 64),
		admin:    make(chan adminReq, 16),
		stop:     make(chan struct{}),
	}
	if cfg.ChestFix {
		w.chest = chestfix.New(cfg.ChestFixConfig)
	}
	w.lights.Store(w.buildEngine(w.lightCfg))
	return w, nil
}

// The setters below must be called before Run.

func (w *World) SetLogger(l *log.Logger) {
	if l != nil {
		w.logger = l
		w.lights.Store(w.buildEngine(w.lightCfg))
	}
}

func (w *World) SetAuditLogger(l AuditLogger)                 { w.auditLogger = l }
func (w *World) SetAnchorLogger(l AnchorLogger)               { w.anchorLogger = l }
func (w *World) SetToggleStore(s ToggleStore)                 { w.toggleStore = s }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

// SetLightObservers attaches extra engine observers (metrics, index writers).
func (w *World) SetLightObservers(obs ...engine.Observer) {
	w.observers = append([]engine.Observer(nil), obs...)
	w.lights.Store(w.buildEngine(w.lightCfg))
}

// SetDisabledSubjects replaces the opt-out set, typically from the toggle store.
func (w *World) SetDisabledSubjects(ids []string) {
	w.toggleMu.Lock()
	defer w.toggleMu.Unlock()
	w.disabled = make(map[uuid.UUID]bool, len(ids))
	for _, s := range ids {
		id, err := uuid.Parse(s)
		if err != nil {
			continue
		}
		w.disabled[id] = true
	}
}

func (w *World) ID() string          { return w.cfg.ID }
func (w *World) Config() WorldConfig { return w.cfg }
func (w *World) CurrentTick() uint64 { return w.tick.Load() }

func (w *World) Inbox() chan<- ActionEnvelope { return w.inbox }
func (w *World) Join() chan<- JoinRequest     { return w.join }
func (w *World) Leave() chan<- string         { return w.leave }

// Lights returns the engine currently driving anchors. It changes on reload.
func (w *World) Lights() *engine.Engine { return w.lights.Load() }

// LastLightReport is the report of the most recent light cycle, if any.
func (w *World) LastLightReport() (engine.TickReport, bool) {
	r := w.lastReport.Load()
	if r == nil {
		return engine.TickReport{}, false
	}
	return *r, true
}

func (w *World) Stop() { w.stopOnce.Do(func() { close(w.stop) }) }

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Subjects restored from a snapshot are picked up by whichever engine is live.
	w.remarkAll(w.lights.Load())

	var pendingActions []ActionEnvelope
	var pendingJoins []JoinRequest
	var pendingLeaves []string
	var pendingAdmin []adminReq

	for {
		select {
		case <-ctx.Done():
			w.shutdownLights()
			return ctx.Err()
		case <-w.stop:
			w.shutdownLights()
			return nil
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-w.leave:
			pendingLeaves = append(pendingLeaves, id)
		case req := <-w.admin:
			pendingAdmin = append(pendingAdmin, req)
		case env := <-w.inbox:
			pendingActions = append(pendingActions, env)
		case <-ticker.C:
			w.stepInternal(pendingJoins, pendingLeaves, pendingActions)
			w.handleAdminRequests(pendingAdmin)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingActions = pendingActions[:0]
			pendingAdmin = pendingAdmin[:0]
		}
	}
}

func (w *World) shutdownLights() {
	eng := w.lights.Load()
	eng.ShutdownAndClear()
}

func (w *World) buildEngine(s LightSettings) *engine.Engine {
	obs := []engine.Observer{anchorLogObserver{w: w}}
	if w.chest != nil {
		obs = append(obs, w.chest.Observer(w, w.tick.Load))
	}
	obs = append(obs, w.observers...)
	return engine.New(engine.Config{
		Gateway:       w,
		Subjects:      w,
		Luminance:     luminance.NewTable(s.Sources),
		Toggles:       w,
		Observer:      engine.Observers(obs...),
		Logger:        w.logger,
		Rules:         s.Rules,
		PlayerOffsets: s.PlayerOffsets,
		ItemOffsets:   s.ItemOffsets,
		Removal:       s.Removal,
		FadeLevel:     s.FadeLevel,
		FadeTicks:     s.FadeTicks,
	})
}

// remarkAll announces every live subject to eng, in id order.
func (w *World) remarkAll(eng *engine.Engine) {
	for _, id := range sortedPlayerIDs(w.players) {
		eng.OnLuminanceSourceChanged(w.players[id].subject())
	}
	for _, id := range sortedItemIDs(w.items) {
		eng.OnLuminanceSourceChanged(w.items[id].subject())
	}
}

// StepOnce runs a single step on the caller's goroutine and returns the tick it
// simulated. It is for tests and offline tools; never call it while Run is active.
func (w *World) StepOnce(joins []JoinRequest, leaves []string, actions []ActionEnvelope) uint64 {
	tick := w.tick.Load()
	w.stepInternal(joins, leaves, actions)
	return tick
}

func (w *World) stepInternal(joins []JoinRequest, leaves []string, actions []ActionEnvelope) {
	nowTick := w.tick.Load()
	eng := w.lights.Load()

	for _, req := range joins {
		w.handleJoin(nowTick, req)
	}
	for _, id := range leaves {
		w.handleLeave(id)
	}
	for _, env := range actions {
		w.applyAct(nowTick, env)
	}

	w.stepItems(nowTick)

	if nowTick%uint64(w.cfg.LightIntervalTicks) == 0 {
		rep := eng.Tick()
		if !rep.Skipped {
			w.lastReport.Store(&rep)
		}
	}
	w.flushChestRefreshes(nowTick)

	w.broadcastObs(nowTick)

	if w.cfg.SnapshotEveryTicks > 0 && nowTick > 0 && nowTick%uint64(w.cfg.SnapshotEveryTicks) == 0 {
		w.exportToSink(nowTick)
	}
	w.tick.Add(1)
}

func (w *World) exportToSink(tick uint64) bool {
	if w.snapshotSink == nil {
		return false
	}
	snap := w.ExportSnapshot(tick)
	select {
	case w.snapshotSink <- snap:
		return true
	default:
		w.logger.Printf("snapshot sink backpressure: dropped tick %d", tick)
		return false
	}
}

func (w *World) handleJoin(nowTick uint64, req JoinRequest) {
	w.nextPlayerNum++
	n := w.nextPlayerNum
	name := req.Name
	if name == "" {
		name = "player"
	}
	p := &Player{
		ID:       uuid.New(),
		Name:     name,
		Pos:      w.spawnPoint(n),
		JoinTick: nowTick,
	}
	w.players[p.ID] = p
	if req.Out != nil {
		w.clients[p.ID] = &clientState{Out: req.Out}
	}
	w.lights.Load().OnSubjectMoved(p.subject())

	resp := JoinResponse{Welcome: w.buildWelcome(p)}
	if req.Resp != nil {
		req.Resp <- resp
	}
}

func (w *World) spawnPoint(n uint64) model.Vec3f {
	x := int(n%8) * 3
	z := int(n/8%8) * 3
	return model.Vec3f{X: float64(x) + 0.5, Y: float64(w.cfg.GroundY), Z: float64(z) + 0.5}
}

func (w *World) handleLeave(s string) {
	id, err := uuid.Parse(s)
	if err != nil {
		return
	}
	if _, ok := w.players[id]; !ok {
		return
	}
	w.lights.Load().OnSubjectRemoved(id)
	delete(w.players, id)
	delete(w.clients, id)
	delete(w.events, id)
}

func (w *World) buildWelcome(p *Player) protocol.WelcomeMsg {
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		PlayerID:        p.ID.String(),
		WorldParams: protocol.WorldParams{
			TickRateHz:         w.cfg.TickRateHz,
			LightIntervalTicks: w.cfg.LightIntervalTicks,
			ChunkSize:          [3]int{chunkSize, chunkSize, w.cfg.Height},
			Height:             w.cfg.Height,
			ObsRadius:          w.cfg.ObsRadius,
			Seed:               w.cfg.Seed,
		},
		Catalogs: protocol.CatalogDigests{
			BlockPalette: protocol.DigestRef{Digest: w.catalogs.Blocks.PaletteDigest, Count: len(w.catalogs.Blocks.Palette)},
			ItemPalette:  protocol.DigestRef{Digest: w.catalogs.Items.PaletteDigest, Count: len(w.catalogs.Items.Palette)},
			TuningDigest: w.lightCfg.Digest,
		},
		Spawn: p.Pos.ToArray(),
	}
}

func (w *World) pushEvent(id uuid.UUID, ev protocol.Event) {
	if _, ok := w.clients[id]; !ok {
		return
	}
	w.events[id] = append(w.events[id], ev)
}

func sortedPlayerIDs(m map[uuid.UUID]*Player) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func sortedItemIDs(m map[uuid.UUID]*ItemEntity) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
