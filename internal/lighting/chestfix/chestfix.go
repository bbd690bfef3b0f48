// Package chestfix schedules client refreshes for double chests next to freshly
// placed lights. Some clients render a double chest's lid wrong until the chest is
// re-sent after a light update in its neighborhood.
package chestfix

import (
	"sort"
	"sync"

	"dynlight.ai/internal/lighting/engine"
	"dynlight.ai/internal/lighting/model"
)

type Reader interface {
	BlockKindAt(pos model.Vec3i) string
}

type Config struct {
	// ScanRadius is the horizontal distance from a light within which a double chest
	// triggers a refresh.
	ScanRadius int
	// DelayTicks is how long after the placement the refresh fires.
	DelayTicks int
	// RefreshRadius bounds which chests around the light are re-sent.
	RefreshRadius int
	// NotifyDistance bounds which players receive the refresh.
	NotifyDistance int
	// ChestKinds are the block kinds that pair into double chests.
	ChestKinds []string
}

func DefaultConfig() Config {
	return Config{
		ScanRadius:     3,
		DelayTicks:     3,
		RefreshRadius:  2,
		NotifyDistance: 32,
		ChestKinds:     []string{"CHEST", "TRAPPED_CHEST"},
	}
}

// Refresh is a due chest refresh around a light position.
type Refresh struct {
	Due    uint64
	Light  model.Vec3i
	Chests []model.Vec3i
}

type pending struct {
	due   uint64
	light model.Vec3i
}

// Queue is the pending work of chest refreshes, drained once per world step.
type Queue struct {
	cfg   Config
	kinds map[string]struct{}

	mu      sync.Mutex
	items   []pending
	byLight map[model.Vec3i]struct{}
}

func New(cfg Config) *Queue {
	def := DefaultConfig()
	if cfg.ScanRadius <= 0 {
		cfg.ScanRadius = def.ScanRadius
	}
	if cfg.DelayTicks < 0 {
		cfg.DelayTicks = 0
	}
	if cfg.RefreshRadius <= 0 {
		cfg.RefreshRadius = def.RefreshRadius
	}
	if cfg.NotifyDistance <= 0 {
		cfg.NotifyDistance = def.NotifyDistance
	}
	if len(cfg.ChestKinds) == 0 {
		cfg.ChestKinds = def.ChestKinds
	}
	kinds := make(map[string]struct{}, len(cfg.ChestKinds))
	for _, k := range cfg.ChestKinds {
		kinds[k] = struct{}{}
	}
	return &Queue{cfg: cfg, kinds: kinds, byLight: map[model.Vec3i]struct{}{}}
}

func (q *Queue) Config() Config { return q.cfg }

func (q *Queue) isChest(kind string) bool {
	_, ok := q.kinds[kind]
	return ok
}

// IsDoubleChest reports whether p holds a chest paired with a horizontal neighbor of
// the same kind.
func (q *Queue) IsDoubleChest(w Reader, p model.Vec3i) bool {
	kind := w.BlockKindAt(p)
	if !q.isChest(kind) {
		return false
	}
	for _, d := range [...]model.Vec3i{{X: 1}, {X: -1}, {Z: 1}, {Z: -1}} {
		if w.BlockKindAt(p.Add(d)) == kind {
			return true
		}
	}
	return false
}

func (q *Queue) nearDoubleChest(w Reader, light model.Vec3i) bool {
	r := q.cfg.ScanRadius
	for dx := -r; dx <= r; dx++ {
		for dz := -r; dz <= r; dz++ {
			if q.IsDoubleChest(w, light.Add(model.Vec3i{X: dx, Z: dz})) {
				return true
			}
		}
	}
	return false
}

// Schedule queues a refresh when light sits near a double chest. A light that
// already has a refresh pending is not queued twice.
func (q *Queue) Schedule(w Reader, light model.Vec3i, now uint64) bool {
	if w == nil || !q.nearDoubleChest(w, light) {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.byLight[light]; ok {
		return false
	}
	q.byLight[light] = struct{}{}
	q.items = append(q.items, pending{due: now + uint64(q.cfg.DelayTicks), light: light})
	return true
}

// Due pops every refresh due at or before now and resolves the chests to re-send.
// Refreshes whose chests are gone by then come back with an empty Chests list.
func (q *Queue) Due(w Reader, now uint64) []Refresh {
	q.mu.Lock()
	var due []pending
	kept := q.items[:0]
	for _, p := range q.items {
		if p.due <= now {
			due = append(due, p)
			delete(q.byLight, p.light)
			continue
		}
		kept = append(kept, p)
	}
	q.items = kept
	q.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].due != due[j].due {
			return due[i].due < due[j].due
		}
		return model.Less(due[i].light, due[j].light)
	})
	out := make([]Refresh, 0, len(due))
	for _, p := range due {
		out = append(out, Refresh{Due: p.due, Light: p.light, Chests: q.chestsAround(w, p.light)})
	}
	return out
}

func (q *Queue) chestsAround(w Reader, light model.Vec3i) []model.Vec3i {
	if w == nil {
		return nil
	}
	var out []model.Vec3i
	r := q.cfg.RefreshRadius
	for dx := -r; dx <= r; dx++ {
		for dz := -r; dz <= r; dz++ {
			p := light.Add(model.Vec3i{X: dx, Z: dz})
			if q.isChest(w.BlockKindAt(p)) {
				out = append(out, p)
			}
		}
	}
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Observer returns an engine observer that schedules refreshes for placements.
// clock reports the host tick the placement happened on.
func (q *Queue) Observer(w Reader, clock func() uint64) engine.Observer {
	return observer{q: q, w: w, clock: clock}
}

type observer struct {
	q     *Queue
	w     Reader
	clock func() uint64
}

func (o observer) AnchorChanged(ev engine.Event) {
	if ev.Action != engine.ActionPlace {
		return
	}
	o.q.Schedule(o.w, ev.Pos, o.clock())
}

func (observer) TickDone(engine.TickReport) {}
