package engine

import (
	"bytes"
	"sort"
	"sync"

	"dynlight.ai/internal/lighting/model"
)

// pendingSet holds subjects awaiting reconciliation. Add is idempotent and Drain
// swaps in a fresh set, so ids added during a drain land in the next cycle.
type pendingSet struct {
	mu  sync.Mutex
	ids map[model.SubjectID]struct{}
}

func newPendingSet() *pendingSet {
	return &pendingSet{ids: map[model.SubjectID]struct{}{}}
}

func (p *pendingSet) Add(id model.SubjectID) {
	p.mu.Lock()
	p.ids[id] = struct{}{}
	p.mu.Unlock()
}

func (p *pendingSet) Remove(id model.SubjectID) {
	p.mu.Lock()
	delete(p.ids, id)
	p.mu.Unlock()
}

func (p *pendingSet) Has(id model.SubjectID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.ids[id]
	return ok
}

func (p *pendingSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}

func (p *pendingSet) Drain() map[model.SubjectID]struct{} {
	p.mu.Lock()
	out := p.ids
	p.ids = make(map[model.SubjectID]struct{}, len(out))
	p.mu.Unlock()
	return out
}

type record struct {
	kind      model.SubjectKind
	lastBlock model.Vec3i
	anchored  bool
	anchor    model.Anchor
}

// trackMap is the subject -> anchor bookkeeping. Records are copied in and out;
// callers never hold a pointer into the map outside of the update callbacks.
type trackMap struct {
	mu sync.Mutex
	m  map[model.SubjectID]record
}

func newTrackMap() *trackMap {
	return &trackMap{m: map[model.SubjectID]record{}}
}

func (t *trackMap) Get(id model.SubjectID) (record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.m[id]
	return r, ok
}

// Upsert runs fn on the current record (zero value if absent) and stores the result
// when fn returns true.
func (t *trackMap) Upsert(id model.SubjectID, fn func(r *record, existed bool) bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.m[id]
	if !fn(&r, ok) {
		return false
	}
	t.m[id] = r
	return true
}

// Update is Upsert restricted to existing records. It reports whether the record
// was present.
func (t *trackMap) Update(id model.SubjectID, fn func(r *record)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.m[id]
	if !ok {
		return false
	}
	fn(&r)
	t.m[id] = r
	return true
}

func (t *trackMap) Delete(id model.SubjectID) (record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.m[id]
	if ok {
		delete(t.m, id)
	}
	return r, ok
}

func (t *trackMap) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}

func (t *trackMap) Snapshot() map[model.SubjectID]record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[model.SubjectID]record, len(t.m))
	for id, r := range t.m {
		out[id] = r
	}
	return out
}

func (t *trackMap) DrainAll() map[model.SubjectID]record {
	t.mu.Lock()
	out := t.m
	t.m = map[model.SubjectID]record{}
	t.mu.Unlock()
	return out
}

type fading struct {
	pos       model.Vec3i
	subject   model.SubjectID
	ticksLeft int
}

// fadeQueue holds anchors that were detached from their subject and are dimmed
// before removal.
type fadeQueue struct {
	mu    sync.Mutex
	items []fading
}

func (q *fadeQueue) Push(f fading) {
	q.mu.Lock()
	q.items = append(q.items, f)
	q.mu.Unlock()
}

// Advance decrements every entry and returns the ones that expired.
func (q *fadeQueue) Advance() []fading {
	q.mu.Lock()
	defer q.mu.Unlock()
	var expired []fading
	kept := q.items[:0]
	for _, f := range q.items {
		f.ticksLeft--
		if f.ticksLeft <= 0 {
			expired = append(expired, f)
			continue
		}
		kept = append(kept, f)
	}
	q.items = kept
	return expired
}

// Take removes and returns the entries left by one subject.
func (q *fadeQueue) Take(id model.SubjectID) []fading {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []fading
	kept := q.items[:0]
	for _, f := range q.items {
		if f.subject == id {
			out = append(out, f)
			continue
		}
		kept = append(kept, f)
	}
	q.items = kept
	return out
}

func (q *fadeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *fadeQueue) DrainAll() []fading {
	q.mu.Lock()
	out := q.items
	q.items = nil
	q.mu.Unlock()
	return out
}

func sortedIDs[V any](m map[model.SubjectID]V) []model.SubjectID {
	ids := make([]model.SubjectID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	return ids
}
