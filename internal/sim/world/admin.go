package world

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"dynlight.ai/internal/lighting/locate"
)

type adminKind int

const (
	adminSnapshot adminKind = iota + 1
	adminToggle
	adminReload
	adminExplain
)

type adminReq struct {
	Kind    adminKind
	Subject uuid.UUID
	Enabled bool
	Light   LightSettings
	Resp    chan adminResp
}

type adminResp struct {
	Tick       uint64
	Changed    bool
	Candidates []locate.Candidate
	Err        string
}

// RequestSnapshot asks the world loop goroutine to enqueue a snapshot.
// It is safe to call from other goroutines (e.g. HTTP handlers).
func (w *World) RequestSnapshot(ctx context.Context) (tick uint64, err error) {
	r, err := w.adminCall(ctx, adminReq{Kind: adminSnapshot})
	return r.Tick, err
}

// SetTracking turns dynamic light on or off for one subject, like the /dynlight
// on|off command. changed is false when the flag already had that value.
func (w *World) SetTracking(ctx context.Context, subject string, enabled bool) (changed bool, err error) {
	id, err := uuid.Parse(subject)
	if err != nil {
		return false, errors.New("bad subject id")
	}
	r, err := w.adminCall(ctx, adminReq{Kind: adminToggle, Subject: id, Enabled: enabled})
	return r.Changed, err
}

// ReloadLights swaps in an engine built from s. The old engine clears its anchors
// first, and every live subject is announced to the new one.
func (w *World) ReloadLights(ctx context.Context, s LightSettings) (tick uint64, err error) {
	if s.Sources == nil {
		return 0, errors.New("light settings without sources")
	}
	r, err := w.adminCall(ctx, adminReq{Kind: adminReload, Light: s})
	return r.Tick, err
}

// ExplainLights classifies the candidate positions around a live subject, in the
// order the engine tries them.
func (w *World) ExplainLights(ctx context.Context, subject string) (tick uint64, cands []locate.Candidate, err error) {
	id, err := uuid.Parse(subject)
	if err != nil {
		return 0, nil, errors.New("bad subject id")
	}
	r, err := w.adminCall(ctx, adminReq{Kind: adminExplain, Subject: id})
	return r.Tick, r.Candidates, err
}

func (w *World) adminCall(ctx context.Context, req adminReq) (adminResp, error) {
	if w == nil || w.admin == nil {
		return adminResp{}, errors.New("admin not available")
	}
	resp := make(chan adminResp, 1)
	req.Resp = resp

	select {
	case w.admin <- req:
	case <-ctx.Done():
		return adminResp{}, ctx.Err()
	}

	select {
	case r := <-resp:
		if r.Err != "" {
			return r, errors.New(r.Err)
		}
		return r, nil
	case <-ctx.Done():
		return adminResp{}, ctx.Err()
	}
}

func (w *World) handleAdminRequests(reqs []adminReq) {
	if len(reqs) == 0 {
		return
	}
	cur := w.tick.Load()
	// The step that just ran advanced the tick.
	lastTick := uint64(0)
	if cur > 0 {
		lastTick = cur - 1
	}
	for _, req := range reqs {
		resp := adminResp{Tick: lastTick}
		switch req.Kind {
		case adminSnapshot:
			if w.snapshotSink == nil {
				resp.Err = "snapshot sink not configured"
			} else if !w.exportToSink(lastTick) {
				resp.Err = "snapshot sink backpressure"
			}
		case adminToggle:
			resp.Changed = w.setTracking(lastTick, req.Subject, req.Enabled)
		case adminReload:
			w.reloadLights(req.Light)
			resp.Changed = true
		case adminExplain:
			cands, ok := w.lights.Load().Explain(req.Subject)
			if !ok {
				resp.Err = "unknown subject"
			}
			resp.Candidates = cands
		default:
			resp.Err = "unknown admin request"
		}
		if req.Resp == nil {
			continue
		}
		select {
		case req.Resp <- resp:
		default:
			// Client timed out; don't block the sim loop.
		}
	}
}

func (w *World) reloadLights(s LightSettings) {
	old := w.lights.Load()
	old.ShutdownAndClear()
	st := old.Stats()
	w.basePlacements += st.Placements
	w.baseRemovals += st.Removals

	w.lightCfg = s
	eng := w.buildEngine(s)
	w.lights.Store(eng)
	w.remarkAll(eng)
	w.logger.Printf("light config reloaded: %d sources, tracking %d subjects", len(s.Sources), eng.TrackedCount())
}
