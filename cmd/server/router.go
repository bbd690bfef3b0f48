package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"dynlight.ai/internal/lighting/engine"
	"dynlight.ai/internal/metrics"
	"dynlight.ai/internal/persistence/indexdb"
	"dynlight.ai/internal/sim/world"
)

type routerConfig struct {
	World   *world.World
	Metrics *metrics.Metrics
	WS      http.Handler
	// Index is optional; /admin/v1/index reports its queue when set.
	Index *indexdb.SQLiteIndex

	EnableAdmin bool
	// Reload re-reads the light configuration from disk.
	Reload func() (world.LightSettings, error)

	CORSOrigins    []string
	DisableLogging bool
}

// newRouter has no side effects, so tests can wrap it in httptest.
func newRouter(cfg routerConfig) *chi.Mux {
	r := chi.NewRouter()
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	h := &handlers{cfg: cfg}

	r.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	origins := cfg.CORSOrigins
	if origins == nil {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Route("/v1", func(r chi.Router) {
		if cfg.WS != nil {
			r.Method(http.MethodGet, "/ws", cfg.WS)
		}
		r.Group(func(r chi.Router) {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: origins,
				AllowedMethods: []string{"GET", "OPTIONS"},
				AllowedHeaders: []string{"*"},
			}))
			r.Get("/lights", h.publicLights)
		})
	})

	if cfg.EnableAdmin {
		r.Route("/admin/v1", func(r chi.Router) {
			r.Use(loopbackOnly)
			r.Get("/lights", h.adminLights)
			r.Get("/explain", h.adminExplain)
			r.Post("/toggle", h.adminToggle)
			r.Post("/reload", h.adminReload)
			r.Post("/snapshot", h.adminSnapshot)
			r.Get("/index", h.adminIndex)
		})
	}
	return r
}

type handlers struct {
	cfg routerConfig
}

type anchorJSON struct {
	Subject string `json:"subject"`
	Pos     [3]int `json:"pos"`
	Level   int    `json:"level"`
}

func anchorsJSON(eng *engine.Engine) []anchorJSON {
	as := eng.Anchors()
	out := make([]anchorJSON, 0, len(as))
	for _, a := range as {
		out = append(out, anchorJSON{Subject: a.Subject.String(), Pos: a.Pos.ToArray(), Level: a.Level})
	}
	return out
}

func (h *handlers) publicLights(rw http.ResponseWriter, r *http.Request) {
	w := h.cfg.World
	writeJSON(rw, http.StatusOK, map[string]any{
		"world_id": w.ID(),
		"tick":     w.CurrentTick(),
		"anchors":  anchorsJSON(w.Lights()),
	})
}

func (h *handlers) adminLights(rw http.ResponseWriter, r *http.Request) {
	w := h.cfg.World
	eng := w.Lights()
	resp := map[string]any{
		"world_id": w.ID(),
		"tick":     w.CurrentTick(),
		"closed":   eng.Closed(),
		"stats":    eng.Stats(),
		"anchors":  anchorsJSON(eng),
		"fixtures": eng.Fixtures(),
		"digest":   w.Config().Light.Digest,
	}
	if rep, ok := w.LastLightReport(); ok {
		resp["last_cycle"] = rep
	}
	writeJSON(rw, http.StatusOK, resp)
}

type candidateJSON struct {
	Pos     [3]int `json:"pos"`
	Offset  [3]int `json:"offset"`
	Verdict string `json:"verdict"`
}

func (h *handlers) adminExplain(rw http.ResponseWriter, r *http.Request) {
	subject := strings.TrimSpace(r.URL.Query().Get("subject"))
	if subject == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "missing subject"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	tick, cands, err := h.cfg.World.ExplainLights(ctx, subject)
	if err != nil {
		writeJSON(rw, http.StatusNotFound, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	out := make([]candidateJSON, 0, len(cands))
	for _, c := range cands {
		out = append(out, candidateJSON{Pos: c.Pos.ToArray(), Offset: c.Offset.ToArray(), Verdict: c.Verdict.String()})
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "tick": tick, "subject": subject, "candidates": out})
}

type toggleReq struct {
	Subject string `json:"subject"`
	Enabled bool   `json:"enabled"`
}

func (h *handlers) adminToggle(rw http.ResponseWriter, r *http.Request) {
	var req toggleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Subject) == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "expected {subject, enabled}"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	changed, err := h.cfg.World.SetTracking(ctx, req.Subject, req.Enabled)
	if err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "changed": changed})
}

func (h *handlers) adminReload(rw http.ResponseWriter, r *http.Request) {
	if h.cfg.Reload == nil {
		writeJSON(rw, http.StatusNotImplemented, map[string]any{"ok": false, "error": "reload not configured"})
		return
	}
	s, err := h.cfg.Reload()
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	tick, err := h.cfg.World.ReloadLights(ctx, s)
	if err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "tick": tick, "sources": len(s.Sources), "digest": s.Digest})
}

func (h *handlers) adminSnapshot(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	tick, err := h.cfg.World.RequestSnapshot(ctx)
	if err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "tick": tick, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "tick": tick})
}

func (h *handlers) adminIndex(rw http.ResponseWriter, r *http.Request) {
	if h.cfg.Index == nil {
		writeJSON(rw, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"enabled": true, "stats": h.cfg.Index.Stats()})
}

func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
