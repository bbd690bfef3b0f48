package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"dynlight.ai/internal/metrics"
	"dynlight.ai/internal/persistence/indexdb"
	persistlog "dynlight.ai/internal/persistence/log"
	"dynlight.ai/internal/persistence/snapshot"
	"dynlight.ai/internal/protocol"
	"dynlight.ai/internal/sim/catalogs"
	"dynlight.ai/internal/sim/tuning"
	"dynlight.ai/internal/sim/world"
	"dynlight.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		seed       = flag.Int64("seed", 0, "world seed override (fresh worlds only; 0 keeps lights.yaml)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		lightsPath = flag.String("lights", "", "path to lights.yaml (default: <configs>/lights.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (anchor events, toggles, snapshot metadata)")
		corsList   = flag.String("cors_origins", "", "comma separated origins allowed to read /v1/lights")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	lp := strings.TrimSpace(*lightsPath)
	if lp == "" {
		lp = filepath.Join(*configDir, "lights.yaml")
	}
	tune, lightSettings, err := loadLights(lp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load lights: %v", err)
		}
		logger.Printf("lights config not found (%s); using defaults", lp)
		tune = tuning.Defaults()
		lightSettings = world.LightSettingsFrom(tune)
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(worldDir)
	}

	cfg := world.ConfigFromTuning(*worldID, tune)
	cfg.Light = lightSettings
	var snap *snapshot.SnapshotV1
	if snapshotToLoad != "" {
		s, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if s.Header.WorldID != "" && s.Header.WorldID != *worldID {
			logger.Fatalf("snapshot world id mismatch: flag=%s snap=%s", *worldID, s.Header.WorldID)
		}
		// Terrain parameters are fixed by the snapshot; light rules follow lights.yaml.
		cfg.Seed = s.Seed
		cfg.Height = s.Height
		cfg.GroundY = s.GroundY
		cfg.BoundaryR = s.BoundaryR
		snap = &s
	} else if *seed != 0 {
		cfg.Seed = *seed
	}

	w, err := world.New(cfg, cats)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}
	w.SetLogger(log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds))

	m := metrics.New()
	w.SetLightObservers(m)

	if snap != nil {
		if err := w.ImportSnapshot(*snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), w.CurrentTick())
	}

	// Optional read model, also the durable home of tracking toggles.
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(worldDir, "index", "world.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		idx.SetDropHook(m.IndexDropped.Inc)
		if err := idx.UpsertCatalogs(*configDir, cats, tune); err != nil {
			logger.Printf("index: upsert catalogs: %v", err)
		}
		if err := seedToggles(w, idx, snap); err != nil {
			logger.Printf("index: load toggles: %v", err)
		}
		w.SetToggleStore(idx)
	} else {
		logger.Printf("index disabled; tracking toggles live only in snapshots")
	}

	anchorLog := persistlog.NewAnchorLogger(worldDir)
	auditLog := persistlog.NewAuditLogger(worldDir)
	defer anchorLog.Close()
	defer auditLog.Close()
	if idx != nil {
		w.SetAnchorLogger(multiAnchorLogger{anchorLog, idx})
		w.SetAuditLogger(multiAuditLogger{auditLog, idx})
	} else {
		w.SetAnchorLogger(anchorLog)
		w.SetAuditLogger(auditLog)
	}

	ctx, cancel := signalContext()
	defer cancel()

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	w.SetSnapshotSink(snapCh)
	writeSnap := func(s snapshot.SnapshotV1) {
		path := snapshot.Path(worldDir, s.Header.Tick)
		if err := snapshot.WriteSnapshot(path, s); err != nil {
			logger.Printf("snapshot write: %v", err)
			return
		}
		if idx != nil {
			idx.RecordSnapshot(path, s)
		}
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-snapCh:
				writeSnap(s)
			}
		}
	}()

	worldDone := make(chan struct{})
	go func() {
		defer close(worldDone)
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	schemas, err := protocol.CompileSchemas()
	if err != nil {
		logger.Fatalf("compile schemas: %v", err)
	}
	wsSrv := ws.NewServer(w, logger, ws.Options{
		Schemas:       schemas,
		Metrics:       m,
		ActsPerSecond: tune.RateLimits.ActsPerSecond,
		ActBurst:      tune.RateLimits.ActBurst,
	})

	var origins []string
	for _, o := range strings.Split(*corsList, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	enableAdmin := envBool("DYNLIGHT_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	if !enableAdmin {
		logger.Printf("admin endpoints disabled (DYNLIGHT_ENABLE_ADMIN_HTTP=false)")
	}
	router := newRouter(routerConfig{
		World:       w,
		Metrics:     m,
		WS:          wsSrv.Handler(),
		Index:       idx,
		EnableAdmin: enableAdmin,
		Reload: func() (world.LightSettings, error) {
			_, s, err := loadLights(lp)
			return s, err
		},
		CORSOrigins: origins,
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
		cancel()
	}

	// Run clears every anchor before it returns, so the final snapshot holds no LIGHT blocks.
	<-worldDone
	writeSnap(w.ExportSnapshot(w.CurrentTick()))
	logger.Printf("shutdown complete at tick %d", w.CurrentTick())
}

// loadLights reads lights.yaml into tuning plus the engine settings derived from it.
// The settings carry the file's sha256 so reloads can be told apart.
func loadLights(path string) (tuning.Tuning, world.LightSettings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return tuning.Tuning{}, world.LightSettings{}, err
	}
	t, err := tuning.Load(path)
	if err != nil {
		return t, world.LightSettings{}, err
	}
	s := world.LightSettingsFrom(t)
	sum := sha256.Sum256(raw)
	s.Digest = hex.EncodeToString(sum[:])
	return t, s, nil
}

// seedToggles merges the snapshot's opt-out set with the index, where the index's
// last recorded toggle per subject wins.
func seedToggles(w *world.World, idx *indexdb.SQLiteIndex, snap *snapshot.SnapshotV1) error {
	disabled := map[string]bool{}
	if snap != nil {
		for _, id := range snap.DisabledSubjects {
			disabled[id] = true
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rows, err := idx.Toggles(ctx)
	if err != nil {
		return err
	}
	for _, r := range rows {
		disabled[r.Subject] = !r.Enabled
	}
	ids := make([]string, 0, len(disabled))
	for id, off := range disabled {
		if off {
			ids = append(ids, id)
		}
	}
	w.SetDisabledSubjects(ids)
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func latestSnapshot(worldDir string) string {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
