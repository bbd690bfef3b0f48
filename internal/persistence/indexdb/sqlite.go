package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"dynlight.ai/internal/persistence/snapshot"
	"dynlight.ai/internal/sim/catalogs"
	"dynlight.ai/internal/sim/tuning"
	"dynlight.ai/internal/sim/world"
)

// SQLiteIndex is a queryable read model of anchor history, block audits, snapshots
// and the persisted tracking toggles. Writes go through one goroutine and are
// batched; the JSONL logs stay the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
	onDrop func()

	dropAnchor   atomic.Uint64
	dropAudit    atomic.Uint64
	dropSnapshot atomic.Uint64
	dropToggle   atomic.Uint64
}

type reqKind int

const (
	reqAnchor reqKind = iota + 1
	reqAudit
	reqSnapshot
	reqToggle
)

type req struct {
	kind reqKind

	anchor   world.AnchorLogEntry
	audit    world.AuditEntry
	snapshot SnapshotRow
	toggle   toggleRow
}

type toggleRow struct {
	Subject string
	Enabled bool
	Tick    uint64
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropAnchorTotal   uint64 `json:"drop_anchor_total"`
	DropAuditTotal    uint64 `json:"drop_audit_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
	DropToggleTotal   uint64 `json:"drop_toggle_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// A walking crowd emits two anchor events per block crossed; keep headroom.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS anchor_events (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			cycle INTEGER NOT NULL,
			subject TEXT NOT NULL,
			kind TEXT NOT NULL,
			action TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			level INTEGER NOT NULL,
			reason TEXT,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_anchor_events_subject_tick ON anchor_events(subject, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_anchor_events_pos_tick ON anchor_events(x, z, y, tick);`,
		`CREATE TABLE IF NOT EXISTS audits (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			from_block INTEGER NOT NULL,
			to_block INTEGER NOT NULL,
			reason TEXT,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_actor_tick ON audits(actor, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			seed INTEGER NOT NULL,
			height INTEGER NOT NULL,
			chunks INTEGER NOT NULL,
			lights INTEGER NOT NULL,
			items INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tracking_toggles (
			subject TEXT PRIMARY KEY,
			enabled INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// SetDropHook registers a callback run whenever a write is dropped.
func (s *SQLiteIndex) SetDropHook(fn func()) { s.onDrop = fn }

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropAnchorTotal:   s.dropAnchor.Load(),
		DropAuditTotal:    s.dropAudit.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		DropToggleTotal:   s.dropToggle.Load(),
	}
}

// enqueue never blocks the sim loop: if the indexer falls behind the write is
// dropped and counted.
func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
		if s.onDrop != nil {
			s.onDrop()
		}
	}
}

func (s *SQLiteIndex) WriteAnchor(entry world.AnchorLogEntry) error {
	s.enqueue(req{kind: reqAnchor, anchor: entry}, &s.dropAnchor)
	return nil
}

func (s *SQLiteIndex) WriteAudit(entry world.AuditEntry) error {
	s.enqueue(req{kind: reqAudit, audit: entry}, &s.dropAudit)
	return nil
}

func (s *SQLiteIndex) SaveToggle(subject string, enabled bool, tick uint64) error {
	s.enqueue(req{kind: reqToggle, toggle: toggleRow{Subject: subject, Enabled: enabled, Tick: tick}}, &s.dropToggle)
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	r := SnapshotRow{
		Tick:   snap.Header.Tick,
		Path:   path,
		Seed:   snap.Seed,
		Height: snap.Height,
		Chunks: len(snap.Chunks),
		Lights: len(snap.Lights),
		Items:  len(snap.Items),
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: r}, &s.dropSnapshot)
}

// DisabledSubjects returns the subjects whose last recorded toggle turned lights off.
func (s *SQLiteIndex) DisabledSubjects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT subject FROM tracking_toggles WHERE enabled = 0 ORDER BY subject`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type ToggleRow struct {
	Subject   string `json:"subject"`
	Enabled   bool   `json:"enabled"`
	Tick      uint64 `json:"tick"`
	UpdatedAt string `json:"updated_at"`
}

func (s *SQLiteIndex) Toggles(ctx context.Context) ([]ToggleRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT subject, enabled, tick, updated_at FROM tracking_toggles ORDER BY subject`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ToggleRow
	for rows.Next() {
		var r ToggleRow
		var enabled int
		var tick int64
		if err := rows.Scan(&r.Subject, &enabled, &tick, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Enabled = enabled != 0
		r.Tick = uint64(tick)
		out = append(out, r)
	}
	return out, rows.Err()
}

// AnchorEvents returns the newest anchor events, newest first. An empty subject
// matches every subject.
func (s *SQLiteIndex) AnchorEvents(ctx context.Context, subject string, limit int) ([]world.AnchorLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT tick, cycle, subject, kind, action, x, y, z, level, COALESCE(reason,'') FROM anchor_events`
	args := []any{}
	if subject != "" {
		q += ` WHERE subject = ?`
		args = append(args, subject)
	}
	q += ` ORDER BY tick DESC, seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []world.AnchorLogEntry
	for rows.Next() {
		var e world.AnchorLogEntry
		var tick, cycle int64
		if err := rows.Scan(&tick, &cycle, &e.Subject, &e.Kind, &e.Action, &e.Pos[0], &e.Pos[1], &e.Pos[2], &e.Level, &e.Reason); err != nil {
			return nil, err
		}
		e.Tick, e.Cycle = uint64(tick), uint64(cycle)
		out = append(out, e)
	}
	return out, rows.Err()
}

type SnapshotRow struct {
	Tick   uint64 `json:"tick"`
	Path   string `json:"path"`
	Seed   int64  `json:"seed"`
	Height int    `json:"height"`
	Chunks int    `json:"chunks"`
	Lights int    `json:"lights"`
	Items  int    `json:"items"`
}

func (s *SQLiteIndex) Snapshots(ctx context.Context, limit int) ([]SnapshotRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT tick,path,seed,height,chunks,lights,items FROM snapshots ORDER BY tick DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SnapshotRow
	for rows.Next() {
		var r SnapshotRow
		var tick int64
		if err := rows.Scan(&tick, &r.Path, &r.Seed, &r.Height, &r.Chunks, &r.Lights, &r.Items); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	raw := map[string][]byte{}
	read := func(name, path string) {
		b, err := os.ReadFile(path)
		if err != nil {
			return
		}
		raw[name] = b
	}
	if configDir != "" {
		read("blocks_defs", filepath.Join(configDir, "blocks.json"))
		read("items_defs", filepath.Join(configDir, "items.json"))
	}

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if b := raw["blocks_defs"]; len(b) > 0 {
		rows = append(rows, kv{name: "blocks_defs", digest: cats.Blocks.DefsDigest, json: b})
	}
	if b, _ := json.Marshal(cats.Blocks.Palette); len(b) > 0 {
		rows = append(rows, kv{name: "blocks_palette", digest: cats.Blocks.PaletteDigest, json: b})
	}
	if b := raw["items_defs"]; len(b) > 0 {
		rows = append(rows, kv{name: "items_defs", digest: cats.Items.DefsDigest, json: b})
	}
	if b, _ := json.Marshal(cats.Items.Palette); len(b) > 0 {
		rows = append(rows, kv{name: "items_palette", digest: cats.Items.PaletteDigest, json: b})
	}
	{
		b, digest := TuningDigest(tune)
		rows = append(rows, kv{name: "tuning", digest: digest, json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// TuningDigest is the canonical JSON of the applied tuning and its sha256.
func TuningDigest(tune tuning.Tuning) ([]byte, string) {
	b, _ := json.Marshal(tune)
	sum := sha256.Sum256(b)
	return b, hex.EncodeToString(sum[:])
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertAnchor, _ := s.db.Prepare(`INSERT OR REPLACE INTO anchor_events(tick,seq,cycle,subject,kind,action,x,y,z,level,reason) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	insertAudit, _ := s.db.Prepare(`INSERT OR REPLACE INTO audits(tick,seq,actor,action,x,y,z,from_block,to_block,reason,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,seed,height,chunks,lights,items) VALUES(?,?,?,?,?,?,?)`)
	upsertToggle, _ := s.db.Prepare(`INSERT OR REPLACE INTO tracking_toggles(subject,enabled,tick,updated_at) VALUES(?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertAnchor, insertAudit, insertSnapshot, upsertToggle} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastAnchorTick uint64
		anchorSeq      int
		lastAuditTick  uint64
		auditSeq       int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	handle := func(r req) {
		begin()
		if tx == nil {
			return
		}
		switch r.kind {
		case reqAnchor:
			a := r.anchor
			if a.Tick != lastAnchorTick {
				lastAnchorTick = a.Tick
				anchorSeq = 0
			}
			seq := anchorSeq
			anchorSeq++
			exec(insertAnchor, int64(a.Tick), seq, int64(a.Cycle), a.Subject, a.Kind, a.Action,
				a.Pos[0], a.Pos[1], a.Pos[2], a.Level, a.Reason)

		case reqAudit:
			a := r.audit
			if a.Tick != lastAuditTick {
				lastAuditTick = a.Tick
				auditSeq = 0
			}
			seq := auditSeq
			auditSeq++
			raw, _ := json.Marshal(a)
			exec(insertAudit, int64(a.Tick), seq, a.Actor, a.Action, a.Pos[0], a.Pos[1], a.Pos[2],
				int64(a.From), int64(a.To), a.Reason, string(raw))

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, int64(sn.Tick), sn.Path, sn.Seed, sn.Height, sn.Chunks, sn.Lights, sn.Items)

		case reqToggle:
			tg := r.toggle
			enabled := 0
			if tg.Enabled {
				enabled = 1
			}
			exec(upsertToggle, tg.Subject, enabled, int64(tg.Tick), time.Now().UTC().Format(time.RFC3339Nano))
			// Toggles commit right away.
			commit()
			return
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	// Readers share the single connection, so an idle tx must not stay open.
	idle := time.NewTicker(commitMaxWait)
	defer idle.Stop()
	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			handle(r)
		case <-idle.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		}
	}
}
