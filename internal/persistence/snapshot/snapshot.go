package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	Seed      int64 `json:"seed"`
	TickRate  int   `json:"tick_rate_hz"`
	Height    int   `json:"height"`
	GroundY   int   `json:"ground_y"`
	BoundaryR int   `json:"boundary_r"`

	// Palette maps the uint16 block ids in Chunks back to catalog ids, so a snapshot
	// survives catalog reordering.
	Palette []string `json:"palette"`

	Chunks []ChunkV1      `json:"chunks"`
	Lights []LightV1      `json:"lights,omitempty"`
	Items  []ItemEntityV1 `json:"items,omitempty"`

	// DisabledSubjects are subjects that opted out of dynamic lights.
	DisabledSubjects []string `json:"disabled_subjects,omitempty"`

	Counters CountersV1 `json:"counters"`
}

type ChunkV1 struct {
	CX     int      `json:"cx"`
	CZ     int      `json:"cz"`
	Height int      `json:"height"`
	Blocks []uint16 `json:"blocks"`
}

// LightV1 is a LIGHT block with its level. Anchors are transient, so a snapshot
// taken while the engine runs may carry them; loaders purge them.
type LightV1 struct {
	Pos   [3]int `json:"pos"`
	Level int    `json:"level"`
}

type ItemEntityV1 struct {
	ID              string     `json:"id"`
	Item            string     `json:"item"`
	Count           int        `json:"count"`
	Pos             [3]float64 `json:"pos"`
	Resting         bool       `json:"resting,omitempty"`
	SpawnTick       uint64     `json:"spawn_tick"`
	ExpiresTick     uint64     `json:"expires_tick"`
	PickupAfterTick uint64     `json:"pickup_after_tick,omitempty"`
}

type CountersV1 struct {
	Placements uint64 `json:"placements"`
	Removals   uint64 `json:"removals"`
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	if snap.Header.Version == 0 {
		snap.Header.Version = Version
	}
	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The header line is for tools; gob carries it too.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("snapshot version %d: unsupported", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the leading JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

// Path returns the conventional snapshot file for a tick under worldDir.
func Path(worldDir string, tick uint64) string {
	return filepath.Join(worldDir, "snapshots", fmt.Sprintf("%d.snap.zst", tick))
}
