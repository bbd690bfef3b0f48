package tuning

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"dynlight.ai/internal/lighting/engine"
	"dynlight.ai/internal/lighting/locate"
	"dynlight.ai/internal/lighting/model"
	"dynlight.ai/internal/lighting/safety"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz         int `yaml:"tick_rate_hz"`
	LightIntervalTicks int `yaml:"light_interval_ticks"`
	ObsRadius          int `yaml:"obs_radius"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`

	// LightSources maps item ids to the light level they emit when held or dropped.
	LightSources map[string]int `yaml:"light_sources"`

	Offsets  Offsets  `yaml:"offsets"`
	Safety   Safety   `yaml:"safety"`
	Removal  Removal  `yaml:"removal"`
	World    World    `yaml:"world"`
	Items    Items    `yaml:"items"`
	ChestFix ChestFix `yaml:"chest_fix"`

	RateLimits RateLimits `yaml:"rate_limits"`
}

type Offsets struct {
	Player [][3]int `yaml:"player"`
	Item   [][3]int `yaml:"item"`
}

type Safety struct {
	NeighborhoodRadius int      `yaml:"neighborhood_radius"`
	LookDistance       float64  `yaml:"look_distance"`
	ColumnDepth        int      `yaml:"column_depth"`
	Interactable       []string `yaml:"interactable"`
}

type Removal struct {
	Policy    string `yaml:"policy"` // "immediate" | "fade"
	FadeLevel int    `yaml:"fade_level"`
	FadeTicks int    `yaml:"fade_ticks"`
}

type World struct {
	Height    int   `yaml:"height"`
	GroundY   int   `yaml:"ground_y"`
	Seed      int64 `yaml:"seed"`
	BoundaryR int   `yaml:"boundary_r"`
}

type Items struct {
	TTLTicks         int     `yaml:"ttl_ticks"`
	PickupRadius     float64 `yaml:"pickup_radius"`
	PickupDelayTicks int     `yaml:"pickup_delay_ticks"`
	FallPerTick      float64 `yaml:"fall_per_tick"`
}

type ChestFix struct {
	Enabled        *bool `yaml:"enabled"`
	ScanRadius     int   `yaml:"scan_radius"`
	DelayTicks     int   `yaml:"delay_ticks"`
	RefreshRadius  int   `yaml:"refresh_radius"`
	NotifyDistance int   `yaml:"notify_distance"`
}

type RateLimits struct {
	ActsPerSecond float64 `yaml:"acts_per_second"`
	ActBurst      int     `yaml:"act_burst"`
}

const (
	PolicyImmediate = "immediate"
	PolicyFade      = "fade"
)

// Defaults returns the tuning used when no lights.yaml is present.
func Defaults() Tuning {
	var t Tuning
	t.applyDefaults()
	return t
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("lights.yaml: %w", err)
	}
	t.applyDefaults()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("lights.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) applyDefaults() {
	if t.ProtocolVersion == "" {
		t.ProtocolVersion = "1.0"
	}
	if t.TickRateHz <= 0 {
		t.TickRateHz = 20
	}
	// One light cycle per 5 ticks, a quarter second at 20Hz.
	if t.LightIntervalTicks <= 0 {
		t.LightIntervalTicks = 5
	}
	if t.ObsRadius <= 0 {
		t.ObsRadius = 16
	}
	if t.SnapshotEveryTicks <= 0 {
		t.SnapshotEveryTicks = 6000
	}
	if t.LightSources == nil {
		t.LightSources = map[string]int{
			"TORCH":          14,
			"SOUL_TORCH":     10,
			"LANTERN":        15,
			"SOUL_LANTERN":   10,
			"GLOWSTONE":      15,
			"GLOWSTONE_DUST": 8,
			"SEA_LANTERN":    15,
			"JACK_O_LANTERN": 15,
			"LAVA_BUCKET":    15,
			"SHROOMLIGHT":    15,
			"END_ROD":        14,
			"REDSTONE_TORCH": 7,
		}
	}
	if len(t.Offsets.Player) == 0 {
		t.Offsets.Player = toArrays(locate.DefaultPlayerOffsets)
	}
	if len(t.Offsets.Item) == 0 {
		t.Offsets.Item = toArrays(locate.DefaultItemOffsets)
	}
	if t.Safety.NeighborhoodRadius == 0 {
		t.Safety.NeighborhoodRadius = safety.DefaultNeighborhoodRadius
	}
	if t.Safety.LookDistance == 0 {
		t.Safety.LookDistance = safety.DefaultLookDistance
	}
	if t.Safety.ColumnDepth == 0 {
		t.Safety.ColumnDepth = safety.DefaultColumnDepth
	}
	if t.Safety.Interactable == nil {
		t.Safety.Interactable = append([]string(nil), safety.DefaultInteractable...)
	}
	t.Removal.Policy = strings.ToLower(strings.TrimSpace(t.Removal.Policy))
	if t.Removal.Policy == "" {
		t.Removal.Policy = PolicyImmediate
	}
	if t.Removal.FadeLevel <= 0 {
		t.Removal.FadeLevel = engine.DefaultFadeLevel
	}
	if t.Removal.FadeTicks <= 0 {
		t.Removal.FadeTicks = engine.DefaultFadeTicks
	}
	if t.World.Height <= 0 {
		t.World.Height = 64
	}
	if t.World.GroundY <= 0 {
		t.World.GroundY = 8
	}
	if t.World.Seed == 0 {
		t.World.Seed = 1337
	}
	if t.World.BoundaryR <= 0 {
		t.World.BoundaryR = 512
	}
	if t.Items.TTLTicks <= 0 {
		t.Items.TTLTicks = 6000
	}
	if t.Items.PickupRadius <= 0 {
		t.Items.PickupRadius = 1.5
	}
	if t.Items.PickupDelayTicks <= 0 {
		t.Items.PickupDelayTicks = 40
	}
	if t.Items.FallPerTick <= 0 {
		t.Items.FallPerTick = 0.5
	}
	if t.ChestFix.Enabled == nil {
		on := true
		t.ChestFix.Enabled = &on
	}
	if t.ChestFix.ScanRadius <= 0 {
		t.ChestFix.ScanRadius = 3
	}
	if t.ChestFix.DelayTicks <= 0 {
		t.ChestFix.DelayTicks = 3
	}
	if t.ChestFix.RefreshRadius <= 0 {
		t.ChestFix.RefreshRadius = 2
	}
	if t.ChestFix.NotifyDistance <= 0 {
		t.ChestFix.NotifyDistance = 32
	}
	if t.RateLimits.ActsPerSecond <= 0 {
		t.RateLimits.ActsPerSecond = 20
	}
	if t.RateLimits.ActBurst <= 0 {
		t.RateLimits.ActBurst = 40
	}
}

func (t Tuning) Validate() error {
	if t.Removal.Policy != PolicyImmediate && t.Removal.Policy != PolicyFade {
		return fmt.Errorf("removal.policy %q: want %q or %q", t.Removal.Policy, PolicyImmediate, PolicyFade)
	}
	if t.Removal.FadeLevel > model.MaxLevel {
		return fmt.Errorf("removal.fade_level %d out of range", t.Removal.FadeLevel)
	}
	for item, lvl := range t.LightSources {
		if lvl < model.MinLevel || lvl > model.MaxLevel {
			return fmt.Errorf("light_sources.%s: level %d out of range [%d,%d]", item, lvl, model.MinLevel, model.MaxLevel)
		}
	}
	if err := checkOffsets("offsets.player", t.Offsets.Player); err != nil {
		return err
	}
	if err := checkOffsets("offsets.item", t.Offsets.Item); err != nil {
		return err
	}
	if t.World.GroundY >= t.World.Height {
		return fmt.Errorf("world.ground_y %d must be below world.height %d", t.World.GroundY, t.World.Height)
	}
	if t.LightIntervalTicks > t.TickRateHz*60 {
		return fmt.Errorf("light_interval_ticks %d exceeds one minute of ticks", t.LightIntervalTicks)
	}
	return nil
}

func checkOffsets(field string, offs [][3]int) error {
	seen := map[[3]int]bool{}
	for i, o := range offs {
		if o == [3]int{} {
			return fmt.Errorf("%s[%d]: zero offset would place the light inside the subject", field, i)
		}
		if seen[o] {
			return fmt.Errorf("%s[%d]: duplicate offset %v", field, i, o)
		}
		seen[o] = true
	}
	return nil
}

func toArrays(in []model.Vec3i) [][3]int {
	out := make([][3]int, len(in))
	for i, v := range in {
		out[i] = v.ToArray()
	}
	return out
}

func toVecs(in [][3]int) []model.Vec3i {
	out := make([]model.Vec3i, len(in))
	for i, a := range in {
		out[i] = model.VecFromArray(a)
	}
	return out
}

func (t Tuning) PlayerOffsets() []model.Vec3i { return toVecs(t.Offsets.Player) }
func (t Tuning) ItemOffsets() []model.Vec3i   { return toVecs(t.Offsets.Item) }

func (t Tuning) Rules() safety.Rules {
	return safety.Rules{
		NeighborhoodRadius: t.Safety.NeighborhoodRadius,
		LookDistance:       t.Safety.LookDistance,
		ColumnDepth:        t.Safety.ColumnDepth,
		Interactable:       append([]string(nil), t.Safety.Interactable...),
	}
}

func (t Tuning) RemovalPolicy() engine.RemovalPolicy {
	if t.Removal.Policy == PolicyFade {
		return engine.RemoveFade
	}
	return engine.RemoveImmediately
}

func (t Tuning) ChestFixEnabled() bool {
	return t.ChestFix.Enabled == nil || *t.ChestFix.Enabled
}
