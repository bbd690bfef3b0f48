package world

import (
	"dynlight.ai/internal/lighting/chestfix"
	"dynlight.ai/internal/lighting/engine"
	"dynlight.ai/internal/lighting/model"
	"dynlight.ai/internal/lighting/safety"
	"dynlight.ai/internal/sim/tuning"
)

type WorldConfig struct {
	ID                 string
	TickRateHz         int
	LightIntervalTicks int
	ObsRadius          int
	SnapshotEveryTicks int

	Height    int
	GroundY   int
	Seed      int64
	BoundaryR int

	ItemTTLTicks     int
	PickupRadius     float64
	PickupDelayTicks int
	FallPerTick      float64

	ChestFix       bool
	ChestFixConfig chestfix.Config

	Light LightSettings
}

// LightSettings is the reloadable part of the configuration. Each engine is built
// from one value and never sees it change.
type LightSettings struct {
	Sources       map[string]int
	Rules         safety.Rules
	PlayerOffsets []model.Vec3i
	ItemOffsets   []model.Vec3i
	Removal       engine.RemovalPolicy
	FadeLevel     int
	FadeTicks     int
	// Digest identifies the tuning the settings came from.
	Digest string
}

// LightSettingsFrom extracts the engine-facing settings of a tuning file.
func LightSettingsFrom(t tuning.Tuning) LightSettings {
	src := make(map[string]int, len(t.LightSources))
	for k, v := range t.LightSources {
		src[k] = v
	}
	return LightSettings{
		Sources:       src,
		Rules:         t.Rules(),
		PlayerOffsets: t.PlayerOffsets(),
		ItemOffsets:   t.ItemOffsets(),
		Removal:       t.RemovalPolicy(),
		FadeLevel:     t.Removal.FadeLevel,
		FadeTicks:     t.Removal.FadeTicks,
	}
}

// ConfigFromTuning builds a world config for a fresh world.
func ConfigFromTuning(id string, t tuning.Tuning) WorldConfig {
	return WorldConfig{
		ID:                 id,
		TickRateHz:         t.TickRateHz,
		LightIntervalTicks: t.LightIntervalTicks,
		ObsRadius:          t.ObsRadius,
		SnapshotEveryTicks: t.SnapshotEveryTicks,
		Height:             t.World.Height,
		GroundY:            t.World.GroundY,
		Seed:               t.World.Seed,
		BoundaryR:          t.World.BoundaryR,
		ItemTTLTicks:       t.Items.TTLTicks,
		PickupRadius:       t.Items.PickupRadius,
		PickupDelayTicks:   t.Items.PickupDelayTicks,
		FallPerTick:        t.Items.FallPerTick,
		ChestFix:           t.ChestFixEnabled(),
		ChestFixConfig: chestfix.Config{
			ScanRadius:     t.ChestFix.ScanRadius,
			DelayTicks:     t.ChestFix.DelayTicks,
			RefreshRadius:  t.ChestFix.RefreshRadius,
			NotifyDistance: t.ChestFix.NotifyDistance,
		},
		Light: LightSettingsFrom(t),
	}
}

func (c *WorldConfig) applyDefaults() {
	if c.ID == "" {
		c.ID = "world_1"
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = 20
	}
	if c.LightIntervalTicks <= 0 {
		c.LightIntervalTicks = 5
	}
	if c.ObsRadius <= 0 {
		c.ObsRadius = 16
	}
	if c.Height <= 0 {
		c.Height = 64
	}
	if c.GroundY <= 0 || c.GroundY >= c.Height {
		c.GroundY = min(8, c.Height-1)
	}
	if c.ItemTTLTicks <= 0 {
		c.ItemTTLTicks = 6000
	}
	if c.PickupRadius <= 0 {
		c.PickupRadius = 1.5
	}
	if c.PickupDelayTicks < 0 {
		c.PickupDelayTicks = 0
	}
	if c.FallPerTick <= 0 {
		c.FallPerTick = 0.5
	}
	if c.Light.Sources == nil {
		c.Light = LightSettingsFrom(tuning.Defaults())
	}
}
