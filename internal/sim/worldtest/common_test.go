package worldtest

import (
	"testing"

	"dynlight.ai/internal/protocol"
	"dynlight.ai/internal/sim/catalogs"
	"dynlight.ai/internal/sim/tuning"
	world "dynlight.ai/internal/sim/world"
)

func testCatalogs(t *testing.T) *catalogs.Catalogs {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	return cats
}

func testConfig() world.WorldConfig {
	cfg := world.ConfigFromTuning("test_world", tuning.Defaults())
	cfg.Seed = 7
	cfg.LightIntervalTicks = 1
	cfg.PickupDelayTicks = 1000
	return cfg
}

func setHand(item string) protocol.InstantReq {
	return protocol.InstantReq{ID: "h", Type: protocol.InstantSetHand, Hand: protocol.HandMain, Item: item}
}

func moveTo(x, y, z, yaw float64) protocol.InstantReq {
	return protocol.InstantReq{ID: "m", Type: protocol.InstantMove, Pos: &[3]float64{x, y, z}, Yaw: yaw}
}

func drop() protocol.InstantReq {
	return protocol.InstantReq{ID: "d", Type: protocol.InstantDrop, Hand: protocol.HandMain}
}
