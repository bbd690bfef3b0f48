package protocol_test

import (
	"testing"

	"dynlight.ai/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	s, err := protocol.CompileSchemas()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	validate := func(typ, raw string) {
		t.Helper()
		if err := s.Validate(typ, []byte(raw)); err != nil {
			t.Fatalf("validate %s: %v", typ, err)
		}
	}

	validate(protocol.TypeHello, `{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "player_name":"bot1",
	  "capabilities":{"max_queue":8}
	}`)

	validate(protocol.TypeAct, `{
	  "type":"ACT",
	  "protocol_version":"1.0",
	  "tick":3,
	  "instants":[
	    {"id":"I1","type":"MOVE","pos":[1.5,9,0.5],"yaw":90,"pitch":0},
	    {"id":"I2","type":"SET_HAND","hand":"MAIN","item":"TORCH"},
	    {"id":"I3","type":"SET_LIGHTS","enabled":false}
	  ]
	}`)

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		PlayerID:        "4b1f4a4c-02a7-4c43-8d0c-3c5b4a0b5a11",
		WorldParams:     protocol.WorldParams{TickRateHz: 20, LightIntervalTicks: 5, ChunkSize: [3]int{16, 16, 64}, Height: 64, ObsRadius: 16, Seed: 1337},
		Catalogs: protocol.CatalogDigests{
			BlockPalette: protocol.DigestRef{Digest: "deadbeef", Count: 21},
			ItemPalette:  protocol.DigestRef{Digest: "deadbeef", Count: 18},
		},
	}
	if err := s.ValidateValue(protocol.TypeWelcome, welcome); err != nil {
		t.Fatalf("welcome: %v", err)
	}

	obs := protocol.ObsMsg{
		Type:            protocol.TypeObs,
		ProtocolVersion: protocol.Version,
		PlayerID:        "p",
		Self:            protocol.SelfObs{MainHand: "TORCH", OffHand: "", Luminance: 14, LightsEnabled: true},
		Lights:          []protocol.LightObs{{Pos: [3]int{1, 11, 0}, Level: 14, Owner: "p"}},
		Entities:        []protocol.EntityObs{{ID: "i", Type: "ITEM", Item: "TORCH", Count: 1}},
		Events:          []protocol.Event{{"type": "CHEST_REFRESH"}},
	}
	if err := s.ValidateValue(protocol.TypeObs, obs); err != nil {
		t.Fatalf("obs: %v", err)
	}
}

func TestSchemas_RejectBadAct(t *testing.T) {
	s, err := protocol.CompileSchemas()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	cases := []string{
		`{"type":"ACT","protocol_version":"1.0","instants":[{"id":"I1","type":"MOVE"}]}`,
		`{"type":"ACT","protocol_version":"1.0","instants":[{"id":"I1","type":"FLY"}]}`,
		`{"type":"ACT","protocol_version":"1.0","instants":[{"id":"I1","type":"DROP","hand":"LEFT"}]}`,
		`{"type":"HELLO","protocol_version":"1.0"}`,
	}
	for _, raw := range cases {
		if err := s.Validate(protocol.TypeAct, []byte(raw)); err == nil {
			t.Fatalf("expected rejection: %s", raw)
		}
	}
}
