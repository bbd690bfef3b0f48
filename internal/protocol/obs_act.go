package protocol

type ObsMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	PlayerID        string `json:"player_id"`

	Self     SelfObs     `json:"self"`
	Lights   []LightObs  `json:"lights"`
	Entities []EntityObs `json:"entities"`
	Events   []Event     `json:"events"`
}

type SelfObs struct {
	Pos      [3]float64 `json:"pos"`
	Block    [3]int     `json:"block"`
	Yaw      float64    `json:"yaw"`
	Pitch    float64    `json:"pitch"`
	MainHand string     `json:"main_hand"`
	OffHand  string     `json:"off_hand"`
	// Luminance is the light level the held items emit (0 when none or disabled).
	Luminance     int  `json:"luminance"`
	LightsEnabled bool `json:"lights_enabled"`
}

type LightObs struct {
	Pos   [3]int `json:"pos"`
	Level int    `json:"level"`
	Owner string `json:"owner,omitempty"`
}

type EntityObs struct {
	ID   string     `json:"id"`
	Type string     `json:"type"` // "PLAYER", "ITEM"
	Pos  [3]float64 `json:"pos"`

	Name  string `json:"name,omitempty"`
	Item  string `json:"item,omitempty"`
	Count int    `json:"count,omitempty"`
}

type Event map[string]interface{}

// ACT (client -> server)
type ActMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Tick            uint64       `json:"tick"`
	PlayerID        string       `json:"player_id"`
	Instants        []InstantReq `json:"instants,omitempty"`
}

// Instant types.
const (
	InstantMove       = "MOVE"
	InstantSetHand    = "SET_HAND"
	InstantSwapHands  = "SWAP_HANDS"
	InstantDrop       = "DROP"
	InstantPlaceBlock = "PLACE_BLOCK"
	InstantBreakBlock = "BREAK_BLOCK"
	InstantSetLights  = "SET_LIGHTS"
)

const (
	HandMain = "MAIN"
	HandOff  = "OFF"
)

type InstantReq struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	// MOVE
	Pos   *[3]float64 `json:"pos,omitempty"`
	Yaw   float64     `json:"yaw,omitempty"`
	Pitch float64     `json:"pitch,omitempty"`

	// SET_HAND / DROP
	Hand string `json:"hand,omitempty"`
	Item string `json:"item,omitempty"`

	// PLACE_BLOCK / BREAK_BLOCK
	Target *[3]int `json:"target,omitempty"`
	Block  string  `json:"block,omitempty"`

	// SET_LIGHTS
	Enabled *bool `json:"enabled,omitempty"`
}
