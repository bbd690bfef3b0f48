package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	PlayerName      string            `json:"player_name"`
	Capabilities    HelloCapabilities `json:"capabilities"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	PlayerID        string         `json:"player_id"`
	WorldParams     WorldParams    `json:"world_params"`
	Catalogs        CatalogDigests `json:"catalogs"`
	Spawn           [3]float64     `json:"spawn"`
}

type WorldParams struct {
	TickRateHz         int    `json:"tick_rate_hz"`
	LightIntervalTicks int    `json:"light_interval_ticks"`
	ChunkSize          [3]int `json:"chunk_size"`
	Height             int    `json:"height"`
	ObsRadius          int    `json:"obs_radius"`
	Seed               int64  `json:"seed"`
}

type CatalogDigests struct {
	BlockPalette DigestRef `json:"block_palette"`
	ItemPalette  DigestRef `json:"item_palette"`
	TuningDigest string    `json:"tuning_digest,omitempty"`
}

type DigestRef struct {
	Digest string `json:"digest"`
	Count  int    `json:"count"`
}

// ACK (server -> client) answers every instant that was rejected.
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	ServerTick      uint64 `json:"server_tick,omitempty"`
}
