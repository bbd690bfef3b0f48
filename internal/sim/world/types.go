package world

import (
	"github.com/google/uuid"

	"dynlight.ai/internal/lighting/model"
	"dynlight.ai/internal/protocol"
)

type Player struct {
	ID       uuid.UUID
	Name     string
	Pos      model.Vec3f
	Yaw      float64
	Pitch    float64
	MainHand string
	OffHand  string
	JoinTick uint64
}

func (p *Player) Facing() model.Vec3f { return model.FacingFromYawPitch(p.Yaw, p.Pitch) }

func (p *Player) subject() model.Subject {
	return model.Subject{
		ID:     p.ID,
		Kind:   model.KindPlayer,
		Pos:    p.Pos,
		Facing: p.Facing(),
		Items:  []string{p.MainHand, p.OffHand},
	}
}

// ItemEntity is a dropped item stack. It falls until it rests on a solid block.
type ItemEntity struct {
	ID    uuid.UUID
	Item  string
	Count int
	Pos   model.Vec3f

	Resting         bool
	SpawnTick       uint64
	ExpiresTick     uint64
	PickupAfterTick uint64
}

func (it *ItemEntity) subject() model.Subject {
	return model.Subject{
		ID:    it.ID,
		Kind:  model.KindDroppedItem,
		Pos:   it.Pos,
		Items: []string{it.Item},
	}
}

type clientState struct {
	Out chan []byte
}

type JoinRequest struct {
	Name string
	Out  chan []byte
	Resp chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
}

type ActionEnvelope struct {
	PlayerID string
	Act      protocol.ActMsg
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

type AuditEntry struct {
	Tick   uint64 `json:"tick"`
	Actor  string `json:"actor"`
	Action string `json:"action"` // "SET_BLOCK"
	Pos    [3]int `json:"pos"`
	From   uint16 `json:"from"`
	To     uint16 `json:"to"`
	Reason string `json:"reason,omitempty"`
}

type AnchorLogger interface {
	WriteAnchor(entry AnchorLogEntry) error
}

// AnchorLogEntry is the persisted form of one engine anchor event.
type AnchorLogEntry struct {
	Tick    uint64 `json:"tick"`
	Cycle   uint64 `json:"cycle"`
	Subject string `json:"subject"`
	Kind    string `json:"kind"`
	Action  string `json:"action"`
	Pos     [3]int `json:"pos"`
	Level   int    `json:"level"`
	Reason  string `json:"reason,omitempty"`
}

// ToggleStore persists per-subject opt-outs across restarts.
type ToggleStore interface {
	SaveToggle(subject string, enabled bool, tick uint64) error
}
