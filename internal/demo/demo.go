// Package demo is a minimal game used by the binaries: every session owns one avatar that
// moves on a bounded grid.
package demo

import (
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/zeusync/netsync/internal/core/models"
	"github.com/zeusync/netsync/internal/core/protocol"
	"github.com/zeusync/netsync/internal/core/registry"
	"github.com/zeusync/netsync/internal/server"
)

const (
	PositionID models.ComponentID = 1
	NameID     models.ComponentID = 2

	// ArenaSize bounds both axes to [-ArenaSize, ArenaSize].
	ArenaSize int32 = 64

	// AssignMessage tells a client which entity it controls. The payload is the decimal uid.
	AssignMessage = "assign"
)

type Position struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
}

type Name struct {
	Value string `json:"value"`
}

// Move is the only command: a unit step on each axis.
type Move struct {
	DX int8
	DY int8
}

// Register binds the demo components to their wire ids.
func Register(reg *registry.Registry) error {
	if _, err := registry.Register[Position](reg, PositionID); err != nil {
		return err
	}
	if _, err := registry.Register[Name](reg, NameID); err != nil {
		return err
	}
	return nil
}

// NewRegistry returns a registry holding the demo components.
func NewRegistry() (*registry.Registry, error) {
	reg := registry.New()
	if err := Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// Step applies a move to a Position. Both peers run it, so it must stay deterministic.
func Step(move Move) func(current any) (any, error) {
	return func(current any) (any, error) {
		p, ok := current.(Position)
		if !ok {
			return nil, protocol.NewProtocolError(protocol.ErrorCodeProtocolViolation, "step", protocol.ErrTypeMismatch)
		}
		p.X = clamp(p.X + int32(sign(move.DX)))
		p.Y = clamp(p.Y + int32(sign(move.DY)))
		return p, nil
	}
}

func sign(v int8) int8 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func clamp(v int32) int32 {
	return max(-ArenaSize, min(ArenaSize, v))
}

// Game spawns an avatar per session and executes its moves.
type Game struct {
	mu      sync.Mutex
	avatars map[uuid.UUID]models.Uid
}

func NewGame() *Game {
	return &Game{avatars: make(map[uuid.UUID]models.Uid)}
}

var (
	_ server.CommandHandler[Move]  = (*Game)(nil)
	_ server.SessionObserver[Move] = (*Game)(nil)
)

func (g *Game) SessionJoined(w *server.World[Move], session uuid.UUID) error {
	id, err := w.Spawn(Position{}, Name{Value: session.String()[:8]})
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.avatars[session] = id
	g.mu.Unlock()

	return w.SendCustom(session, protocol.Custom{
		Type:    AssignMessage,
		Payload: []byte(strconv.FormatUint(uint64(id), 10)),
	})
}

func (g *Game) SessionLeft(w *server.World[Move], session uuid.UUID) error {
	g.mu.Lock()
	id, ok := g.avatars[session]
	delete(g.avatars, session)
	g.mu.Unlock()

	if !ok {
		return nil
	}
	return w.Despawn(id)
}

// HandleCommand moves the avatar. Commands for entities the session does not own are
// rejected without closing the session.
func (g *Game) HandleCommand(w *server.World[Move], session uuid.UUID, cmd protocol.CommandMessage[Move]) error {
	if avatar, ok := g.Avatar(session); !ok || avatar != cmd.Entity {
		return ErrNotOwner
	}
	return w.Modify(cmd.Entity, PositionID, Step(cmd.Command))
}

// Avatar returns the entity a session controls.
func (g *Game) Avatar(session uuid.UUID) (models.Uid, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.avatars[session]
	return id, ok
}

// ParseAssign decodes an AssignMessage payload.
func ParseAssign(custom protocol.Custom) (models.Uid, bool) {
	if custom.Type != AssignMessage {
		return 0, false
	}
	id, err := strconv.ParseUint(string(custom.Payload), 10, 64)
	if err != nil {
		return 0, false
	}
	return models.Uid(id), true
}
