package protocol

import (
	"github.com/zeusync/netsync/internal/core/models"
)

// ComponentData is one serialized component tagged with its wire id.
type ComponentData struct {
	ComponentID models.ComponentID
	Data        []byte
}

// ComponentChanged is an authoritative diff for one entity component.
type ComponentChanged struct {
	Entity models.Uid
	Data   ComponentData
}

// EntityInsert carries a new entity with the full payload of every attached component.
type EntityInsert struct {
	Entity     models.Uid
	Components []ComponentData
}

type ComponentRemoved struct {
	Entity      models.Uid
	ComponentID models.ComponentID
}

type ComponentAdded struct {
	Entity models.Uid
	Data   ComponentData
}

// WorldState is one synchronization unit sent from the server.
// Receivers must apply its sections in declaration order.
type WorldState struct {
	CommandFrame models.CommandFrame
	// CommandFrameOffset is the client frame minus the server frame as observed by the server.
	CommandFrameOffset int32

	Removed          []models.Uid
	Inserted         []EntityInsert
	ComponentRemoved []ComponentRemoved
	ComponentAdded   []ComponentAdded
	Changed          ChangeSet
}

// Empty reports whether the state carries no entity or component events.
func (s *WorldState) Empty() bool {
	return len(s.Removed) == 0 &&
		len(s.Inserted) == 0 &&
		len(s.ComponentRemoved) == 0 &&
		len(s.ComponentAdded) == 0 &&
		s.Changed.Len() == 0
}

// ServerKind discriminates server to client envelopes.
type ServerKind uint8

const (
	ServerStateUpdate ServerKind = iota + 1
	ServerCustom
)

func (k ServerKind) String() string {
	switch k {
	case ServerStateUpdate:
		return "state_update"
	case ServerCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// ServerToClient is the envelope of every message the server sends.
type ServerToClient struct {
	Kind   ServerKind
	State  *WorldState
	Custom *Custom
}

func NewStateUpdate(state WorldState) ServerToClient {
	return ServerToClient{Kind: ServerStateUpdate, State: &state}
}

func NewServerCustom(custom Custom) ServerToClient {
	return ServerToClient{Kind: ServerCustom, Custom: &custom}
}

// IsStateUpdate is a DrainInbox predicate.
func IsStateUpdate(m ServerToClient) bool {
	return m.Kind == ServerStateUpdate && m.State != nil
}

// ClientKind discriminates client to server envelopes.
type ClientKind uint8

const (
	ClientCommand ClientKind = iota + 1
	ClientCustom
)

// CommandMessage is a command issued by a client for one entity at one frame.
type CommandMessage[C any] struct {
	Frame   models.CommandFrame
	Entity  models.Uid
	Command C
}

// ClientToServer is the envelope of every message a client sends.
type ClientToServer[C any] struct {
	Kind    ClientKind
	Command *CommandMessage[C]
	Custom  *Custom
}

func NewCommand[C any](frame models.CommandFrame, entity models.Uid, command C) ClientToServer[C] {
	return ClientToServer[C]{
		Kind:    ClientCommand,
		Command: &CommandMessage[C]{Frame: frame, Entity: entity, Command: command},
	}
}

func NewClientCustom[C any](custom Custom) ClientToServer[C] {
	return ClientToServer[C]{Kind: ClientCustom, Custom: &custom}
}

// Custom is an application defined message passed through untouched.
type Custom struct {
	Type    string
	Payload []byte
}
