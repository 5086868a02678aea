// Package tracking records world mutations between two gathers.
package tracking

import (
	"sync"

	"github.com/zeusync/netsync/internal/core/models"
)

// Kind is the type of a recorded mutation.
type Kind uint8

const (
	Inserted Kind = iota + 1
	Removed
	Modified
	ComponentAdded
	ComponentRemoved
)

func (k Kind) String() string {
	switch k {
	case Inserted:
		return "inserted"
	case Removed:
		return "removed"
	case Modified:
		return "modified"
	case ComponentAdded:
		return "component_added"
	case ComponentRemoved:
		return "component_removed"
	default:
		return "unknown"
	}
}

// Event is one mutation. Before and After are only set for Modified.
type Event struct {
	Kind      Kind
	Entity    models.Uid
	Component models.ComponentID
	Before    []byte
	After     []byte
}

// Tracker collects events from whoever mutates the world.
type Tracker struct {
	mu     sync.Mutex
	events []Event
}

func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) Inserted(entity models.Uid) {
	t.record(Event{Kind: Inserted, Entity: entity})
}

func (t *Tracker) Removed(entity models.Uid) {
	t.record(Event{Kind: Removed, Entity: entity})
}

func (t *Tracker) Modified(entity models.Uid, component models.ComponentID, before, after []byte) {
	t.record(Event{Kind: Modified, Entity: entity, Component: component, Before: before, After: after})
}

func (t *Tracker) ComponentAdded(entity models.Uid, component models.ComponentID) {
	t.record(Event{Kind: ComponentAdded, Entity: entity, Component: component})
}

func (t *Tracker) ComponentRemoved(entity models.Uid, component models.ComponentID) {
	t.record(Event{Kind: ComponentRemoved, Entity: entity, Component: component})
}

func (t *Tracker) record(e Event) {
	t.mu.Lock()
	t.events = append(t.events, e)
	t.mu.Unlock()
}

// Gather drains every event recorded since the previous call, in recording order.
func (t *Tracker) Gather() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	events := t.events
	t.events = nil
	return events
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}
