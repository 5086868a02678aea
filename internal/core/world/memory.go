package world

import (
	"sort"

	"github.com/zeusync/netsync/internal/core/models"
	"github.com/zeusync/netsync/internal/core/protocol"
)

var _ Storage = (*Memory)(nil)

// Memory is a map backed Storage used by the server loop, tests and the demo.
type Memory struct {
	entities map[models.Handle]map[models.ComponentID]any
	next     models.Handle
}

func NewMemory() *Memory {
	return &Memory{
		entities: make(map[models.Handle]map[models.ComponentID]any),
		next:     1,
	}
}

func (m *Memory) Create() models.Handle {
	h := m.next
	m.next++
	m.entities[h] = make(map[models.ComponentID]any)
	return h
}

func (m *Memory) Delete(h models.Handle) bool {
	if _, ok := m.entities[h]; !ok {
		return false
	}
	delete(m.entities, h)
	return true
}

func (m *Memory) Exists(h models.Handle) bool {
	_, ok := m.entities[h]
	return ok
}

// Attach inserts or replaces the component value.
func (m *Memory) Attach(h models.Handle, id models.ComponentID, value any) error {
	components, ok := m.entities[h]
	if !ok {
		return protocol.NewProtocolError(protocol.ErrorCodeProtocolViolation, "attach", protocol.ErrNoSuchHandle).
			WithContext("handle", uint64(h)).
			WithContext("component_id", uint32(id))
	}
	components[id] = value
	return nil
}

func (m *Memory) Detach(h models.Handle, id models.ComponentID) bool {
	components, ok := m.entities[h]
	if !ok {
		return false
	}
	if _, ok = components[id]; !ok {
		return false
	}
	delete(components, id)
	return true
}

func (m *Memory) Has(h models.Handle, id models.ComponentID) bool {
	_, ok := m.Get(h, id)
	return ok
}

func (m *Memory) Get(h models.Handle, id models.ComponentID) (any, bool) {
	components, ok := m.entities[h]
	if !ok {
		return nil, false
	}
	value, ok := components[id]
	return value, ok
}

// Len returns the number of live entities.
func (m *Memory) Len() int {
	return len(m.entities)
}

// Components lists the component ids attached to h in ascending order.
func (m *Memory) Components(h models.Handle) []models.ComponentID {
	components := m.entities[h]
	ids := make([]models.ComponentID, 0, len(components))
	for id := range components {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
