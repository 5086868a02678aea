// Package serialize builds outgoing WorldState messages from tracked mutations.
package serialize

import (
	"github.com/zeusync/netsync/internal/core/models"
	"github.com/zeusync/netsync/internal/core/observability/log"
	"github.com/zeusync/netsync/internal/core/protocol"
	"github.com/zeusync/netsync/internal/core/registry"
	"github.com/zeusync/netsync/internal/core/tracking"
	"github.com/zeusync/netsync/internal/core/uid"
	"github.com/zeusync/netsync/internal/core/world"
)

// Builder is the inverse of reconciliation: it turns the mutations of one tick into the
// message a client applies.
type Builder struct {
	log       log.Log
	registry  *registry.Registry
	allocator *uid.Allocator
	world     world.Storage
}

func NewBuilder(logger log.Log, reg *registry.Registry, allocator *uid.Allocator, w world.Storage) *Builder {
	return &Builder{
		log:       logger.With(log.String("component", "serialize")),
		registry:  reg,
		allocator: allocator,
		world:     w,
	}
}

type componentKey struct {
	entity    models.Uid
	component models.ComponentID
}

type componentState struct {
	added    bool
	removed  bool
	modified bool
	before   []byte
	after    []byte
}

// Build coalesces events into one WorldState. Entities inserted in the batch are sent with
// their full current payload, removed ones suppress every other event, and a chain of
// modifications collapses to one diff from the first before to the last after. An identity
// removed and then inserted again is sent as both; receivers apply removals first.
func (b *Builder) Build(frame models.CommandFrame, events []tracking.Event) (protocol.WorldState, error) {
	state := protocol.WorldState{CommandFrame: frame}

	var (
		entityOrder []models.Uid
		inserted    = make(map[models.Uid]bool)
		removed     = make(map[models.Uid]bool)
		dropped     = make(map[models.Uid]bool)

		componentOrder []componentKey
		components     = make(map[componentKey]*componentState)
	)

	for _, ev := range events {
		switch ev.Kind {
		case tracking.Inserted:
			if !inserted[ev.Entity] && !removed[ev.Entity] {
				entityOrder = append(entityOrder, ev.Entity)
			}
			inserted[ev.Entity] = true
			delete(dropped, ev.Entity)

		case tracking.Removed:
			if inserted[ev.Entity] {
				delete(inserted, ev.Entity)
				dropped[ev.Entity] = true
				continue
			}
			if !removed[ev.Entity] {
				entityOrder = append(entityOrder, ev.Entity)
			}
			removed[ev.Entity] = true

		default:
			k := componentKey{entity: ev.Entity, component: ev.Component}
			st, ok := components[k]
			if !ok {
				st = &componentState{}
				components[k] = st
				componentOrder = append(componentOrder, k)
			}
			applyComponentEvent(st, ev)
		}
	}

	for _, id := range entityOrder {
		if removed[id] {
			state.Removed = append(state.Removed, id)
		}
		if inserted[id] {
			insert, err := b.insert(id)
			if err != nil {
				return state, err
			}
			state.Inserted = append(state.Inserted, insert)
		}
	}

	for _, k := range componentOrder {
		if inserted[k.entity] || removed[k.entity] || dropped[k.entity] {
			continue
		}
		if err := b.component(&state, k, components[k]); err != nil {
			return state, err
		}
	}

	return state, nil
}

func applyComponentEvent(st *componentState, ev tracking.Event) {
	switch ev.Kind {
	case tracking.ComponentAdded:
		st.added = true
	case tracking.ComponentRemoved:
		if st.added && !st.removed {
			*st = componentState{}
			return
		}
		st.added = false
		st.removed = true
		st.modified = false
	case tracking.Modified:
		if !st.modified {
			st.before = ev.Before
		}
		st.after = ev.After
		st.modified = true
	}
}

func (b *Builder) component(state *protocol.WorldState, k componentKey, st *componentState) error {
	if !st.added && !st.removed && !st.modified {
		return nil
	}

	d, err := b.registry.ByID(k.component)
	if err != nil {
		return b.fatal(err, "build", state.CommandFrame, k.entity, k.component)
	}

	if st.removed {
		state.ComponentRemoved = append(state.ComponentRemoved, protocol.ComponentRemoved{Entity: k.entity, ComponentID: k.component})
	}

	if st.added {
		handle, err := b.allocator.Handle(k.entity)
		if err != nil {
			return b.fatal(err, "build", state.CommandFrame, k.entity, k.component)
		}
		data, ok, err := d.Snapshot(b.world, handle)
		if err != nil {
			return b.fatal(err, "build", state.CommandFrame, k.entity, k.component)
		}
		if ok {
			state.ComponentAdded = append(state.ComponentAdded, protocol.ComponentAdded{
				Entity: k.entity,
				Data:   protocol.ComponentData{ComponentID: k.component, Data: data},
			})
		}
		return nil
	}

	if st.modified {
		patch, changed, err := d.Diff(st.before, st.after)
		if err != nil {
			b.log.Warn("Skipping undiffable change",
				log.Uint64("uid", uint64(k.entity)),
				log.Uint32("component_id", uint32(k.component)),
				log.Error(err),
			)
			return nil
		}
		if changed {
			state.Changed.Add(protocol.ComponentChanged{
				Entity: k.entity,
				Data:   protocol.ComponentData{ComponentID: k.component, Data: patch},
			})
		}
	}
	return nil
}

// Snapshot describes the whole world as inserts, for peers that just connected.
func (b *Builder) Snapshot(frame models.CommandFrame) (protocol.WorldState, error) {
	state := protocol.WorldState{CommandFrame: frame}
	for _, id := range b.allocator.Uids() {
		insert, err := b.insert(id)
		if err != nil {
			return state, err
		}
		state.Inserted = append(state.Inserted, insert)
	}
	return state, nil
}

func (b *Builder) insert(id models.Uid) (protocol.EntityInsert, error) {
	insert := protocol.EntityInsert{Entity: id}

	handle, err := b.allocator.Handle(id)
	if err != nil {
		return insert, protocol.WrapError(err, "snapshot entity").WithContext("uid", uint64(id))
	}

	for _, d := range b.registry.Descriptors() {
		data, ok, err := d.Snapshot(b.world, handle)
		if err != nil {
			return insert, protocol.WrapError(err, "snapshot entity").
				WithContext("uid", uint64(id)).
				WithContext("component_id", uint32(d.ID()))
		}
		if ok {
			insert.Components = append(insert.Components, protocol.ComponentData{ComponentID: d.ID(), Data: data})
		}
	}
	return insert, nil
}

func (b *Builder) fatal(err error, op string, frame models.CommandFrame, entity models.Uid, component models.ComponentID) error {
	return protocol.WrapError(err, op).
		WithContext("uid", uint64(entity)).
		WithContext("component_id", uint32(component)).
		WithContext("frame", uint32(frame))
}
