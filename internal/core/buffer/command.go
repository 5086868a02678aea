// Package buffer holds the client's predicted command history and the queue of
// entities that must be replayed after a misprediction.
package buffer

import (
	"github.com/zeusync/netsync/internal/core/models"
)

// DefaultCapacity bounds the command history.
const DefaultCapacity = 1024

// Entry is one predicted command for one entity component at one frame.
type Entry[C any] struct {
	Entity    models.Uid
	Component models.ComponentID
	Frame     models.CommandFrame
	Command   C
	// Unchanged is the component encoding immediately before the command was simulated.
	Unchanged []byte
	// Changed is the component encoding immediately after.
	Changed []byte
	Sent    bool

	seq uint64
}

// Group is every entry of one entity component at one frame, oldest first.
type Group[C any] struct {
	Entity    models.Uid
	Component models.ComponentID
	Entries   []*Entry[C]
}

// Oldest is the chronologically first entry; its Unchanged snapshot is the pristine state.
func (g Group[C]) Oldest() *Entry[C] {
	return g.Entries[0]
}

// Newest is the most recent entry; its Changed snapshot is the predicted state.
func (g Group[C]) Newest() *Entry[C] {
	return g.Entries[len(g.Entries)-1]
}

// CommandBuffer is a bounded insertion-ordered history with a per-entity index.
// It is owned by the client tick loop and is not safe for concurrent use.
type CommandBuffer[C any] struct {
	capacity int
	seq      uint64
	entries  []*Entry[C]
	byEntity map[models.Uid][]*Entry[C]
}

func NewCommandBuffer[C any](capacity int) *CommandBuffer[C] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &CommandBuffer[C]{
		capacity: capacity,
		entries:  make([]*Entry[C], 0, capacity),
		byEntity: make(map[models.Uid][]*Entry[C]),
	}
}

// Push records an entry and evicts the oldest one when the buffer is full.
func (b *CommandBuffer[C]) Push(entry Entry[C]) *Entry[C] {
	if len(b.entries) == b.capacity {
		b.evict()
	}
	b.seq++
	entry.seq = b.seq
	e := &entry
	b.entries = append(b.entries, e)
	b.byEntity[e.Entity] = append(b.byEntity[e.Entity], e)
	return e
}

func (b *CommandBuffer[C]) evict() {
	oldest := b.entries[0]
	b.entries[0] = nil
	b.entries = b.entries[1:]

	list := b.byEntity[oldest.Entity]
	if len(list) <= 1 {
		delete(b.byEntity, oldest.Entity)
		return
	}
	list[0] = nil
	b.byEntity[oldest.Entity] = list[1:]
}

// Iter returns every entry newest first.
func (b *CommandBuffer[C]) Iter() []*Entry[C] {
	out := make([]*Entry[C], len(b.entries))
	for i, e := range b.entries {
		out[len(b.entries)-1-i] = e
	}
	return out
}

// Groups returns the entries at frame grouped by entity and component. Groups are ordered
// by their first entry and each group is oldest first.
func (b *CommandBuffer[C]) Groups(frame models.CommandFrame) []Group[C] {
	type key struct {
		entity    models.Uid
		component models.ComponentID
	}

	var groups []Group[C]
	index := make(map[key]int)
	for _, e := range b.entries {
		if e.Frame != frame {
			continue
		}
		k := key{entity: e.Entity, component: e.Component}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, Group[C]{Entity: e.Entity, Component: e.Component})
		}
		groups[i].Entries = append(groups[i].Entries, e)
	}
	return groups
}

// History returns the entity's entries with Frame >= since, oldest first.
func (b *CommandBuffer[C]) History(entity models.Uid, since models.CommandFrame) []*Entry[C] {
	var out []*Entry[C]
	for _, e := range b.byEntity[entity] {
		if e.Frame.Sub(since) >= 0 {
			out = append(out, e)
		}
	}
	return out
}

// HasPending reports whether the entity component has predicted commands at or after frame.
func (b *CommandBuffer[C]) HasPending(entity models.Uid, component models.ComponentID, since models.CommandFrame) bool {
	for _, e := range b.byEntity[entity] {
		if e.Component == component && e.Frame.Sub(since) >= 0 {
			return true
		}
	}
	return false
}

// Rewrite replaces the snapshots of the buffered entry that entry was copied from, after
// the command was simulated again. It reports false when that entry was evicted or forgotten.
func (b *CommandBuffer[C]) Rewrite(entry Entry[C], unchanged, changed []byte) bool {
	for _, e := range b.byEntity[entry.Entity] {
		if e.seq == entry.seq {
			e.Unchanged = unchanged
			e.Changed = changed
			return true
		}
	}
	return false
}

// Unsent returns the entries not yet sent to the server, oldest first.
func (b *CommandBuffer[C]) Unsent() []*Entry[C] {
	var out []*Entry[C]
	for _, e := range b.entries {
		if !e.Sent {
			out = append(out, e)
		}
	}
	return out
}

// Forget drops every entry of the entity, used when the server removes it.
func (b *CommandBuffer[C]) Forget(entity models.Uid) {
	if _, ok := b.byEntity[entity]; !ok {
		return
	}
	delete(b.byEntity, entity)
	kept := b.entries[:0]
	for _, e := range b.entries {
		if e.Entity != entity {
			kept = append(kept, e)
		}
	}
	clear(b.entries[len(kept):])
	b.entries = kept
}

func (b *CommandBuffer[C]) Len() int {
	return len(b.entries)
}

func (b *CommandBuffer[C]) Capacity() int {
	return b.capacity
}
