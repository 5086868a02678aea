package protocol

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/zeusync/netsync/internal/core/models"
)

// ChangeSet is the set of authoritative component diffs of one WorldState.
// Entries keep insertion order on the wire; lookup indexes are rebuilt lazily after decoding.
type ChangeSet struct {
	Entries []ComponentChanged

	byKey       map[uint64][]int
	byComponent map[componentKey]int
}

type componentKey struct {
	entity    models.Uid
	component models.ComponentID
}

// NewChangeSet builds a set from entries, dropping exact duplicates.
func NewChangeSet(entries ...ComponentChanged) ChangeSet {
	var cs ChangeSet
	for _, e := range entries {
		cs.Add(e)
	}
	return cs
}

// Add inserts the entry unless an identical one is present. It returns false on duplicates.
func (cs *ChangeSet) Add(entry ComponentChanged) bool {
	cs.index()
	if cs.Contains(entry) {
		return false
	}
	cs.Entries = append(cs.Entries, entry)
	cs.indexEntry(len(cs.Entries) - 1)
	return true
}

// Contains reports whether an entry with the same entity, component id and bytes exists.
func (cs *ChangeSet) Contains(entry ComponentChanged) bool {
	cs.index()
	for _, i := range cs.byKey[hashChange(entry)] {
		if equalChange(cs.Entries[i], entry) {
			return true
		}
	}
	return false
}

// Find returns the first authoritative diff for the entity component.
func (cs *ChangeSet) Find(entity models.Uid, component models.ComponentID) (ComponentChanged, bool) {
	cs.index()
	i, ok := cs.byComponent[componentKey{entity: entity, component: component}]
	if !ok {
		return ComponentChanged{}, false
	}
	return cs.Entries[i], true
}

func (cs *ChangeSet) Len() int {
	return len(cs.Entries)
}

func (cs *ChangeSet) index() {
	if cs.byKey != nil {
		return
	}
	cs.byKey = make(map[uint64][]int, len(cs.Entries))
	cs.byComponent = make(map[componentKey]int, len(cs.Entries))
	for i := range cs.Entries {
		cs.indexEntry(i)
	}
}

func (cs *ChangeSet) indexEntry(i int) {
	entry := cs.Entries[i]
	h := hashChange(entry)
	cs.byKey[h] = append(cs.byKey[h], i)
	key := componentKey{entity: entry.Entity, component: entry.Data.ComponentID}
	if _, ok := cs.byComponent[key]; !ok {
		cs.byComponent[key] = i
	}
}

func hashChange(entry ComponentChanged) uint64 {
	var head [12]byte
	binary.LittleEndian.PutUint64(head[:8], uint64(entry.Entity))
	binary.LittleEndian.PutUint32(head[8:], uint32(entry.Data.ComponentID))

	d := xxhash.New()
	_, _ = d.Write(head[:])
	_, _ = d.Write(entry.Data.Data)
	return d.Sum64()
}

func equalChange(a, b ComponentChanged) bool {
	return a.Entity == b.Entity &&
		a.Data.ComponentID == b.Data.ComponentID &&
		string(a.Data.Data) == string(b.Data.Data)
}
