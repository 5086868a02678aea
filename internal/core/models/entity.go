package models

import "strconv"

// Uid is the network identity of an entity. It is stable for the lifetime of the
// entity in the synchronized world and independent of any local handle.
type Uid uint64

func (u Uid) String() string {
	return strconv.FormatUint(uint64(u), 10)
}

// Handle is a local world handle issued by the world storage.
type Handle uint64

// ComponentID is the wire id of a registered component type.
// Peers must agree on the mapping before exchanging messages.
type ComponentID uint32

// CommandFrame is the logical simulation tick used to order commands and state.
type CommandFrame uint32

// Sub returns the signed frame distance f - other.
func (f CommandFrame) Sub(other CommandFrame) int32 {
	return int32(f - other)
}

// Add offsets the frame by a signed amount.
func (f CommandFrame) Add(delta int32) CommandFrame {
	return CommandFrame(int64(f) + int64(delta))
}
