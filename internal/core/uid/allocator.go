// Package uid maps stable network identities onto local world handles.
package uid

import (
	"sort"

	"github.com/zeusync/netsync/internal/core/models"
	"github.com/zeusync/netsync/internal/core/protocol"
)

// Allocator owns the bijection between network identities and world handles.
// It is not safe for concurrent use; the tick pass that owns it serializes access.
type Allocator struct {
	byUid    map[models.Uid]models.Handle
	byHandle map[models.Handle]models.Uid
	next     models.Uid
}

func NewAllocator() *Allocator {
	return &Allocator{
		byUid:    make(map[models.Uid]models.Handle),
		byHandle: make(map[models.Handle]models.Uid),
		next:     1,
	}
}

// Allocate binds handle to an identity. When requested is nil a fresh identity is minted,
// otherwise the requested one is used as dictated by the server.
func (a *Allocator) Allocate(handle models.Handle, requested *models.Uid) (models.Uid, error) {
	if bound, ok := a.byHandle[handle]; ok {
		return 0, protocol.NewProtocolError(protocol.ErrorCodeIdentityBound, "allocate", protocol.ErrHandleBound).
			WithContext("handle", uint64(handle)).
			WithContext("uid", uint64(bound))
	}

	var id models.Uid
	if requested != nil {
		id = *requested
		if _, ok := a.byUid[id]; ok {
			return 0, protocol.NewProtocolError(protocol.ErrorCodeIdentityBound, "allocate", protocol.ErrIdentityBound).
				WithContext("uid", uint64(id))
		}
	} else {
		id = a.mint()
	}

	a.byUid[id] = handle
	a.byHandle[handle] = id
	return id, nil
}

// Deallocate frees both directions of the mapping and returns the handle that was bound.
func (a *Allocator) Deallocate(id models.Uid) (models.Handle, error) {
	handle, ok := a.byUid[id]
	if !ok {
		return 0, unknownIdentity("deallocate", id)
	}
	delete(a.byUid, id)
	delete(a.byHandle, handle)
	return handle, nil
}

// Handle resolves a network identity. An unknown identity is a protocol violation.
func (a *Allocator) Handle(id models.Uid) (models.Handle, error) {
	handle, ok := a.byUid[id]
	if !ok {
		return 0, unknownIdentity("resolve handle", id)
	}
	return handle, nil
}

// Uid resolves a world handle back to its network identity.
func (a *Allocator) Uid(handle models.Handle) (models.Uid, error) {
	id, ok := a.byHandle[handle]
	if !ok {
		return 0, protocol.NewProtocolError(protocol.ErrorCodeUnknownIdentity, "resolve uid", protocol.ErrUnknownHandle).
			WithContext("handle", uint64(handle))
	}
	return id, nil
}

// Contains reports whether id is currently bound.
func (a *Allocator) Contains(id models.Uid) bool {
	_, ok := a.byUid[id]
	return ok
}

func (a *Allocator) Len() int {
	return len(a.byUid)
}

// Uids returns every bound identity in ascending order.
func (a *Allocator) Uids() []models.Uid {
	ids := make([]models.Uid, 0, len(a.byUid))
	for id := range a.byUid {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// mint skips identities that were bound through explicit requests.
func (a *Allocator) mint() models.Uid {
	for {
		id := a.next
		a.next++
		if _, taken := a.byUid[id]; !taken {
			return id
		}
	}
}

func unknownIdentity(op string, id models.Uid) error {
	return protocol.NewProtocolError(protocol.ErrorCodeUnknownIdentity, op, protocol.ErrUnknownIdentity).
		WithContext("uid", uint64(id))
}
