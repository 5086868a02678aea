package reconcile

import (
	"github.com/zeusync/netsync/internal/core/models"
	"github.com/zeusync/netsync/internal/core/observability/log"
	"github.com/zeusync/netsync/internal/core/protocol"
	"github.com/zeusync/netsync/internal/core/registry"
)

// stateUpdater applies one WorldState. Steps must run in declaration order: later steps
// resolve identities that earlier steps bound or released.
type stateUpdater[C any] struct {
	*Engine[C]
	state       *protocol.WorldState
	clientFrame models.CommandFrame
	result      Result
}

// applyEntityRemovals releases identities before inserts can reuse them.
func (u *stateUpdater[C]) applyEntityRemovals() error {
	for _, id := range u.state.Removed {
		handle, err := u.allocator.Deallocate(id)
		if err != nil {
			return u.fatal(err, "remove entity", id, nil)
		}
		u.world.Delete(handle)
		u.commands.Forget(id)
		u.result.Removed++
	}
	return nil
}

func (u *stateUpdater[C]) applyEntityInserts() error {
	for _, insert := range u.state.Inserted {
		handle, err := u.allocator.Handle(insert.Entity)
		if err != nil {
			handle = u.world.Create()
			requested := insert.Entity
			if _, err = u.allocator.Allocate(handle, &requested); err != nil {
				u.world.Delete(handle)
				return u.fatal(err, "insert entity", insert.Entity, nil)
			}
		}

		for _, component := range insert.Components {
			if err = u.attach(handle, insert.Entity, component, "insert entity"); err != nil {
				return err
			}
		}
		u.result.Inserted++
	}
	return nil
}

func (u *stateUpdater[C]) applyRemovedComponents() error {
	for _, removed := range u.state.ComponentRemoved {
		handle, err := u.allocator.Handle(removed.Entity)
		if err != nil {
			return u.fatal(err, "remove component", removed.Entity, &removed.ComponentID)
		}
		d, err := u.registry.ByID(removed.ComponentID)
		if err != nil {
			return u.fatal(err, "remove component", removed.Entity, &removed.ComponentID)
		}
		d.Detach(u.world, handle)
		u.result.ComponentsRemoved++
	}
	return nil
}

func (u *stateUpdater[C]) applyAddedComponents() error {
	for _, added := range u.state.ComponentAdded {
		handle, err := u.allocator.Handle(added.Entity)
		if err != nil {
			return u.fatal(err, "add component", added.Entity, &added.Data.ComponentID)
		}
		if err = u.attach(handle, added.Entity, added.Data, "add component"); err != nil {
			return err
		}
		u.result.ComponentsAdded++
	}
	return nil
}

// applyChangedComponents compares every prediction made at the message's frame against
// the server's diffs, then applies server diffs for entity components nobody predicts.
func (u *stateUpdater[C]) applyChangedComponents() error {
	frame := u.state.CommandFrame

	for _, group := range u.commands.Groups(frame) {
		d, err := u.registry.ByID(group.Component)
		if err != nil {
			return u.fatal(err, "reconcile", group.Entity, &group.Component)
		}
		handle, err := u.allocator.Handle(group.Entity)
		if err != nil {
			return u.fatal(err, "reconcile", group.Entity, &group.Component)
		}

		pristine := group.Oldest().Unchanged
		predicted := group.Newest().Changed

		fields := []log.Field{
			log.Uint64("uid", uint64(group.Entity)),
			log.Uint32("component_id", uint32(group.Component)),
			log.Uint32("frame", uint32(frame)),
		}

		patch, changed, err := d.Diff(pristine, predicted)
		if err != nil {
			u.log.Warn("Prediction diff failed", append(fields, log.Error(err))...)
			continue
		}
		if !changed {
			continue
		}

		local := protocol.ComponentChanged{
			Entity: group.Entity,
			Data:   protocol.ComponentData{ComponentID: group.Component, Data: patch},
		}
		if u.state.Changed.Contains(local) {
			u.log.Debug("Predicted same", fields...)
			u.result.Matched++
			continue
		}

		u.log.Debug("Predicted wrong", fields...)
		if err = u.correct(d, handle, group.Entity, group.Component, pristine); err != nil {
			return err
		}
		u.resim.Push(frame, u.clientFrame, u.commands.History(group.Entity, frame))
		u.result.Mispredicted++
	}

	for _, change := range u.state.Changed.Entries {
		if u.commands.HasPending(change.Entity, change.Data.ComponentID, frame) {
			continue
		}
		handle, err := u.allocator.Handle(change.Entity)
		if err != nil {
			return u.fatal(err, "apply change", change.Entity, &change.Data.ComponentID)
		}
		d, err := u.registry.ByID(change.Data.ComponentID)
		if err != nil {
			return u.fatal(err, "apply change", change.Entity, &change.Data.ComponentID)
		}
		if err = d.Apply(u.world, handle, change.Data.Data); err != nil {
			return u.fatal(err, "apply change", change.Entity, &change.Data.ComponentID)
		}
		u.result.Applied++
	}
	return nil
}

// correct overwrites a misprediction with the server's diff, or with the pristine state
// when the server reports no change for the component.
func (u *stateUpdater[C]) correct(d registry.Descriptor, handle models.Handle, entity models.Uid, component models.ComponentID, pristine []byte) error {
	if server, ok := u.state.Changed.Find(entity, component); ok {
		if err := d.Apply(u.world, handle, server.Data.Data); err != nil {
			return u.fatal(err, "correct prediction", entity, &component)
		}
		return nil
	}
	if err := d.Attach(u.world, handle, pristine); err != nil {
		return u.fatal(err, "revert prediction", entity, &component)
	}
	return nil
}

func (u *stateUpdater[C]) attach(handle models.Handle, entity models.Uid, data protocol.ComponentData, op string) error {
	d, err := u.registry.ByID(data.ComponentID)
	if err != nil {
		return u.fatal(err, op, entity, &data.ComponentID)
	}
	if err = d.Attach(u.world, handle, data.Data); err != nil {
		return u.fatal(err, op, entity, &data.ComponentID)
	}
	return nil
}

func (u *stateUpdater[C]) fatal(err error, op string, entity models.Uid, component *models.ComponentID) error {
	wrapped := protocol.WrapError(err, op).
		WithContext("uid", uint64(entity)).
		WithContext("frame", uint32(u.state.CommandFrame))
	if component != nil {
		wrapped = wrapped.WithContext("component_id", uint32(*component))
	}
	return wrapped
}
