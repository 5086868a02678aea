package server

import (
	"github.com/zeusync/netsync/internal/core/models"
	"github.com/zeusync/netsync/internal/core/observability/log"
	"github.com/zeusync/netsync/internal/core/protocol"
)

// Spawn creates an entity with the given component values and mints its identity.
func (w *World[C]) Spawn(components ...any) (models.Uid, error) {
	handle := w.storage.Create()
	id, err := w.allocator.Allocate(handle, nil)
	if err != nil {
		w.storage.Delete(handle)
		return 0, err
	}

	for _, value := range components {
		if err = w.attach(handle, value); err != nil {
			_, _ = w.allocator.Deallocate(id)
			w.storage.Delete(handle)
			return 0, err
		}
	}

	w.tracker.Inserted(id)
	w.log.Debug("Entity spawned", log.Uint64("uid", uint64(id)), log.Int("components", len(components)))
	return id, nil
}

// Despawn removes an entity and releases its identity.
func (w *World[C]) Despawn(id models.Uid) error {
	handle, err := w.allocator.Deallocate(id)
	if err != nil {
		return err
	}
	w.storage.Delete(handle)
	w.tracker.Removed(id)
	w.log.Debug("Entity despawned", log.Uint64("uid", uint64(id)))
	return nil
}

// Modify runs step against the component value and records the change when the encoding
// differs.
func (w *World[C]) Modify(id models.Uid, component models.ComponentID, step func(current any) (any, error)) error {
	d, err := w.registry.ByID(component)
	if err != nil {
		return err
	}
	handle, err := w.allocator.Handle(id)
	if err != nil {
		return err
	}

	before, ok, err := d.Snapshot(w.storage, handle)
	if err != nil {
		return err
	}
	if !ok {
		return protocol.NewProtocolError(protocol.ErrorCodeUnknownComponent, "modify", protocol.ErrUnknownComponent).
			WithContext("uid", uint64(id)).
			WithContext("component_id", uint32(component))
	}
	current, err := d.Deserialize(before)
	if err != nil {
		return err
	}

	next, err := step(current)
	if err != nil {
		return err
	}
	after, err := d.Serialize(next)
	if err != nil {
		return err
	}
	if err = d.Attach(w.storage, handle, after); err != nil {
		return err
	}

	w.tracker.Modified(id, component, before, after)
	return nil
}

// AddComponent attaches a new component to an existing entity.
func (w *World[C]) AddComponent(id models.Uid, value any) error {
	handle, err := w.allocator.Handle(id)
	if err != nil {
		return err
	}
	d, err := w.registry.ByValue(value)
	if err != nil {
		return err
	}
	if err = w.attach(handle, value); err != nil {
		return err
	}
	w.tracker.ComponentAdded(id, d.ID())
	return nil
}

// RemoveComponent detaches a component. It reports whether one was present.
func (w *World[C]) RemoveComponent(id models.Uid, component models.ComponentID) (bool, error) {
	d, err := w.registry.ByID(component)
	if err != nil {
		return false, err
	}
	handle, err := w.allocator.Handle(id)
	if err != nil {
		return false, err
	}
	if !d.Detach(w.storage, handle) {
		return false, nil
	}
	w.tracker.ComponentRemoved(id, component)
	return true, nil
}

// Get decodes the current value of a component.
func (w *World[C]) Get(id models.Uid, component models.ComponentID) (any, bool, error) {
	d, err := w.registry.ByID(component)
	if err != nil {
		return nil, false, err
	}
	handle, err := w.allocator.Handle(id)
	if err != nil {
		return nil, false, err
	}
	data, ok, err := d.Snapshot(w.storage, handle)
	if err != nil || !ok {
		return nil, ok, err
	}
	value, err := d.Deserialize(data)
	return value, err == nil, err
}

func (w *World[C]) attach(handle models.Handle, value any) error {
	d, err := w.registry.ByValue(value)
	if err != nil {
		return err
	}
	data, err := d.Serialize(value)
	if err != nil {
		return err
	}
	return d.Attach(w.storage, handle, data)
}
