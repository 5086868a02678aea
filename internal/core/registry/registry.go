// Package registry binds component types to wire ids and exposes type-erased
// descriptors for serialize, diff and apply over arbitrary component types.
package registry

import (
	"reflect"
	"sort"

	"github.com/zeusync/netsync/internal/core/models"
	"github.com/zeusync/netsync/internal/core/protocol"
)

// Registry is keyed both by wire id and by Go type. Registrations happen during setup;
// afterwards the registry is read-only and shared by every reconciliation pass.
type Registry struct {
	byID   map[models.ComponentID]Descriptor
	byType map[reflect.Type]Descriptor
}

func New() *Registry {
	return &Registry{
		byID:   make(map[models.ComponentID]Descriptor),
		byType: make(map[reflect.Type]Descriptor),
	}
}

// Register adds a descriptor. Reusing an id or a type is a configuration error.
func (r *Registry) Register(d Descriptor) error {
	if existing, ok := r.byID[d.ID()]; ok {
		return protocol.NewProtocolError(protocol.ErrorCodeAlreadyRegistered, "register component", protocol.ErrAlreadyRegistered).
			WithContext("component_id", uint32(d.ID())).
			WithContext("registered", existing.Name())
	}
	if existing, ok := r.byType[d.Type()]; ok {
		return protocol.NewProtocolError(protocol.ErrorCodeAlreadyRegistered, "register component", protocol.ErrAlreadyRegistered).
			WithContext("component", d.Name()).
			WithContext("component_id", uint32(existing.ID()))
	}
	r.byID[d.ID()] = d
	r.byType[d.Type()] = d
	return nil
}

// Register builds a descriptor for T and adds it to r.
func Register[T any](r *Registry, id models.ComponentID, opts ...Option[T]) (Descriptor, error) {
	d := newTyped[T](id, opts...)
	if err := r.Register(d); err != nil {
		return nil, err
	}
	return d, nil
}

// MustRegister panics on configuration errors. Intended for process setup.
func MustRegister[T any](r *Registry, id models.ComponentID, opts ...Option[T]) Descriptor {
	d, err := Register[T](r, id, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

// ByID resolves a wire id. An unknown id means the peers disagree on registration.
func (r *Registry) ByID(id models.ComponentID) (Descriptor, error) {
	d, ok := r.byID[id]
	if !ok {
		return nil, protocol.NewProtocolError(protocol.ErrorCodeUnknownComponent, "resolve component", protocol.ErrUnknownComponent).
			WithContext("component_id", uint32(id))
	}
	return d, nil
}

func (r *Registry) ByType(t reflect.Type) (Descriptor, error) {
	d, ok := r.byType[t]
	if !ok {
		return nil, protocol.NewProtocolError(protocol.ErrorCodeUnknownComponent, "resolve component", protocol.ErrUnknownComponent).
			WithContext("component", t.String())
	}
	return d, nil
}

// ByValue resolves the descriptor of a live value; pointers resolve to their element type.
func (r *Registry) ByValue(v any) (Descriptor, error) {
	t := reflect.TypeOf(v)
	if t == nil {
		return nil, protocol.NewProtocolError(protocol.ErrorCodeUnknownComponent, "resolve component", protocol.ErrUnknownComponent)
	}
	if d, ok := r.byType[t]; ok {
		return d, nil
	}
	if t.Kind() == reflect.Pointer {
		return r.ByType(t.Elem())
	}
	return r.ByType(t)
}

// Descriptors returns every registered descriptor ordered by id.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (r *Registry) Len() int {
	return len(r.byID)
}
