package registry

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/zeusync/netsync/internal/core/models"
	"github.com/zeusync/netsync/internal/core/protocol"
	"github.com/zeusync/netsync/internal/core/world"
)

// Descriptor is the type-erased set of operations for one component type.
type Descriptor interface {
	// Type information

	ID() models.ComponentID
	Name() string
	Type() reflect.Type

	// Encoding

	Serialize(value any) ([]byte, error)
	Deserialize(data []byte) (any, error)
	// Diff returns a patch and changed=true only when the payloads differ materially.
	// Byte-identical payloads never produce a change.
	Diff(old, new []byte) (patch []byte, changed bool, err error)

	// World operations

	Attach(w world.Storage, h models.Handle, data []byte) error
	Apply(w world.Storage, h models.Handle, patch []byte) error
	Detach(w world.Storage, h models.Handle) bool
	Exists(w world.Storage, h models.Handle) bool
	// Snapshot serializes the value currently attached at h.
	Snapshot(w world.Storage, h models.Handle) ([]byte, bool, error)
}

// Option configures a typed descriptor.
type Option[T any] func(*typed[T])

// WithCodec replaces the default JSON codec. The codec must be deterministic.
func WithCodec[T any](codec Codec[T]) Option[T] {
	return func(d *typed[T]) { d.codec = codec }
}

// WithDiffer replaces the default whole-value differ.
func WithDiffer[T any](differ Differ[T]) Option[T] {
	return func(d *typed[T]) { d.differ = differ }
}

// WithName overrides the reflected type name used in logs.
func WithName[T any](name string) Option[T] {
	return func(d *typed[T]) { d.name = name }
}

var _ Descriptor = (*typed[struct{}])(nil)

// typed implements Descriptor for values of T stored by value in the world.
type typed[T any] struct {
	id     models.ComponentID
	name   string
	typ    reflect.Type
	codec  Codec[T]
	differ Differ[T]
}

func newTyped[T any](id models.ComponentID, opts ...Option[T]) *typed[T] {
	typ := reflect.TypeFor[T]()
	d := &typed[T]{
		id:     id,
		name:   typ.String(),
		typ:    typ,
		codec:  JSONCodec[T]{},
		differ: SnapshotDiffer[T]{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *typed[T]) ID() models.ComponentID { return d.id }
func (d *typed[T]) Name() string           { return d.name }
func (d *typed[T]) Type() reflect.Type     { return d.typ }

func (d *typed[T]) Serialize(value any) ([]byte, error) {
	v, err := d.cast(value)
	if err != nil {
		return nil, err
	}
	data, err := d.codec.Marshal(v)
	if err != nil {
		return nil, d.encodingError(protocol.ErrorCodeSerializationFailed, "serialize", protocol.ErrSerializationFailed, err)
	}
	return data, nil
}

func (d *typed[T]) Deserialize(data []byte) (any, error) {
	return d.decode(data)
}

func (d *typed[T]) Diff(old, new []byte) ([]byte, bool, error) {
	if bytes.Equal(old, new) {
		return nil, false, nil
	}
	before, err := d.decode(old)
	if err != nil {
		return nil, false, err
	}
	after, err := d.decode(new)
	if err != nil {
		return nil, false, err
	}
	patch, changed, err := d.differ.Diff(d.codec, before, after)
	if err != nil {
		return nil, false, d.encodingError(protocol.ErrorCodeSerializationFailed, "diff", protocol.ErrSerializationFailed, err)
	}
	return patch, changed, nil
}

func (d *typed[T]) Attach(w world.Storage, h models.Handle, data []byte) error {
	v, err := d.decode(data)
	if err != nil {
		return err
	}
	return w.Attach(h, d.id, v)
}

// Apply overwrites the attached value with the patch. A missing component is patched from
// the zero value so authoritative state always lands.
func (d *typed[T]) Apply(w world.Storage, h models.Handle, patch []byte) error {
	var current T
	if existing, ok := w.Get(h, d.id); ok {
		v, err := d.cast(existing)
		if err != nil {
			return err
		}
		current = v
	}
	next, err := d.differ.Apply(d.codec, current, patch)
	if err != nil {
		return d.encodingError(protocol.ErrorCodeDeserializationFailed, "apply", protocol.ErrDeserializationFailed, err)
	}
	return w.Attach(h, d.id, next)
}

func (d *typed[T]) Detach(w world.Storage, h models.Handle) bool {
	return w.Detach(h, d.id)
}

func (d *typed[T]) Exists(w world.Storage, h models.Handle) bool {
	return w.Has(h, d.id)
}

func (d *typed[T]) Snapshot(w world.Storage, h models.Handle) ([]byte, bool, error) {
	value, ok := w.Get(h, d.id)
	if !ok {
		return nil, false, nil
	}
	data, err := d.Serialize(value)
	if err != nil {
		return nil, true, err
	}
	return data, true, nil
}

func (d *typed[T]) decode(data []byte) (T, error) {
	v, err := d.codec.Unmarshal(data)
	if err != nil {
		var zero T
		return zero, d.encodingError(protocol.ErrorCodeDeserializationFailed, "deserialize", protocol.ErrDeserializationFailed, err)
	}
	return v, nil
}

func (d *typed[T]) cast(value any) (T, error) {
	switch v := value.(type) {
	case T:
		return v, nil
	case *T:
		if v != nil {
			return *v, nil
		}
	}
	var zero T
	return zero, protocol.NewProtocolError(protocol.ErrorCodeProtocolViolation, "cast component", protocol.ErrTypeMismatch).
		WithContext("component_id", uint32(d.id)).
		WithContext("want", d.name).
		WithContext("got", fmt.Sprintf("%T", value))
}

func (d *typed[T]) encodingError(code protocol.ErrorCode, op string, sentinel, cause error) error {
	return protocol.NewProtocolError(code, op, fmt.Errorf("%w: %v", sentinel, cause)).
		WithContext("component_id", uint32(d.id)).
		WithContext("component", d.name)
}
