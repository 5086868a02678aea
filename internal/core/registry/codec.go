package registry

import (
	"bytes"
	"encoding/json"
)

// Codec encodes component values. Encodings must be deterministic: equal values must
// produce equal bytes, otherwise misprediction detection reports false mismatches.
type Codec[T any] interface {
	Marshal(T) ([]byte, error)
	Unmarshal([]byte) (T, error)
}

// JSONCodec is the default codec. Struct fields keep declaration order and map keys
// are sorted, so the output is deterministic.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Marshal(v T) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec[T]) Unmarshal(data []byte) (T, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	err := dec.Decode(&v)
	return v, err
}

// Differ computes and applies patches between two component values.
type Differ[T any] interface {
	Diff(codec Codec[T], old, new T) (patch []byte, changed bool, err error)
	Apply(codec Codec[T], current T, patch []byte) (T, error)
}

// SnapshotDiffer treats the full new encoding as the patch.
type SnapshotDiffer[T any] struct{}

func (SnapshotDiffer[T]) Diff(codec Codec[T], old, new T) ([]byte, bool, error) {
	before, err := codec.Marshal(old)
	if err != nil {
		return nil, false, err
	}
	after, err := codec.Marshal(new)
	if err != nil {
		return nil, false, err
	}
	if bytes.Equal(before, after) {
		return nil, false, nil
	}
	return after, true, nil
}

func (SnapshotDiffer[T]) Apply(codec Codec[T], _ T, patch []byte) (T, error) {
	return codec.Unmarshal(patch)
}
