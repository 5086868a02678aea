package serialize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeusync/netsync/internal/core/models"
	"github.com/zeusync/netsync/internal/core/observability/log"
	"github.com/zeusync/netsync/internal/core/protocol"
	"github.com/zeusync/netsync/internal/core/registry"
	"github.com/zeusync/netsync/internal/core/tracking"
	"github.com/zeusync/netsync/internal/core/uid"
	"github.com/zeusync/netsync/internal/core/world"
)

type position struct {
	X, Y int
}

type name struct {
	Value string
}

const (
	positionID models.ComponentID = 1
	nameID     models.ComponentID = 2
)

type fixture struct {
	t         *testing.T
	pos       registry.Descriptor
	allocator *uid.Allocator
	world     *world.Memory
	tracker   *tracking.Tracker
	builder   *Builder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.New()
	f := &fixture{
		t:         t,
		pos:       registry.MustRegister[position](reg, positionID),
		allocator: uid.NewAllocator(),
		world:     world.NewMemory(),
		tracker:   tracking.NewTracker(),
	}
	registry.MustRegister[name](reg, nameID)
	f.builder = NewBuilder(log.NewNop(), reg, f.allocator, f.world)
	return f
}

func (f *fixture) spawn(components map[models.ComponentID]any) models.Uid {
	h := f.world.Create()
	id, err := f.allocator.Allocate(h, nil)
	require.NoError(f.t, err)
	for cid, v := range components {
		require.NoError(f.t, f.world.Attach(h, cid, v))
	}
	return id
}

func (f *fixture) encode(p position) []byte {
	data, err := f.pos.Serialize(p)
	require.NoError(f.t, err)
	return data
}

func TestBuilder_InsertCarriesFullPayload(t *testing.T) {
	f := newFixture(t)
	id := f.spawn(map[models.ComponentID]any{positionID: position{X: 1}, nameID: name{Value: "bob"}})
	f.tracker.Inserted(id)
	f.tracker.ComponentAdded(id, positionID)
	f.tracker.Modified(id, positionID, f.encode(position{}), f.encode(position{X: 1}))

	state, err := f.builder.Build(4, f.tracker.Gather())
	require.NoError(t, err)

	assert.EqualValues(t, 4, state.CommandFrame)
	require.Len(t, state.Inserted, 1)
	assert.Equal(t, id, state.Inserted[0].Entity)
	require.Len(t, state.Inserted[0].Components, 2)
	assert.Equal(t, positionID, state.Inserted[0].Components[0].ComponentID)
	assert.Equal(t, nameID, state.Inserted[0].Components[1].ComponentID)
	assert.Empty(t, state.ComponentAdded, "covered by the insert")
	assert.Zero(t, state.Changed.Len(), "covered by the insert")
}

func TestBuilder_ModificationsCollapse(t *testing.T) {
	f := newFixture(t)
	id := f.spawn(map[models.ComponentID]any{positionID: position{X: 2}})

	f.tracker.Modified(id, positionID, f.encode(position{}), f.encode(position{X: 1}))
	f.tracker.Modified(id, positionID, f.encode(position{X: 1}), f.encode(position{X: 2}))

	state, err := f.builder.Build(7, f.tracker.Gather())
	require.NoError(t, err)

	require.Equal(t, 1, state.Changed.Len())
	assert.True(t, state.Changed.Contains(protocol.ComponentChanged{
		Entity: id,
		Data:   protocol.ComponentData{ComponentID: positionID, Data: f.encode(position{X: 2})},
	}))
}

func TestBuilder_ModificationBackToStartIsDropped(t *testing.T) {
	f := newFixture(t)
	id := f.spawn(map[models.ComponentID]any{positionID: position{}})

	f.tracker.Modified(id, positionID, f.encode(position{}), f.encode(position{X: 1}))
	f.tracker.Modified(id, positionID, f.encode(position{X: 1}), f.encode(position{}))

	state, err := f.builder.Build(7, f.tracker.Gather())
	require.NoError(t, err)
	assert.True(t, state.Empty())
}

func TestBuilder_RemovalSuppressesOtherEvents(t *testing.T) {
	f := newFixture(t)
	id := f.spawn(map[models.ComponentID]any{positionID: position{}})

	f.tracker.Modified(id, positionID, f.encode(position{}), f.encode(position{X: 1}))
	f.tracker.ComponentAdded(id, nameID)
	f.tracker.Removed(id)

	state, err := f.builder.Build(1, f.tracker.Gather())
	require.NoError(t, err)

	assert.Equal(t, []models.Uid{id}, state.Removed)
	assert.Empty(t, state.ComponentAdded)
	assert.Zero(t, state.Changed.Len())
}

func TestBuilder_InsertedThenRemovedIsDropped(t *testing.T) {
	f := newFixture(t)
	f.tracker.Inserted(42)
	f.tracker.ComponentAdded(42, positionID)
	f.tracker.Removed(42)

	state, err := f.builder.Build(1, f.tracker.Gather())
	require.NoError(t, err)
	assert.True(t, state.Empty())
}

func TestBuilder_RemovedThenReinserted(t *testing.T) {
	f := newFixture(t)
	id := f.spawn(map[models.ComponentID]any{positionID: position{X: 1}})

	old, err := f.allocator.Deallocate(id)
	require.NoError(t, err)
	f.world.Delete(old)
	f.tracker.Removed(id)

	h := f.world.Create()
	_, err = f.allocator.Allocate(h, &id)
	require.NoError(t, err)
	require.NoError(t, f.world.Attach(h, positionID, position{X: 2}))
	f.tracker.Inserted(id)
	f.tracker.ComponentAdded(id, positionID)

	state, err := f.builder.Build(1, f.tracker.Gather())
	require.NoError(t, err)

	assert.Equal(t, []models.Uid{id}, state.Removed)
	require.Len(t, state.Inserted, 1)
	assert.Equal(t, id, state.Inserted[0].Entity)
	assert.Equal(t, f.encode(position{X: 2}), state.Inserted[0].Components[0].Data)
	assert.Empty(t, state.ComponentAdded, "covered by the insert")

	f.tracker.Removed(id)
	f.tracker.Inserted(id)
	f.tracker.Removed(id)
	state, err = f.builder.Build(2, f.tracker.Gather())
	require.NoError(t, err)
	assert.Equal(t, []models.Uid{id}, state.Removed)
	assert.Empty(t, state.Inserted)
}

func TestBuilder_ComponentEvents(t *testing.T) {
	f := newFixture(t)
	id := f.spawn(map[models.ComponentID]any{positionID: position{}, nameID: name{Value: "x"}})

	f.tracker.ComponentRemoved(id, positionID)
	f.tracker.ComponentAdded(id, nameID)

	state, err := f.builder.Build(1, f.tracker.Gather())
	require.NoError(t, err)

	assert.Equal(t, []protocol.ComponentRemoved{{Entity: id, ComponentID: positionID}}, state.ComponentRemoved)
	require.Len(t, state.ComponentAdded, 1)
	assert.Equal(t, nameID, state.ComponentAdded[0].Data.ComponentID)
	assert.JSONEq(t, `{"Value":"x"}`, string(state.ComponentAdded[0].Data.Data))
}

func TestBuilder_AddedThenRemovedComponentIsDropped(t *testing.T) {
	f := newFixture(t)
	id := f.spawn(nil)

	f.tracker.ComponentAdded(id, nameID)
	f.tracker.Modified(id, nameID, []byte(`{"Value":""}`), []byte(`{"Value":"y"}`))
	f.tracker.ComponentRemoved(id, nameID)

	state, err := f.builder.Build(1, f.tracker.Gather())
	require.NoError(t, err)
	assert.True(t, state.Empty())
}

func TestBuilder_UnknownComponentIsFatal(t *testing.T) {
	f := newFixture(t)
	id := f.spawn(nil)
	f.tracker.ComponentAdded(id, 99)

	_, err := f.builder.Build(3, f.tracker.Gather())
	require.ErrorIs(t, err, protocol.ErrUnknownComponent)
	assert.True(t, protocol.IsFatal(err))
}

func TestBuilder_Snapshot(t *testing.T) {
	f := newFixture(t)
	first := f.spawn(map[models.ComponentID]any{positionID: position{X: 1}})
	second := f.spawn(map[models.ComponentID]any{nameID: name{Value: "n"}})

	state, err := f.builder.Snapshot(9)
	require.NoError(t, err)

	require.Len(t, state.Inserted, 2)
	assert.Equal(t, first, state.Inserted[0].Entity)
	assert.Equal(t, second, state.Inserted[1].Entity)
	assert.Equal(t, f.encode(position{X: 1}), state.Inserted[0].Components[0].Data)
}
