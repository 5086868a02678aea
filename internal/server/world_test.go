package server

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/netsync/internal/client"
	"github.com/zeusync/netsync/internal/core/clock"
	"github.com/zeusync/netsync/internal/core/models"
	"github.com/zeusync/netsync/internal/core/observability/log"
	"github.com/zeusync/netsync/internal/core/postbox"
	"github.com/zeusync/netsync/internal/core/protocol"
	"github.com/zeusync/netsync/internal/core/registry"
	"github.com/zeusync/netsync/internal/core/uid"
	"github.com/zeusync/netsync/internal/core/world"
)

type position struct {
	X, Y int
}

type health struct {
	HP int
}

const (
	positionID models.ComponentID = 1
	healthID   models.ComponentID = 2
)

func step(dx int) func(any) (any, error) {
	return func(current any) (any, error) {
		p := current.(position)
		p.X += dx
		return p, nil
	}
}

// moveHandler moves the entity by dx for every command.
func moveHandler(dx int) CommandHandlerFunc[string] {
	return func(w *World[string], _ uuid.UUID, cmd protocol.CommandMessage[string]) error {
		return w.Modify(cmd.Entity, positionID, step(dx))
	}
}

type serverHarness struct {
	t     *testing.T
	now   time.Time
	reg   *registry.Registry
	world *World[string]
}

func newRegistry() *registry.Registry {
	reg := registry.New()
	registry.MustRegister[position](reg, positionID)
	registry.MustRegister[health](reg, healthID)
	return reg
}

func newServerHarness(t *testing.T, config Config, handler CommandHandler[string]) *serverHarness {
	t.Helper()
	h := &serverHarness{t: t, now: time.Unix(0, 0), reg: newRegistry()}
	ticker := clock.NewTicker(10, clock.WithNow(func() time.Time { return h.now }))
	h.world = NewWorld[string](log.NewNop(), config, h.reg, uid.NewAllocator(), world.NewMemory(), ticker, handler)
	return h
}

func (h *serverHarness) tick() TickResult {
	h.now = h.now.Add(100 * time.Millisecond)
	result, err := h.world.Tick()
	require.NoError(h.t, err)
	require.True(h.t, result.Ticked)
	return result
}

func (h *serverHarness) connect() *postbox.PostBox[protocol.ClientToServer[string], protocol.ServerToClient] {
	box := NewPostBox[string]()
	_, err := h.world.Connect(box)
	require.NoError(h.t, err)
	return box
}

func states(box *postbox.PostBox[protocol.ClientToServer[string], protocol.ServerToClient]) []protocol.WorldState {
	var out []protocol.WorldState
	for _, msg := range box.DrainOutbox() {
		if protocol.IsStateUpdate(msg) {
			out = append(out, *msg.State)
		}
	}
	return out
}

func TestWorld_SnapshotOnConnect(t *testing.T) {
	h := newServerHarness(t, DefaultConfig(), nil)
	id, err := h.world.Spawn(position{X: 2}, health{HP: 10})
	require.NoError(t, err)
	h.tick()

	box := h.connect()
	result := h.tick()
	assert.Equal(t, 1, result.Joined)
	assert.Equal(t, 1, result.Broadcast)

	got := states(box)
	require.Len(t, got, 1)
	assert.EqualValues(t, 2, got[0].CommandFrame)
	assert.Equal(t, clock.DefaultLag, got[0].CommandFrameOffset)
	require.Len(t, got[0].Inserted, 1)
	assert.Equal(t, id, got[0].Inserted[0].Entity)
	assert.Len(t, got[0].Inserted[0].Components, 2)
}

func TestWorld_BroadcastsTrackedChanges(t *testing.T) {
	h := newServerHarness(t, DefaultConfig(), nil)
	a, err := h.world.Spawn(position{})
	require.NoError(t, err)
	b, err := h.world.Spawn(position{})
	require.NoError(t, err)

	box := h.connect()
	h.tick()
	states(box)

	require.NoError(t, h.world.Modify(a, positionID, step(1)))
	require.NoError(t, h.world.Modify(a, positionID, step(1)))
	require.NoError(t, h.world.Despawn(b))
	require.NoError(t, h.world.AddComponent(a, health{HP: 3}))

	result := h.tick()
	assert.Equal(t, 4, result.Events)

	got := states(box)
	require.Len(t, got, 1)
	assert.Equal(t, []models.Uid{b}, got[0].Removed)
	require.Len(t, got[0].ComponentAdded, 1)
	assert.Equal(t, healthID, got[0].ComponentAdded[0].Data.ComponentID)

	entry, ok := got[0].Changed.Find(a, positionID)
	require.True(t, ok)
	d, err := h.reg.ByID(positionID)
	require.NoError(t, err)
	value, err := d.Deserialize(entry.Data.Data)
	require.NoError(t, err)
	assert.Equal(t, position{X: 2}, value)

	removed, err := h.world.RemoveComponent(a, healthID)
	require.NoError(t, err)
	assert.True(t, removed)
	h.tick()
	got = states(box)
	require.Len(t, got, 1)
	assert.Equal(t, []protocol.ComponentRemoved{{Entity: a, ComponentID: healthID}}, got[0].ComponentRemoved)
}

func TestWorld_CommandsRunAtTheirFrame(t *testing.T) {
	h := newServerHarness(t, DefaultConfig(), moveHandler(1))
	id, err := h.world.Spawn(position{})
	require.NoError(t, err)

	box := h.connect()
	h.tick()
	states(box)

	require.NoError(t, box.Deliver(protocol.NewCommand(4, id, "right")))
	require.NoError(t, box.Deliver(protocol.NewCommand(3, id, "right")))

	result := h.tick()
	assert.Equal(t, 2, result.Received)
	assert.Zero(t, result.Executed)
	assert.Equal(t, 2, h.world.Pending())

	got := states(box)
	require.Len(t, got, 1)
	assert.EqualValues(t, 2, got[0].CommandFrameOffset, "newest command frame minus server frame")

	result = h.tick()
	assert.Equal(t, 1, result.Executed)
	result = h.tick()
	assert.Equal(t, 1, result.Executed)
	assert.Zero(t, h.world.Pending())

	value, ok, err := h.world.Get(id, positionID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, position{X: 2}, value)
}

func TestWorld_LateCommandsRunImmediately(t *testing.T) {
	h := newServerHarness(t, DefaultConfig(), moveHandler(1))
	id, err := h.world.Spawn(position{})
	require.NoError(t, err)
	box := h.connect()
	for range 5 {
		h.tick()
	}

	require.NoError(t, box.Deliver(protocol.NewCommand(1, id, "right")))
	result := h.tick()
	assert.Equal(t, 1, result.Executed)
}

func TestWorld_RejectedCommands(t *testing.T) {
	failing := CommandHandlerFunc[string](func(*World[string], uuid.UUID, protocol.CommandMessage[string]) error {
		return errors.New("not allowed")
	})
	h := newServerHarness(t, DefaultConfig(), failing)
	box := h.connect()
	h.tick()

	require.NoError(t, box.Deliver(protocol.NewCommand(1, 9, "x")))
	result := h.tick()
	assert.Equal(t, 1, result.Rejected)
	assert.False(t, box.Closed(), "non fatal errors keep the session")

	h = newServerHarness(t, DefaultConfig(), moveHandler(1))
	box = h.connect()
	h.tick()
	require.NoError(t, box.Deliver(protocol.NewCommand(1, 9, "x")))
	result = h.tick()
	assert.Equal(t, 1, result.Rejected)

	result = h.tick()
	assert.Equal(t, 1, result.Left, "unknown identity disconnects the session")
	assert.True(t, box.Closed())
}

func TestWorld_CommandsWithoutHandler(t *testing.T) {
	h := newServerHarness(t, DefaultConfig(), nil)
	box := h.connect()
	h.tick()

	require.NoError(t, box.Deliver(protocol.NewCommand(1, 9, "x")))
	result := h.tick()
	assert.Equal(t, 1, result.Rejected)
	assert.Zero(t, result.Executed)
	assert.False(t, protocol.IsFatal(ErrNoCommandHandler))

	result = h.tick()
	assert.Zero(t, result.Left, "a missing handler keeps the session")
	assert.False(t, box.Closed())
}

func TestWorld_SessionLifecycle(t *testing.T) {
	h := newServerHarness(t, Config{MaxSessions: 2}, moveHandler(1))
	first := h.connect()
	second := h.connect()

	_, err := h.world.Connect(NewPostBox[string]())
	assert.ErrorIs(t, err, ErrMaxSessionsReached)

	result := h.tick()
	assert.Equal(t, 2, result.Joined)
	assert.Equal(t, 2, h.world.SessionCount())

	require.NoError(t, second.Deliver(protocol.NewCommand(50, 1, "right")))
	h.tick()
	assert.Equal(t, 1, h.world.Pending())

	second.Close()
	result = h.tick()
	assert.Equal(t, 1, result.Left)
	assert.Zero(t, h.world.Pending(), "commands of a closed session are dropped")
	assert.Equal(t, 1, h.world.SessionCount())

	id := first.ID()
	h.world.Disconnect(id)
	h.tick()
	_, ok := h.world.Session(id)
	assert.False(t, ok)
	assert.True(t, first.Closed())
	assert.Zero(t, h.world.SessionCount())
}

func TestWorld_CustomMessages(t *testing.T) {
	h := newServerHarness(t, DefaultConfig(), nil)
	box := h.connect()
	h.tick()

	require.NoError(t, box.Deliver(protocol.NewClientCustom[string](protocol.Custom{Type: "chat", Payload: []byte("hi")})))
	h.tick()

	custom := h.world.DrainCustom()
	require.Len(t, custom, 1)
	assert.Equal(t, box.ID(), custom[0].Session)
	assert.Equal(t, "chat", custom[0].Type)

	states(box)
	assert.Equal(t, 1, h.world.Broadcast(protocol.Custom{Type: "news"}))
	require.NoError(t, h.world.SendCustom(box.ID(), protocol.Custom{Type: "direct"}))
	assert.ErrorIs(t, h.world.SendCustom(uuid.New(), protocol.Custom{}), ErrSessionNotFound)
	assert.Len(t, box.DrainOutbox(), 2)
}

func TestWorld_MutationErrors(t *testing.T) {
	h := newServerHarness(t, DefaultConfig(), nil)

	_, err := h.world.Spawn(struct{ Unknown int }{})
	assert.ErrorIs(t, err, protocol.ErrUnknownComponent)
	assert.Empty(t, h.world.Entities())

	assert.ErrorIs(t, h.world.Despawn(5), protocol.ErrUnknownIdentity)
	assert.ErrorIs(t, h.world.Modify(5, positionID, step(1)), protocol.ErrUnknownIdentity)

	id, err := h.world.Spawn(position{})
	require.NoError(t, err)
	assert.ErrorIs(t, h.world.Modify(id, healthID, step(1)), protocol.ErrUnknownComponent)
	assert.ErrorIs(t, h.world.Modify(id, 99, step(1)), protocol.ErrUnknownComponent)

	removed, err := h.world.RemoveComponent(id, healthID)
	require.NoError(t, err)
	assert.False(t, removed)
}

// bridge moves messages between a server and a client postbox in process.
func bridge(
	server *postbox.PostBox[protocol.ClientToServer[string], protocol.ServerToClient],
	client *postbox.PostBox[protocol.ServerToClient, protocol.ClientToServer[string]],
) {
	for _, msg := range server.DrainOutbox() {
		_ = client.Deliver(msg)
	}
	for _, msg := range client.DrainOutbox() {
		_ = server.Deliver(msg)
	}
}

func TestWorld_ClientConverges(t *testing.T) {
	tests := []struct {
		name         string
		serverStep   int
		want         position
		matched      int
		mispredicted int
	}{
		{name: "prediction confirmed", serverStep: 1, want: position{X: 1}, matched: 1},
		{name: "prediction corrected", serverStep: -1, want: position{X: -1}, mispredicted: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newServerHarness(t, DefaultConfig(), moveHandler(tt.serverStep))
			id, err := h.world.Spawn(position{})
			require.NoError(t, err)

			clientNow := time.Unix(0, 0)
			clientTicker := clock.NewTicker(10, clock.WithNow(func() time.Time { return clientNow }))
			c := client.NewWorld[string](log.NewNop(), client.DefaultConfig(), newRegistry(), world.NewMemory(), clientTicker)
			clientTick := func() client.TickResult {
				clientNow = clientNow.Add(100 * time.Millisecond)
				result, err := c.Tick()
				require.NoError(t, err)
				return result
			}

			serverBox := h.connect()
			clientBox := client.NewPostBox[string]()
			c.Connect(clientBox)

			h.tick()
			bridge(serverBox, clientBox)
			result := clientTick()
			require.Equal(t, 1, result.Inserted)
			require.EqualValues(t, 4, c.CommandFrame())

			require.NoError(t, c.Predict(id, positionID, "move", step(1)))
			result = clientTick()
			require.Equal(t, 1, result.Sent)
			bridge(serverBox, clientBox)

			for range 3 {
				h.tick()
			}
			bridge(serverBox, clientBox)

			result = clientTick()
			assert.Equal(t, 3, result.Updates)
			assert.Equal(t, tt.matched, result.Matched)
			assert.Equal(t, tt.mispredicted, result.Mispredicted)

			handle, err := c.Handle(id)
			require.NoError(t, err)
			value, ok := c.Storage().Get(handle, positionID)
			require.True(t, ok)
			assert.Equal(t, tt.want, value)

			authoritative, _, err := h.world.Get(id, positionID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, authoritative)
			assert.Len(t, c.Resimulations(), tt.mispredicted)
		})
	}
}
