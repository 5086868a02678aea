// Package client runs the predicting side: it ticks the command frame clock, applies
// server state, predicts local commands and hands resimulations to the simulation.
package client

import (
	"errors"

	"github.com/zeusync/netsync/internal/core/buffer"
	"github.com/zeusync/netsync/internal/core/clock"
	"github.com/zeusync/netsync/internal/core/models"
	"github.com/zeusync/netsync/internal/core/observability/log"
	"github.com/zeusync/netsync/internal/core/postbox"
	"github.com/zeusync/netsync/internal/core/protocol"
	"github.com/zeusync/netsync/internal/core/reconcile"
	"github.com/zeusync/netsync/internal/core/registry"
	"github.com/zeusync/netsync/internal/core/uid"
	"github.com/zeusync/netsync/internal/core/world"
)

// NewPostBox creates the client end of a connection.
func NewPostBox[C any]() *postbox.PostBox[protocol.ServerToClient, protocol.ClientToServer[C]] {
	return postbox.New[protocol.ServerToClient, protocol.ClientToServer[C]]()
}

// Config holds client tuning.
type Config struct {
	Lag             int32
	InitialLead     int32
	CommandCapacity int
}

func DefaultConfig() Config {
	return Config{
		Lag:             clock.DefaultLag,
		InitialLead:     clock.InitialLead,
		CommandCapacity: buffer.DefaultCapacity,
	}
}

// TickResult reports what one Tick did.
type TickResult struct {
	Ticked  bool
	Frame   models.CommandFrame
	Updates int
	Sent    int
	reconcile.Result
}

// World is the client replica. It is driven by a single goroutine calling Tick.
type World[C any] struct {
	log       log.Log
	config    Config
	registry  *registry.Registry
	allocator *uid.Allocator
	world     world.Storage
	ticker    *clock.Ticker
	corrector clock.Corrector
	commands  *buffer.CommandBuffer[C]
	resim     *buffer.ResimulationBuffer[C]
	engine    *reconcile.Engine[C]

	box    *postbox.PostBox[protocol.ServerToClient, protocol.ClientToServer[C]]
	seeded bool
}

func NewWorld[C any](
	logger log.Log,
	config Config,
	reg *registry.Registry,
	w world.Storage,
	ticker *clock.Ticker,
) *World[C] {
	logger = logger.With(log.String("component", "client"))
	allocator := uid.NewAllocator()
	commands := buffer.NewCommandBuffer[C](config.CommandCapacity)
	resim := buffer.NewResimulationBuffer[C]()

	return &World[C]{
		log:       logger,
		config:    config,
		registry:  reg,
		allocator: allocator,
		world:     w,
		ticker:    ticker,
		corrector: clock.NewCorrector(config.Lag),
		commands:  commands,
		resim:     resim,
		engine:    reconcile.NewEngine[C](logger, reg, allocator, w, commands, resim),
	}
}

// Connect attaches a postbox. Passing nil detaches the current one.
func (c *World[C]) Connect(box *postbox.PostBox[protocol.ServerToClient, protocol.ClientToServer[C]]) {
	c.box = box
}

// Connected reports whether a live postbox is attached.
func (c *World[C]) Connected() bool {
	return c.box != nil && !c.box.Closed()
}

// Tick polls the clock and, on a new frame, applies every queued state update and sends
// unsent commands. A missing or closed connection means no messages this tick.
// A returned error is fatal for the connection.
func (c *World[C]) Tick() (TickResult, error) {
	result := TickResult{Frame: c.ticker.CommandFrame()}
	if !c.ticker.TryTick() {
		return result, nil
	}
	result.Ticked = true

	if c.box != nil {
		for _, msg := range c.box.DrainInbox(protocol.IsStateUpdate) {
			applied, err := c.applyUpdate(msg.State)
			accumulate(&result.Result, applied)
			result.Updates++
			if err != nil {
				result.Frame = c.ticker.CommandFrame()
				return result, err
			}
		}
	}

	result.Frame = c.ticker.CommandFrame()

	if c.Connected() {
		sent, err := c.engine.SendUnsent(c.box)
		result.Sent = sent
		if err != nil && !errors.Is(err, protocol.ErrPostBoxClosed) {
			return result, err
		}
	}
	return result, nil
}

func (c *World[C]) applyUpdate(state *protocol.WorldState) (reconcile.Result, error) {
	correction := c.corrector.Apply(c.ticker, state.CommandFrameOffset, state.CommandFrame)
	if correction.Reset {
		c.log.Warn("Command frame reset",
			log.Int32("offset", state.CommandFrameOffset),
			log.Uint32("server_frame", uint32(state.CommandFrame)),
			log.Uint32("frame", uint32(correction.Frame)),
		)
	}

	if !c.seeded {
		c.seeded = true
		c.ticker.SetCommandFrame(state.CommandFrame.Add(c.config.InitialLead))
		c.log.Debug("Initial state update", log.Uint32("frame", uint32(c.ticker.CommandFrame())))
	}

	return c.engine.Apply(state, c.ticker.CommandFrame())
}

func accumulate(into *reconcile.Result, r reconcile.Result) {
	into.Removed += r.Removed
	into.Inserted += r.Inserted
	into.ComponentsRemoved += r.ComponentsRemoved
	into.ComponentsAdded += r.ComponentsAdded
	into.Matched += r.Matched
	into.Mispredicted += r.Mispredicted
	into.Applied += r.Applied
}

// Predict runs step against the entity component at the current frame and buffers the
// command with the snapshots taken before and after.
func (c *World[C]) Predict(entity models.Uid, component models.ComponentID, command C, step func(current any) (any, error)) error {
	d, err := c.registry.ByID(component)
	if err != nil {
		return err
	}
	handle, err := c.allocator.Handle(entity)
	if err != nil {
		return err
	}

	before, ok, err := d.Snapshot(c.world, handle)
	if err != nil {
		return err
	}
	if !ok {
		return protocol.NewProtocolError(protocol.ErrorCodeProtocolViolation, "predict", protocol.ErrUnknownComponent).
			WithContext("uid", uint64(entity)).
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
	if err = d.Attach(c.world, handle, after); err != nil {
		return err
	}

	c.Record(buffer.Entry[C]{
		Entity:    entity,
		Component: component,
		Frame:     c.ticker.CommandFrame(),
		Command:   command,
		Unchanged: before,
		Changed:   after,
	})
	return nil
}

// Replay re-runs the commands of a resimulation request on top of the corrected world.
// Commands at the server frame are already part of the server state and are skipped.
// Buffered predictions take the replayed snapshots so later frames reconcile against them.
// It returns how many commands were replayed.
func (c *World[C]) Replay(resim buffer.ResimulationEntry[C], step func(command C) func(current any) (any, error)) (int, error) {
	replayed := 0
	for _, e := range resim.Entries {
		if e.Frame.Sub(resim.ServerFrame) <= 0 {
			continue
		}
		d, err := c.registry.ByID(e.Component)
		if err != nil {
			return replayed, err
		}
		handle, err := c.allocator.Handle(e.Entity)
		if err != nil {
			return replayed, err
		}
		data, ok, err := d.Snapshot(c.world, handle)
		if err != nil {
			return replayed, err
		}
		if !ok {
			return replayed, protocol.NewProtocolError(protocol.ErrorCodeProtocolViolation, "replay", protocol.ErrUnknownComponent).
				WithContext("uid", uint64(e.Entity)).
				WithContext("component_id", uint32(e.Component)).
				WithContext("frame", uint32(e.Frame))
		}
		current, err := d.Deserialize(data)
		if err != nil {
			return replayed, err
		}
		next, err := step(e.Command)(current)
		if err != nil {
			return replayed, err
		}
		encoded, err := d.Serialize(next)
		if err != nil {
			return replayed, err
		}
		if err = d.Attach(c.world, handle, encoded); err != nil {
			return replayed, err
		}
		c.commands.Rewrite(e, data, encoded)
		replayed++
	}
	if replayed > 0 {
		c.log.Debug("Replayed commands",
			log.Uint32("server_frame", uint32(resim.ServerFrame)),
			log.Int("commands", replayed))
	}
	return replayed, nil
}

// Record buffers an already simulated command.
func (c *World[C]) Record(entry buffer.Entry[C]) {
	c.commands.Push(entry)
}

// Resimulations drains the replay requests produced by reconciliation.
func (c *World[C]) Resimulations() []buffer.ResimulationEntry[C] {
	return c.resim.Drain()
}

// DrainCustom removes queued application messages, leaving state updates for Tick.
func (c *World[C]) DrainCustom() []protocol.Custom {
	if c.box == nil {
		return nil
	}
	msgs := c.box.DrainInbox(func(m protocol.ServerToClient) bool {
		return m.Kind == protocol.ServerCustom && m.Custom != nil
	})
	out := make([]protocol.Custom, len(msgs))
	for i, m := range msgs {
		out[i] = *m.Custom
	}
	return out
}

// SendCustom queues an application message for the server.
func (c *World[C]) SendCustom(custom protocol.Custom) error {
	if c.box == nil {
		return protocol.NewProtocolError(protocol.ErrorCodeTransportClosed, "send custom", protocol.ErrConnectionClosed)
	}
	return c.box.Send(protocol.NewClientCustom[C](custom))
}

// Handle resolves a server identity to the local handle.
func (c *World[C]) Handle(entity models.Uid) (models.Handle, error) {
	return c.allocator.Handle(entity)
}

// Entities lists every identity the server has replicated, ascending.
func (c *World[C]) Entities() []models.Uid {
	return c.allocator.Uids()
}

func (c *World[C]) CommandFrame() models.CommandFrame {
	return c.ticker.CommandFrame()
}

func (c *World[C]) Ticker() *clock.Ticker {
	return c.ticker
}

func (c *World[C]) Storage() world.Storage {
	return c.world
}

func (c *World[C]) Commands() *buffer.CommandBuffer[C] {
	return c.commands
}
