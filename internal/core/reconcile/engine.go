// Package reconcile applies authoritative world state on a predicting client and
// repairs mispredictions by queueing resimulations.
package reconcile

import (
	"github.com/zeusync/netsync/internal/core/buffer"
	"github.com/zeusync/netsync/internal/core/models"
	"github.com/zeusync/netsync/internal/core/observability/log"
	"github.com/zeusync/netsync/internal/core/protocol"
	"github.com/zeusync/netsync/internal/core/registry"
	"github.com/zeusync/netsync/internal/core/uid"
	"github.com/zeusync/netsync/internal/core/world"
)

// Result summarizes one applied WorldState.
type Result struct {
	Removed           int
	Inserted          int
	ComponentsRemoved int
	ComponentsAdded   int
	// Matched counts predictions the server agreed with.
	Matched int
	// Mispredicted counts groups that were overwritten and queued for resimulation.
	Mispredicted int
	// Applied counts server changes applied to entities without pending predictions.
	Applied int
}

// Sender is the outbound half of a client postbox.
type Sender[C any] interface {
	Send(protocol.ClientToServer[C]) error
}

// Engine owns no state of its own; it operates on the structures of one client tick loop.
type Engine[C any] struct {
	log       log.Log
	registry  *registry.Registry
	allocator *uid.Allocator
	world     world.Storage
	commands  *buffer.CommandBuffer[C]
	resim     *buffer.ResimulationBuffer[C]
}

func NewEngine[C any](
	logger log.Log,
	reg *registry.Registry,
	allocator *uid.Allocator,
	w world.Storage,
	commands *buffer.CommandBuffer[C],
	resim *buffer.ResimulationBuffer[C],
) *Engine[C] {
	return &Engine[C]{
		log:       logger.With(log.String("component", "reconcile")),
		registry:  reg,
		allocator: allocator,
		world:     w,
		commands:  commands,
		resim:     resim,
	}
}

// Apply runs every step for one message in order. A returned error is fatal: the world
// may be partially updated and the connection must be resynchronized.
func (e *Engine[C]) Apply(state *protocol.WorldState, clientFrame models.CommandFrame) (Result, error) {
	u := &stateUpdater[C]{
		Engine:      e,
		state:       state,
		clientFrame: clientFrame,
	}

	steps := []func() error{
		u.applyEntityRemovals,
		u.applyEntityInserts,
		u.applyRemovedComponents,
		u.applyAddedComponents,
		u.applyChangedComponents,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			e.log.Error("State update aborted",
				log.Uint32("frame", uint32(state.CommandFrame)),
				log.Error(err),
			)
			return u.result, err
		}
	}
	return u.result, nil
}

// SendUnsent sends every buffered command not yet sent and marks it sent.
func (e *Engine[C]) SendUnsent(out Sender[C]) (int, error) {
	sent := 0
	for _, entry := range e.commands.Unsent() {
		if err := out.Send(protocol.NewCommand(entry.Frame, entry.Entity, entry.Command)); err != nil {
			return sent, err
		}
		entry.Sent = true
		sent++
	}
	return sent, nil
}
