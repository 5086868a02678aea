// Package server runs the authoritative world: it schedules client commands by frame,
// tracks mutations and broadcasts the resulting state to every session.
package server

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/zeusync/netsync/internal/core/clock"
	"github.com/zeusync/netsync/internal/core/models"
	"github.com/zeusync/netsync/internal/core/observability/log"
	"github.com/zeusync/netsync/internal/core/postbox"
	"github.com/zeusync/netsync/internal/core/protocol"
	"github.com/zeusync/netsync/internal/core/registry"
	"github.com/zeusync/netsync/internal/core/serialize"
	"github.com/zeusync/netsync/internal/core/tracking"
	"github.com/zeusync/netsync/internal/core/uid"
	"github.com/zeusync/netsync/internal/core/world"
	"github.com/zeusync/netsync/pkg/sequence"
)

// Config holds server tuning.
type Config struct {
	// Lag is reported as the offset of sessions that have not sent a command yet.
	Lag int32
	// MaxSessions bounds concurrent sessions. Zero means unbounded.
	MaxSessions int
}

func DefaultConfig() Config {
	return Config{
		Lag:         clock.DefaultLag,
		MaxSessions: 1024,
	}
}

// CommandHandler executes one client command against the world. It runs on the tick
// goroutine and may call the World mutation helpers.
type CommandHandler[C any] interface {
	HandleCommand(w *World[C], session uuid.UUID, cmd protocol.CommandMessage[C]) error
}

// CommandHandlerFunc adapts a function to CommandHandler.
type CommandHandlerFunc[C any] func(w *World[C], session uuid.UUID, cmd protocol.CommandMessage[C]) error

func (f CommandHandlerFunc[C]) HandleCommand(w *World[C], session uuid.UUID, cmd protocol.CommandMessage[C]) error {
	return f(w, session, cmd)
}

// SessionObserver is optionally implemented by a CommandHandler to follow sessions joining
// and leaving. Both run on the tick goroutine before the state of that tick is built.
type SessionObserver[C any] interface {
	SessionJoined(w *World[C], session uuid.UUID) error
	SessionLeft(w *World[C], session uuid.UUID) error
}

// SessionCustom is an application message received from a session.
type SessionCustom struct {
	Session uuid.UUID
	protocol.Custom
}

// TickResult reports what one Tick did.
type TickResult struct {
	Ticked    bool
	Frame     models.CommandFrame
	Joined    int
	Left      int
	Received  int
	Executed  int
	Rejected  int
	Events    int
	Broadcast int
}

type scheduled[C any] struct {
	session uuid.UUID
	command protocol.CommandMessage[C]
}

// World is the authoritative world. Tick and every mutation helper belong to one
// goroutine; Connect and Disconnect may be called from any goroutine.
type World[C any] struct {
	log       log.Log
	config    Config
	registry  *registry.Registry
	allocator *uid.Allocator
	storage   world.Storage
	ticker    *clock.Ticker
	tracker   *tracking.Tracker
	builder   *serialize.Builder
	handler   CommandHandler[C]
	queue     *sequence.PriorityQueue[scheduled[C]]

	sessions map[uuid.UUID]*Session[C]
	order    []uuid.UUID

	mu      sync.Mutex
	joining []*Session[C]
	leaving map[uuid.UUID]struct{}
	count   int

	custom []SessionCustom

	running atomic.Bool
}

func NewWorld[C any](
	logger log.Log,
	config Config,
	reg *registry.Registry,
	allocator *uid.Allocator,
	storage world.Storage,
	ticker *clock.Ticker,
	handler CommandHandler[C],
) *World[C] {
	if config.Lag == 0 {
		config.Lag = clock.DefaultLag
	}
	logger = logger.With(log.String("component", "server"))

	w := &World[C]{
		log:       logger,
		config:    config,
		registry:  reg,
		allocator: allocator,
		storage:   storage,
		ticker:    ticker,
		tracker:   tracking.NewTracker(),
		builder:   serialize.NewBuilder(logger, reg, allocator, storage),
		handler:   handler,
		queue:     sequence.NewPriorityQueue[scheduled[C]](),
		sessions:  make(map[uuid.UUID]*Session[C]),
		leaving:   make(map[uuid.UUID]struct{}),
	}

	logger.Info("Server world created",
		log.Int32("lag", config.Lag),
		log.Int("max_sessions", config.MaxSessions),
		log.Int("components", reg.Len()))

	return w
}

// Connect admits a session. It receives a full snapshot on the next tick.
func (w *World[C]) Connect(box *postbox.PostBox[protocol.ClientToServer[C], protocol.ServerToClient]) (uuid.UUID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.config.MaxSessions > 0 && w.count >= w.config.MaxSessions {
		w.log.Warn("Maximum sessions reached, rejecting connection", log.String("session_id", box.ID().String()))
		return uuid.Nil, ErrMaxSessionsReached
	}

	session := newSession[C](box)
	w.joining = append(w.joining, session)
	w.count++
	return session.ID, nil
}

// Disconnect removes a session on the next tick and closes its postbox.
func (w *World[C]) Disconnect(id uuid.UUID) {
	w.mu.Lock()
	w.leaving[id] = struct{}{}
	w.mu.Unlock()
}

// SessionCount includes sessions admitted since the last tick.
func (w *World[C]) SessionCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Session returns an active session. Tick goroutine only.
func (w *World[C]) Session(id uuid.UUID) (*Session[C], bool) {
	s, ok := w.sessions[id]
	return s, ok
}

// Tick advances the frame when due. It admits and drops sessions, executes every command
// scheduled at or before the frame, then broadcasts the tracked changes. Each session
// gets its own CommandFrameOffset.
func (w *World[C]) Tick() (TickResult, error) {
	result := TickResult{Frame: w.ticker.CommandFrame()}
	if !w.ticker.TryTick() {
		return result, nil
	}
	result.Ticked = true
	frame := w.ticker.CommandFrame()
	result.Frame = frame

	joined := w.admit(&result)
	result.Received = w.receive()
	w.execute(frame, &result)

	events := w.tracker.Gather()
	result.Events = len(events)

	state, err := w.builder.Build(frame, events)
	if err != nil {
		w.log.Error("Failed to build state update", log.Uint32("frame", uint32(frame)), log.Error(err))
		return result, err
	}

	for _, id := range w.order {
		session := w.sessions[id]
		if joined[id] {
			if err = w.sendSnapshot(session, frame); err != nil {
				return result, err
			}
			result.Broadcast++
			continue
		}
		if w.send(session, state) {
			result.Broadcast++
		}
	}

	return result, nil
}

func (w *World[C]) admit(result *TickResult) map[uuid.UUID]bool {
	w.mu.Lock()
	joining := w.joining
	w.joining = nil
	leaving := w.leaving
	w.leaving = make(map[uuid.UUID]struct{})
	w.mu.Unlock()

	observer, _ := w.handler.(SessionObserver[C])

	joined := make(map[uuid.UUID]bool, len(joining))
	for _, s := range joining {
		w.sessions[s.ID] = s
		w.order = append(w.order, s.ID)
		joined[s.ID] = true
		result.Joined++
		w.log.Info("Session connected", log.String("session_id", s.ID.String()))
		if observer != nil {
			if err := observer.SessionJoined(w, s.ID); err != nil {
				w.log.Warn("Session join hook failed", log.String("session_id", s.ID.String()), log.Error(err))
			}
		}
	}

	kept := w.order[:0]
	for _, id := range w.order {
		s := w.sessions[id]
		_, left := leaving[id]
		if !left && !s.Closed() {
			kept = append(kept, id)
			continue
		}
		s.box.Close()
		delete(w.sessions, id)
		delete(joined, id)
		w.queue.Remove(func(c scheduled[C]) bool { return c.session == id })
		result.Left++
		w.log.Info("Session disconnected",
			log.String("session_id", id.String()),
			log.Uint64("commands", s.Commands()))
		if observer != nil {
			if err := observer.SessionLeft(w, id); err != nil {
				w.log.Warn("Session leave hook failed", log.String("session_id", id.String()), log.Error(err))
			}
		}
	}
	w.order = kept

	if result.Left > 0 {
		w.mu.Lock()
		w.count -= result.Left
		w.mu.Unlock()
	}
	return joined
}

func (w *World[C]) receive() int {
	received := 0
	for _, id := range w.order {
		session := w.sessions[id]
		for _, msg := range session.box.DrainInbox(nil) {
			switch {
			case msg.Kind == protocol.ClientCommand && msg.Command != nil:
				session.observe(msg.Command.Frame)
				w.queue.Enqueue(scheduled[C]{session: id, command: *msg.Command}, int64(msg.Command.Frame))
				received++
			case msg.Kind == protocol.ClientCustom && msg.Custom != nil:
				w.custom = append(w.custom, SessionCustom{Session: id, Custom: *msg.Custom})
			default:
				w.log.Warn("Dropping malformed client message",
					log.String("session_id", id.String()),
					log.Int("kind", int(msg.Kind)))
			}
		}
	}
	return received
}

// execute runs every command due at frame. Late commands run immediately. Without a
// handler every command is rejected with ErrNoCommandHandler.
func (w *World[C]) execute(frame models.CommandFrame, result *TickResult) {
	for _, c := range w.queue.DequeueUntil(int64(frame)) {
		if err := w.handle(c); err != nil {
			result.Rejected++
			w.log.Warn("Command rejected",
				log.String("session_id", c.session.String()),
				log.Uint64("uid", uint64(c.command.Entity)),
				log.Uint32("frame", uint32(c.command.Frame)),
				log.Error(err))
			if protocol.IsFatal(err) {
				w.Disconnect(c.session)
			}
			continue
		}
		result.Executed++
	}
}

func (w *World[C]) handle(c scheduled[C]) error {
	if w.handler == nil {
		return ErrNoCommandHandler
	}
	return w.handler.HandleCommand(w, c.session, c.command)
}

func (w *World[C]) sendSnapshot(session *Session[C], frame models.CommandFrame) error {
	snapshot, err := w.builder.Snapshot(frame)
	if err != nil {
		w.log.Error("Failed to build snapshot", log.String("session_id", session.ID.String()), log.Error(err))
		return err
	}
	w.send(session, snapshot)
	return nil
}

func (w *World[C]) send(session *Session[C], state protocol.WorldState) bool {
	state.CommandFrameOffset = session.Offset(state.CommandFrame, w.config.Lag)
	state.Changed = protocol.NewChangeSet(state.Changed.Entries...)

	if err := session.box.Send(protocol.NewStateUpdate(state)); err != nil {
		w.log.Debug("State update not delivered", log.String("session_id", session.ID.String()), log.Error(err))
		return false
	}
	return true
}

// Broadcast queues an application message for every active session.
func (w *World[C]) Broadcast(custom protocol.Custom) int {
	sent := 0
	for _, id := range w.order {
		if w.sessions[id].box.Send(protocol.NewServerCustom(custom)) == nil {
			sent++
		}
	}
	return sent
}

// SendCustom queues an application message for one session.
func (w *World[C]) SendCustom(id uuid.UUID, custom protocol.Custom) error {
	s, ok := w.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	return s.box.Send(protocol.NewServerCustom(custom))
}

// DrainCustom removes application messages received since the last call.
func (w *World[C]) DrainCustom() []SessionCustom {
	out := w.custom
	w.custom = nil
	return out
}

// Pending reports how many commands wait for their frame.
func (w *World[C]) Pending() int {
	return w.queue.Len()
}

func (w *World[C]) CommandFrame() models.CommandFrame {
	return w.ticker.CommandFrame()
}

func (w *World[C]) Ticker() *clock.Ticker {
	return w.ticker
}

func (w *World[C]) Storage() world.Storage {
	return w.storage
}

func (w *World[C]) Registry() *registry.Registry {
	return w.registry
}

// Entities lists every replicated identity, ascending.
func (w *World[C]) Entities() []models.Uid {
	return w.allocator.Uids()
}
