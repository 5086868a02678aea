package server

import (
	"time"

	"github.com/google/uuid"

	"github.com/zeusync/netsync/internal/core/models"
	"github.com/zeusync/netsync/internal/core/postbox"
	"github.com/zeusync/netsync/internal/core/protocol"
)

// NewPostBox creates the server end of a connection.
func NewPostBox[C any]() *postbox.PostBox[protocol.ClientToServer[C], protocol.ServerToClient] {
	return postbox.New[protocol.ClientToServer[C], protocol.ServerToClient]()
}

// Session is one connected client as seen by the tick loop.
type Session[C any] struct {
	ID          uuid.UUID
	ConnectedAt time.Time

	box *postbox.PostBox[protocol.ClientToServer[C], protocol.ServerToClient]

	lastFrame  models.CommandFrame
	hasCommand bool
	commands   uint64
}

func newSession[C any](box *postbox.PostBox[protocol.ClientToServer[C], protocol.ServerToClient]) *Session[C] {
	return &Session[C]{
		ID:          box.ID(),
		ConnectedAt: time.Now(),
		box:         box,
	}
}

// observe records the frame of a received command. The newest frame wins.
func (s *Session[C]) observe(frame models.CommandFrame) {
	s.commands++
	if !s.hasCommand || frame.Sub(s.lastFrame) > 0 {
		s.lastFrame = frame
	}
	s.hasCommand = true
}

// Offset is how far the client runs ahead of serverFrame. Before any command arrives the
// client is assumed to sit exactly lag frames ahead.
func (s *Session[C]) Offset(serverFrame models.CommandFrame, lag int32) int32 {
	if !s.hasCommand {
		return lag
	}
	return s.lastFrame.Sub(serverFrame)
}

// Commands reports how many commands this session submitted.
func (s *Session[C]) Commands() uint64 {
	return s.commands
}

func (s *Session[C]) Closed() bool {
	return s.box.Closed()
}
