package transport

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/netsync/internal/core/observability/log"
	"github.com/zeusync/netsync/internal/core/postbox"
	"github.com/zeusync/netsync/internal/core/protocol"
)

// Link pumps frames between a Conn and a PostBox until either side closes.
// Inbound frames are unpacked into In and delivered; outbound Out messages are packed
// and written in send order.
type Link[In, Out any] struct {
	conn   Conn
	box    *postbox.PostBox[In, Out]
	packer *protocol.Packer
	log    log.Log
}

func NewLink[In, Out any](logger log.Log, conn Conn, box *postbox.PostBox[In, Out], packer *protocol.Packer) *Link[In, Out] {
	return &Link[In, Out]{
		conn:   conn,
		box:    box,
		packer: packer,
		log: logger.With(
			log.String("component", "link"),
			log.String("postbox", box.ID().String()),
			log.String("remote_addr", conn.RemoteAddr()),
		),
	}
}

// Run blocks until the connection ends. The postbox is closed on return. A clean close
// from either side returns nil; malformed frames return the protocol error.
func (l *Link[In, Out]) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return l.readLoop(ctx) })
	g.Go(func() error { return l.writeLoop(ctx) })
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-l.box.Done():
		}
		return l.conn.Close()
	})

	err := g.Wait()
	l.box.Close()

	if err != nil && !l.isClosed(err) {
		l.log.Warn("Link terminated", log.Error(err))
		return err
	}
	l.log.Debug("Link closed")
	return nil
}

func (l *Link[In, Out]) readLoop(ctx context.Context) error {
	for {
		frame, err := l.conn.ReadFrame(ctx)
		if err != nil {
			if l.box.Closed() {
				return nil
			}
			return err
		}

		var msg In
		if err = l.packer.Unpack(frame, &msg); err != nil {
			return err
		}
		if err = l.box.Deliver(msg); err != nil {
			return nil
		}
	}
}

func (l *Link[In, Out]) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.box.Done():
			return nil
		case <-l.box.Notify():
		}

		for _, msg := range l.box.DrainOutbox() {
			frame, err := l.packer.Pack(msg)
			if err != nil {
				return err
			}
			if err = l.conn.WriteFrame(ctx, frame); err != nil {
				return err
			}
		}
	}
}

func (l *Link[In, Out]) isClosed(err error) bool {
	return IsClosed(err) ||
		errors.Is(err, protocol.ErrConnectionClosed) ||
		errors.Is(err, context.Canceled)
}
