package server

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/netsync/internal/core/observability/log"
	"github.com/zeusync/netsync/internal/core/protocol"
	"github.com/zeusync/netsync/internal/transport"
)

// Run polls Tick until ctx ends or a tick fails. Only one Run may be active at a time.
func (w *World[C]) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}
	defer w.running.Store(false)

	poll := w.ticker.Interval() / 4
	if poll <= 0 {
		poll = time.Millisecond
	}
	t := time.NewTicker(poll)
	defer t.Stop()

	w.log.Info("Tick loop started", log.Duration("interval", w.ticker.Interval()))
	defer w.log.Info("Tick loop stopped", log.Uint32("frame", uint32(w.ticker.CommandFrame())))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := w.Tick(); err != nil {
				return err
			}
		}
	}
}

// Serve accepts connections from listener, pumps each through a Link and runs the tick
// loop. It returns when ctx ends, the listener fails or a tick fails.
func (w *World[C]) Serve(ctx context.Context, listener transport.Listener, packer *protocol.Packer) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return w.Run(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		return listener.Close()
	})
	g.Go(func() error { return w.accept(ctx, g, listener, packer) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *World[C]) accept(ctx context.Context, g *errgroup.Group, listener transport.Listener, packer *protocol.Packer) error {
	w.log.Info("Accepting connections", log.String("addr", listener.Addr()))
	defer w.log.Debug("Connection acceptor stopped")

	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, protocol.ErrConnectionClosed) {
				return nil
			}
			w.log.Warn("Failed to accept connection", log.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		box := NewPostBox[C]()
		id, err := w.Connect(box)
		if err != nil {
			_ = conn.Close()
			continue
		}

		link := transport.NewLink(w.log, conn, box, packer)
		g.Go(func() error {
			if err := link.Run(ctx); err != nil {
				w.log.Warn("Session link failed",
					log.String("session_id", id.String()),
					log.String("remote_addr", conn.RemoteAddr()),
					log.Error(err))
			}
			w.Disconnect(id)
			return nil
		})
	}
}
