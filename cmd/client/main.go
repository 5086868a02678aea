package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/zeusync/netsync/internal/client"
	"github.com/zeusync/netsync/internal/config"
	"github.com/zeusync/netsync/internal/core/models"
	"github.com/zeusync/netsync/internal/core/observability/log"
	"github.com/zeusync/netsync/internal/core/protocol"
	"github.com/zeusync/netsync/internal/demo"
	"github.com/zeusync/netsync/internal/injector"
	"github.com/zeusync/netsync/internal/transport"
	"github.com/zeusync/netsync/internal/transport/quic"
	"github.com/zeusync/netsync/internal/transport/websocket"
)

// A square walk, one step per move.
var walk = []demo.Move{{DX: 1}, {DY: 1}, {DX: -1}, {DY: -1}}

func main() {
	configPath := flag.String("config", "", "path to a yaml config file")
	moveEvery := flag.Int("move-every", 6, "frames between two moves")
	flag.Parse()

	if err := run(*configPath, *moveEvery); err != nil {
		fmt.Println("Client failed:", err)
		os.Exit(1)
	}
}

func run(configPath string, moveEvery int) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}

	infra, err := injector.InitializeInfrastructure(cfg)
	if err != nil {
		return err
	}
	logger := infra.Logger
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Transport.DialTimeout)
	conn, err := dial(dialCtx, cfg)
	cancel()
	if err != nil {
		return err
	}

	box := client.NewPostBox[demo.Move]()
	link := transport.NewLink(logger, conn, box, infra.Packer)
	linkDone := make(chan error, 1)
	go func() { linkDone <- link.Run(ctx) }()

	world := client.NewWorld[demo.Move](
		logger,
		client.Config{
			Lag:             cfg.Clock.Lag,
			InitialLead:     cfg.Clock.InitialLead,
			CommandCapacity: cfg.Buffer.CommandCapacity,
		},
		infra.Registry,
		infra.Storage,
		infra.Ticker,
	)
	world.Connect(box)

	logger.Info("Client connected",
		log.String("transport", cfg.Transport.Kind),
		log.String("remote_addr", conn.RemoteAddr()))

	poll := time.NewTicker(infra.Ticker.Interval() / 4)
	defer poll.Stop()

	var (
		avatar   models.Uid
		assigned bool
		lastMove models.CommandFrame
		step     int
	)

	for {
		select {
		case <-ctx.Done():
			box.Close()
			return <-linkDone
		case err = <-linkDone:
			logger.Info("Connection closed")
			return err
		case <-poll.C:
		}

		for _, custom := range world.DrainCustom() {
			if id, ok := demo.ParseAssign(custom); ok {
				avatar, assigned = id, true
				logger.Info("Avatar assigned", log.Uint64("uid", uint64(avatar)))
			}
		}

		result, err := world.Tick()
		if err != nil {
			if protocol.IsFatal(err) {
				logger.Error("Desynchronized, disconnecting", log.Error(err))
			}
			box.Close()
			<-linkDone
			return err
		}
		if !result.Ticked {
			continue
		}

		for _, resim := range world.Resimulations() {
			if _, err = world.Replay(resim, demo.Step); err != nil {
				logger.Warn("Replay failed", log.Error(err))
			}
		}

		if !assigned || result.Frame.Sub(lastMove) < int32(moveEvery) {
			continue
		}
		if _, err = world.Handle(avatar); err != nil {
			continue
		}
		move := walk[step%len(walk)]
		if err = world.Predict(avatar, demo.PositionID, move, demo.Step(move)); err != nil {
			logger.Warn("Prediction failed", log.Error(err))
			continue
		}
		step++
		lastMove = result.Frame
		logger.Debug("Moved",
			log.Uint32("frame", uint32(result.Frame)),
			log.Int("matched", result.Matched),
			log.Int("mispredicted", result.Mispredicted))
	}
}

func dial(ctx context.Context, cfg *config.Config) (transport.Conn, error) {
	switch strings.ToLower(cfg.Transport.Kind) {
	case config.TransportQUIC:
		return quic.Dial(ctx, cfg.Transport.Addr, nil)
	default:
		return websocket.Dial(ctx, "ws://"+cfg.Transport.Addr+cfg.Transport.Path)
	}
}
