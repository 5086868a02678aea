package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/zeusync/netsync/internal/config"
	"github.com/zeusync/netsync/internal/core/observability/log"
	"github.com/zeusync/netsync/internal/demo"
	"github.com/zeusync/netsync/internal/injector"
	"github.com/zeusync/netsync/internal/server"
	"github.com/zeusync/netsync/internal/transport"
	"github.com/zeusync/netsync/internal/transport/quic"
	"github.com/zeusync/netsync/internal/transport/websocket"
)

func main() {
	configPath := flag.String("config", "", "path to a yaml config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Println("Server failed:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
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

	listener, err := listen(logger, cfg)
	if err != nil {
		return err
	}

	world := server.NewWorld[demo.Move](
		logger,
		server.Config{Lag: cfg.Clock.Lag, MaxSessions: cfg.Server.MaxSessions},
		infra.Registry,
		infra.Allocator,
		infra.Storage,
		infra.Ticker,
		demo.NewGame(),
	)

	logger.Info("Server started",
		log.String("transport", cfg.Transport.Kind),
		log.String("addr", listener.Addr()),
		log.String("compression", infra.Packer.Compression().ID().String()))

	err = world.Serve(ctx, listener, infra.Packer)
	logger.Info("Server stopped")
	return err
}

func listen(logger log.Log, cfg *config.Config) (transport.Listener, error) {
	switch strings.ToLower(cfg.Transport.Kind) {
	case config.TransportQUIC:
		return quic.Listen(logger, cfg.Transport.Addr, nil)
	default:
		return websocket.Listen(logger, cfg.Transport.Addr, cfg.Transport.Path)
	}
}
