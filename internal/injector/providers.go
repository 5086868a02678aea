package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/netsync/internal/config"
	"github.com/zeusync/netsync/internal/core/clock"
	"github.com/zeusync/netsync/internal/core/observability/log"
	"github.com/zeusync/netsync/internal/core/protocol"
	"github.com/zeusync/netsync/internal/core/registry"
	"github.com/zeusync/netsync/internal/core/uid"
	"github.com/zeusync/netsync/internal/core/world"
	"github.com/zeusync/netsync/internal/demo"
)

// Infrastructure is everything a server or client world is built from.
type Infrastructure struct {
	Config    *config.Config
	Logger    *log.Logger
	Registry  *registry.Registry
	Allocator *uid.Allocator
	Storage   world.Storage
	Ticker    *clock.Ticker
	Packer    *protocol.Packer
}

var InfrastructureSet = wire.NewSet(
	ProvideLogOptions,
	log.Provide,
	demo.NewRegistry,
	uid.NewAllocator,
	ProvideStorage,
	ProvideTicker,
	ProvideCompression,
	protocol.NewPacker,
	wire.Struct(new(Infrastructure), "*"),
)

func ProvideLogOptions(cfg *config.Config) (log.Options, error) {
	return cfg.LogOptions()
}

func ProvideStorage() world.Storage {
	return world.NewMemory()
}

func ProvideTicker(cfg *config.Config) *clock.Ticker {
	return clock.NewTicker(cfg.Clock.TickRateHz)
}

func ProvideCompression(cfg *config.Config) (protocol.Compression, error) {
	return cfg.CompressionStrategy()
}
