//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/netsync/internal/config"
)

func InitializeInfrastructure(cfg *config.Config) (*Infrastructure, error) {
	wire.Build(InfrastructureSet)
	return nil, nil
}
