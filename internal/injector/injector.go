//go:build wireinject
// +build wireinject

// The build tag keeps the stub out of normal builds; wire_gen.go is
// the compiled result.

package injector

import (
	"github.com/google/wire"

	"github.com/ticksync/ticksync/internal/broker"
)

func InitializeServer(configPath string) (*broker.Server, func(), error) {
	wire.Build(
		broker.LoadConfig,
		provideLogger,
		provideStore,
		broker.NewServer,
	)
	return nil, nil, nil
}
