// Package injector assembles the broker from its configuration.
package injector

import (
	"github.com/ticksync/ticksync/internal/broker"
	"github.com/ticksync/ticksync/internal/broker/store"
	"github.com/ticksync/ticksync/internal/core/observability/log"
)

func provideLogger(cfg broker.Config) log.Log {
	return log.New(cfg.Level())
}

func provideStore(cfg broker.Config) (store.RoomStore, func(), error) {
	st, err := broker.OpenStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return st, func() { _ = st.Close() }, nil
}
