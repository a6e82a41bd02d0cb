package main

import (
	"go.uber.org/fx"

	"breakout-platform/internal/config"
	"breakout-platform/internal/identity"
	"breakout-platform/internal/relay"
	"breakout-platform/pkg/protocol"
	"breakout-platform/pkg/service"
)

func main() {
	fx.New(
		fx.Provide(
			relay.NewHub,
			identity.NewTokenService,

			protocol.AsHttpController(relay.NewRelayController),
			protocol.AsHttpController(identity.NewTokenController),
		),

		config.Module,
		service.LoggerModule,
		service.HttpModule,
	).Run()
}
