package app

import (
	"context"

	"roboai/internal/config"
)

func provideAppBuilder(cfg *config.Config, configPath string) *AppBuilder {
	return NewAppBuilder(cfg, WithConfigPath(configPath))
}

func provideAppFromBuilder(b *AppBuilder, ctx context.Context) (*App, error) {
	return b.Build(ctx)
}
