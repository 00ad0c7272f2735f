package config

import (
	"github.com/siteloom/growth/pkg/db"
	"go.uber.org/fx"
)

func ProvideDBConfig(cfg Config) db.Config {
	return cfg.Database
}

var Module = fx.Module("config",
	fx.Provide(
		Load,
		ProvideDBConfig,
		NewGrowthRulesHolder,
	),
)
