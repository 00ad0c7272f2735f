package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/siteloom/growth/internal/clock"
	"github.com/siteloom/growth/internal/migration"
	"github.com/siteloom/growth/internal/observability"
	"github.com/siteloom/growth/internal/scheduler"
	"github.com/siteloom/growth/internal/server"
	"github.com/siteloom/growth/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// HTTP API plus every domain slice it serves
		server.Module,

		// Background sweeps and startup migrations
		scheduler.Module,
		migration.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
