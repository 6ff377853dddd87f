package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/sadaqahq/amanah/internal/clock"
	"github.com/sadaqahq/amanah/internal/config"
	"github.com/sadaqahq/amanah/internal/locking"
	"github.com/sadaqahq/amanah/internal/migration"
	"github.com/sadaqahq/amanah/internal/observability"
	"github.com/sadaqahq/amanah/internal/scheduler"
	"github.com/sadaqahq/amanah/internal/server"
	"github.com/sadaqahq/amanah/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		locking.Module,
		migration.Module,

		// HTTP surface plus the domain services it serves
		server.Module,

		// Background maintenance
		scheduler.Module,
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
