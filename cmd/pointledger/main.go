package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pointledger/internal/broker"
	"github.com/smallbiznis/pointledger/internal/clock"
	"github.com/smallbiznis/pointledger/internal/config"
	"github.com/smallbiznis/pointledger/internal/gateway"
	"github.com/smallbiznis/pointledger/internal/ledger"
	"github.com/smallbiznis/pointledger/internal/logger"
	"github.com/smallbiznis/pointledger/internal/metrics"
	"github.com/smallbiznis/pointledger/internal/migration"
	"github.com/smallbiznis/pointledger/internal/outbox"
	"github.com/smallbiznis/pointledger/internal/router"
	"github.com/smallbiznis/pointledger/internal/server"
	"github.com/smallbiznis/pointledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		metrics.Module,
		migration.Module,
		broker.Module,

		// Balance engine
		ledger.Module,
		outbox.Module,
		router.Module,
		gateway.Module,

		// Query surface
		server.Module,
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
