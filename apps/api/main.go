package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/medaudit/internal/assignment"
	"github.com/smallbiznis/medaudit/internal/authorization"
	"github.com/smallbiznis/medaudit/internal/claim"
	"github.com/smallbiznis/medaudit/internal/clock"
	"github.com/smallbiznis/medaudit/internal/config"
	"github.com/smallbiznis/medaudit/internal/glosa"
	"github.com/smallbiznis/medaudit/internal/migration"
	"github.com/smallbiznis/medaudit/internal/observability"
	"github.com/smallbiznis/medaudit/internal/preaudit"
	"github.com/smallbiznis/medaudit/internal/ratelimit"
	"github.com/smallbiznis/medaudit/internal/roster"
	"github.com/smallbiznis/medaudit/internal/server"
	"github.com/smallbiznis/medaudit/internal/traceability"
	"github.com/smallbiznis/medaudit/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		ratelimit.Module,

		traceability.Module,
		claim.Module,
		roster.Module,
		authorization.Module,
		preaudit.Module,
		assignment.Module,
		glosa.Module,

		// No relay worker, run apps/relay next to it.
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
