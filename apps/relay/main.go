package main

import (
	"github.com/smallbiznis/medaudit/internal/clock"
	"github.com/smallbiznis/medaudit/internal/config"
	"github.com/smallbiznis/medaudit/internal/observability"
	"github.com/smallbiznis/medaudit/internal/traceability/relay"
	"github.com/smallbiznis/medaudit/internal/traceability/repository"
	"github.com/smallbiznis/medaudit/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		clock.Module,

		// Reads the log only, the API owns migrations.
		fx.Provide(repository.Provide),
		relay.Module,
	)
	app.Run()
}
