package roster

import (
	"github.com/smallbiznis/medaudit/internal/roster/repository"
	"github.com/smallbiznis/medaudit/internal/roster/service"
	"go.uber.org/fx"
)

var Module = fx.Module("roster.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
