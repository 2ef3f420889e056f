package preaudit

import (
	"github.com/smallbiznis/medaudit/internal/preaudit/repository"
	"github.com/smallbiznis/medaudit/internal/preaudit/rules"
	"github.com/smallbiznis/medaudit/internal/preaudit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("preaudit.service",
	fx.Provide(repository.Provide),
	fx.Provide(rules.NewEngine),
	fx.Provide(service.New),
)
