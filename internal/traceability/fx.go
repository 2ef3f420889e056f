package traceability

import (
	"github.com/smallbiznis/medaudit/internal/traceability/repository"
	"github.com/smallbiznis/medaudit/internal/traceability/service"
	"go.uber.org/fx"
)

var Module = fx.Module("traceability.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
