package glosa

import (
	"github.com/smallbiznis/medaudit/internal/glosa/repository"
	"github.com/smallbiznis/medaudit/internal/glosa/service"
	"go.uber.org/fx"
)

var Module = fx.Module("glosa.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
