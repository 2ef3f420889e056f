package migration

import (
	"github.com/smallbiznis/medaudit/internal/config"
	"github.com/smallbiznis/medaudit/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if cfg.DBType == db.DialectSQLite {
			log.Info("applying sqlite schema")
			return ApplySchema(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
