package claim

import (
	"context"
	"time"

	"github.com/smallbiznis/medaudit/internal/claim/domain"
	"github.com/smallbiznis/medaudit/internal/claim/repository"
	"github.com/smallbiznis/medaudit/internal/claim/service"
	"github.com/smallbiznis/medaudit/internal/config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("claim.service",
	fx.Provide(provideRepository),
	fx.Provide(service.NewValidator),
	fx.Provide(service.New),
)

func provideRepository(lc fx.Lifecycle, cfg config.Config, conn *gorm.DB, log *zap.Logger) (domain.Repository, error) {
	if !cfg.UsesMongoClaimStore() {
		return repository.NewSQL(conn), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	repo, err := repository.NewMongo(ctx, client.Database(cfg.MongoDatabase))
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("closing mongo connection")
			return client.Disconnect(ctx)
		},
	})
	log.Info("claim store using mongo", zap.String("database", cfg.MongoDatabase))
	return repo, nil
}
