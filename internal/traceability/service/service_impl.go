package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/medaudit/internal/clock"
	obscontext "github.com/smallbiznis/medaudit/internal/observability/context"
	"github.com/smallbiznis/medaudit/internal/traceability/domain"
	"github.com/smallbiznis/medaudit/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("traceability.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, tx *gorm.DB, entry domain.Entry) (*domain.Entry, error) {
	entry.ActionCode = strings.TrimSpace(entry.ActionCode)
	if entry.ActionCode == "" {
		return nil, domain.ErrInvalidAction
	}
	if entry.ClaimTransactionID == 0 {
		return nil, domain.ErrInvalidTransaction
	}

	entry.ActorID = s.resolveActor(ctx, entry.ActorID)

	payload := datatypes.JSONMap{}
	for key, value := range entry.Metadata {
		if key == "" {
			continue
		}
		payload[key] = value
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}
	entry.Metadata = payload

	entry.ID = s.genID.Generate()
	entry.CreatedAt = s.clock.Now().UTC()

	db := tx
	if db == nil {
		db = s.db
	}
	if err := s.repo.Insert(ctx, db, &entry); err != nil {
		s.log.Warn("failed to write traceability entry",
			zap.String("action", entry.ActionCode),
			zap.String("claim_transaction_id", entry.ClaimTransactionID.String()),
			zap.Error(err),
		)
		return nil, err
	}
	return &entry, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	if req.ClaimTransactionID == 0 {
		return domain.ListResponse{}, domain.ErrInvalidTransaction
	}

	after, err := pagination.Decode(req.PageToken)
	if err != nil {
		return domain.ListResponse{}, domain.ErrInvalidPageToken
	}

	pageSize := req.Size()
	items, err := s.repo.List(ctx, s.db, domain.ListFilter{
		ClaimTransactionID: req.ClaimTransactionID,
		After:              after,
		Limit:              pageSize,
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	items, pageInfo := pagination.Trim(items, pageSize, func(item *domain.Entry) pagination.Keyset {
		return pagination.Keyset{CreatedAt: item.CreatedAt, ID: item.ID}
	})

	entries := make([]domain.Entry, 0, len(items))
	for _, item := range items {
		if item != nil {
			entries = append(entries, *item)
		}
	}

	return domain.ListResponse{PageInfo: pageInfo, Entries: entries}, nil
}

func (s *Service) Count(ctx context.Context, claimTransactionID snowflake.ID) (int64, error) {
	if claimTransactionID == 0 {
		return 0, domain.ErrInvalidTransaction
	}
	return s.repo.Count(ctx, s.db, claimTransactionID)
}

func (s *Service) resolveActor(ctx context.Context, actorID string) string {
	if actorID = strings.TrimSpace(actorID); actorID != "" {
		return actorID
	}
	if ctxActor := obscontext.ActorFromContext(ctx); ctxActor != "" {
		return ctxActor
	}
	return domain.SystemActor
}
