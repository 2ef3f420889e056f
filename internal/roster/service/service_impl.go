package service

import (
	"context"
	"sort"
	"strings"

	"github.com/smallbiznis/medaudit/internal/clock"
	"github.com/smallbiznis/medaudit/internal/roster/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("roster.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Upsert is the identity provider sync hook.
func (s *Service) Upsert(ctx context.Context, req domain.UpsertRequest) (*domain.Auditor, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return nil, domain.ErrInvalidAuditor
	}
	if req.DailyCapacity < 0 {
		return nil, domain.ErrInvalidCapacity
	}

	roles := make([]domain.Role, 0, len(req.Roles))
	seen := map[domain.Role]struct{}{}
	for _, raw := range req.Roles {
		role := domain.Role(strings.ToUpper(strings.TrimSpace(string(raw))))
		if !role.Valid() {
			return nil, domain.ErrInvalidRole
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })

	specialties := make([]string, 0, len(req.Specialties))
	for _, sp := range req.Specialties {
		if sp = strings.ToLower(strings.TrimSpace(sp)); sp != "" {
			specialties = append(specialties, sp)
		}
	}

	now := s.clock.Now().UTC()
	auditor := &domain.Auditor{
		ID:            id,
		Name:          strings.TrimSpace(req.Name),
		Roles:         roles,
		Specialties:   specialties,
		DailyCapacity: req.DailyCapacity,
		Active:        req.Active,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Upsert(ctx, s.db, auditor); err != nil {
		return nil, err
	}

	s.log.Info("auditor synced",
		zap.String("auditor_id", id),
		zap.Int("daily_capacity", req.DailyCapacity),
		zap.Bool("active", req.Active),
	)
	return s.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, activeOnly bool) ([]domain.Auditor, error) {
	return s.repo.List(ctx, s.db, activeOnly)
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Auditor, error) {
	auditor, err := s.repo.FindByID(ctx, s.db, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if auditor == nil {
		return nil, domain.ErrNotFound
	}
	return auditor, nil
}

func (s *Service) HasRole(ctx context.Context, id string, role domain.Role) (bool, error) {
	auditor, err := s.repo.FindByID(ctx, s.db, strings.TrimSpace(id))
	if err != nil {
		return false, err
	}
	if auditor == nil || !auditor.Active {
		return false, nil
	}
	return auditor.HasRole(role), nil
}

// RecomputeLoad resets current_load from the open pre-glosas bound to the
// auditor.
func (s *Service) RecomputeLoad(ctx context.Context, id string) (*domain.Auditor, error) {
	id = strings.TrimSpace(id)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		auditor, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if auditor == nil {
			return domain.ErrNotFound
		}
		open, err := s.repo.CountOpenItems(ctx, tx, id)
		if err != nil {
			return err
		}
		if int(open) == auditor.CurrentLoad {
			return nil
		}
		s.log.Warn("auditor load drift corrected",
			zap.String("auditor_id", id),
			zap.Int("stored", auditor.CurrentLoad),
			zap.Int64("open_items", open),
		)
		return s.repo.SetLoad(ctx, tx, id, int(open), s.clock.Now().UTC())
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}
