package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	lru "github.com/hashicorp/golang-lru/v2"
	assignmentdomain "github.com/smallbiznis/medaudit/internal/assignment/domain"
	"github.com/smallbiznis/medaudit/internal/authorization"
	claimdomain "github.com/smallbiznis/medaudit/internal/claim/domain"
	"github.com/smallbiznis/medaudit/internal/clock"
	"github.com/smallbiznis/medaudit/internal/glosa/domain"
	obscontext "github.com/smallbiznis/medaudit/internal/observability/context"
	obslogger "github.com/smallbiznis/medaudit/internal/observability/logger"
	"github.com/smallbiznis/medaudit/internal/observability/metrics"
	tracedomain "github.com/smallbiznis/medaudit/internal/traceability/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const billedValueCacheSize = 4096

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	Claims      claimdomain.Service
	Trace       tracedomain.Service
	Assignments assignmentdomain.Service
	Authz       authorization.Service
	Metrics     *metrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	claims      claimdomain.Service
	trace       tracedomain.Service
	assignments assignmentdomain.Service
	authz       authorization.Service
	metrics     *metrics.Metrics

	// Billed values never change after a claim is received.
	billed *lru.Cache[string, int64]
}

func New(p Params) (domain.Service, error) {
	cache, err := lru.New[string, int64](billedValueCacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("glosa.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		claims:      p.Claims,
		trace:       p.Trace,
		assignments: p.Assignments,
		authz:       p.Authz,
		metrics:     p.Metrics,
		billed:      cache,
	}, nil
}

func (s *Service) Apply(ctx context.Context, req domain.ApplyRequest) (*domain.Glosa, error) {
	ref, err := parseRef(req.ServiceRef)
	if err != nil {
		return nil, err
	}
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", domain.ErrInvalidRequest)
	}
	if req.Value <= 0 {
		return nil, domain.ErrInvalidValue
	}
	billed, err := s.billedValue(ctx, ref)
	if err != nil {
		return nil, err
	}
	if req.Value > billed {
		return nil, domain.ErrValueExceedsService
	}
	if err := s.checkAuditable(ctx, ref.TransactionID); err != nil {
		return nil, err
	}

	actor := resolveActor(ctx, req.Actor)
	now := s.clock.Now().UTC()
	glosa := &domain.Glosa{
		ID:                 s.genID.Generate(),
		ServiceRef:         ref.String(),
		ClaimTransactionID: ref.TransactionID,
		Code:               code,
		Value:              req.Value,
		Justification:      strings.TrimSpace(req.Justification),
		State:              domain.StateGlosada,
		Version:            1,
		AppliedBy:          actor,
		AppliedAt:          now,
		UpdatedAt:          now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByServiceRef(ctx, tx, glosa.ServiceRef)
		if err != nil {
			return err
		}
		if existing != nil {
			return alreadyGlosed(existing.State)
		}
		if err := s.repo.Insert(ctx, tx, glosa); err != nil {
			if errors.Is(err, domain.ErrAlreadyGlosed) {
				return alreadyGlosed(domain.StateGlosada)
			}
			return err
		}
		return s.recordTransition(ctx, tx, glosa, domain.StateNone, actor, tracedomain.ActionGlosaApplied, map[string]any{
			"code":          glosa.Code,
			"value":         glosa.Value,
			"billed_value":  billed,
			"justification": glosa.Justification,
		})
	})
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, glosa, domain.StateNone)
	if err := s.claims.AdvanceState(context.WithoutCancel(ctx), glosa.ClaimTransactionID, claimdomain.StateInAudit); err != nil {
		obslogger.WithClaim(obslogger.WithContext(ctx, s.log), glosa.ClaimTransactionID.String()).Warn("claim state not advanced after glosa",
			zap.String("to_state", string(claimdomain.StateInAudit)),
			zap.Error(err),
		)
	}
	return glosa, nil
}

func (s *Service) Respond(ctx context.Context, req domain.RespondRequest) (*domain.Glosa, error) {
	ref, err := parseRef(req.ServiceRef)
	if err != nil {
		return nil, err
	}
	responseType := domain.ResponseType(strings.ToUpper(strings.TrimSpace(string(req.ResponseType))))
	if !responseType.Valid() {
		return nil, domain.ErrInvalidResponseType
	}

	actor := resolveActor(ctx, req.Actor)
	var glosa *domain.Glosa
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.load(ctx, tx, ref.String(), domain.StateGlosada, domain.StateRespondida)
		if err != nil {
			return err
		}
		if err := checkAcceptedValue(responseType, req.AcceptedValue, current.Value); err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		justification := strings.TrimSpace(req.Justification)
		accepted := req.AcceptedValue
		current.State = domain.StateRespondida
		current.ResponseType = &responseType
		current.AcceptedValue = &accepted
		current.ResponseJustification = &justification
		current.RespondedBy = &actor
		current.RespondedAt = &now
		current.UpdatedAt = now

		if err := s.update(ctx, tx, current, domain.StateGlosada); err != nil {
			return err
		}
		glosa = current
		return s.recordTransition(ctx, tx, current, domain.StateGlosada, actor, tracedomain.ActionGlosaResponded, map[string]any{
			"response_type":  string(responseType),
			"accepted_value": accepted,
			"disputed_value": current.Value - accepted,
			"justification":  justification,
		})
	})
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, glosa, domain.StateGlosada)
	return glosa, nil
}

func (s *Service) Decide(ctx context.Context, req domain.DecideRequest) (*domain.Glosa, error) {
	ref, err := parseRef(req.ServiceRef)
	if err != nil {
		return nil, err
	}
	decision := domain.Decision(strings.ToUpper(strings.TrimSpace(string(req.Decision))))
	target, ok := decision.Target()
	if !ok {
		return nil, domain.ErrInvalidDecision
	}

	actor := resolveActor(ctx, req.Actor)
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectGlosa, authorization.ActionGlosaDecide); err != nil {
		return nil, err
	}

	action := tracedomain.ActionGlosaRatified
	if target == domain.StateLevantada {
		action = tracedomain.ActionGlosaLifted
	}

	var glosa *domain.Glosa
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.load(ctx, tx, ref.String(), domain.StateRespondida, target)
		if err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		current.State = target
		current.Decision = &decision
		current.DecidedBy = &actor
		current.DecidedAt = &now
		current.UpdatedAt = now

		if err := s.update(ctx, tx, current, domain.StateRespondida); err != nil {
			return err
		}
		released, err := s.assignments.ReleaseServiceRef(ctx, tx, current.ServiceRef)
		if err != nil {
			return err
		}
		releasedIDs := make([]any, 0, len(released))
		for _, id := range released {
			releasedIDs = append(releasedIDs, id.String())
		}

		glosa = current
		return s.recordTransition(ctx, tx, current, domain.StateRespondida, actor, action, map[string]any{
			"decision":            string(decision),
			"value":               current.Value,
			"accepted_value":      derefInt64(current.AcceptedValue),
			"released_pre_glosas": releasedIDs,
		})
	})
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, glosa, domain.StateRespondida)

	if _, err := s.Settle(context.WithoutCancel(ctx), glosa.ClaimTransactionID); err != nil {
		obslogger.WithClaim(obslogger.WithContext(ctx, s.log), glosa.ClaimTransactionID.String()).Warn("claim state not advanced after conciliation",
			zap.String("to_state", string(claimdomain.StateAudited)),
			zap.Error(err),
		)
	}
	return glosa, nil
}

// Settle moves the transaction to AUDITED once every glosa is terminal and no
// pre-glosa awaits review. It reports whether the transaction is settled.
func (s *Service) Settle(ctx context.Context, claimTransactionID snowflake.ID) (bool, error) {
	claim, err := s.claims.GetByID(ctx, claimTransactionID)
	if err != nil {
		return false, err
	}
	if !claim.ProcessingState.Auditable() {
		return false, nil
	}
	states, err := s.repo.ListStates(ctx, s.db, claimTransactionID)
	if err != nil {
		return false, err
	}
	for _, state := range states {
		if !state.Terminal() {
			return false, nil
		}
	}
	pending, err := s.repo.CountPendingPreGlosas(ctx, s.db, claimTransactionID)
	if err != nil {
		return false, err
	}
	if pending > 0 {
		return false, nil
	}
	if err := s.claims.AdvanceState(ctx, claimTransactionID, claimdomain.StateAudited); err != nil {
		return false, err
	}
	return true, nil
}

// checkAuditable rejects glosas on transactions outside the audit queue and
// on returned invoices.
func (s *Service) checkAuditable(ctx context.Context, claimTransactionID snowflake.ID) error {
	claim, err := s.claims.GetByID(ctx, claimTransactionID)
	if err != nil {
		return err
	}
	if !claim.ProcessingState.Auditable() {
		return fmt.Errorf("%w: transaction is %s", claimdomain.ErrInvalidState, claim.ProcessingState)
	}
	returned, err := s.repo.HasPreDevolution(ctx, s.db, claimTransactionID)
	if err != nil {
		return err
	}
	if returned {
		return fmt.Errorf("%w: transaction has a pre-devolution", claimdomain.ErrInvalidState)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, serviceRef string) (*domain.View, error) {
	ref, err := parseRef(serviceRef)
	if err != nil {
		return nil, err
	}
	if _, err := s.billedValue(ctx, ref); err != nil {
		return nil, err
	}
	glosa, err := s.repo.FindByServiceRef(ctx, s.db, ref.String())
	if err != nil {
		return nil, err
	}
	view := &domain.View{ServiceRef: ref.String(), State: domain.StateNone}
	if glosa != nil {
		view.State = glosa.State
		view.Glosa = glosa
	}
	return view, nil
}

func (s *Service) History(ctx context.Context, serviceRef string) ([]domain.HistoryEntry, error) {
	ref, err := parseRef(serviceRef)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.ListHistory(ctx, s.db, ref.String())
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	return entries, nil
}

// load returns the glosa of a service line if it is in the expected state.
func (s *Service) load(ctx context.Context, tx *gorm.DB, serviceRef string, expected, requested domain.State) (*domain.Glosa, error) {
	glosa, err := s.repo.FindByServiceRef(ctx, tx, serviceRef)
	if err != nil {
		return nil, err
	}
	if glosa == nil {
		return nil, &domain.TransitionError{Current: domain.StateNone, Requested: requested}
	}
	if glosa.State != expected {
		return nil, &domain.TransitionError{Current: glosa.State, Requested: requested}
	}
	return glosa, nil
}

func (s *Service) update(ctx context.Context, tx *gorm.DB, glosa *domain.Glosa, from domain.State) error {
	ok, err := s.repo.UpdateFrom(ctx, tx, glosa, from)
	if err != nil {
		return err
	}
	if !ok {
		stored, err := s.repo.FindByServiceRef(ctx, tx, glosa.ServiceRef)
		if err != nil {
			return err
		}
		current := domain.StateNone
		if stored != nil {
			current = stored.State
		}
		return &domain.TransitionError{Current: current, Requested: glosa.State}
	}
	glosa.Version++
	return nil
}

func (s *Service) recordTransition(ctx context.Context, tx *gorm.DB, glosa *domain.Glosa, from domain.State, actor, action string, payload map[string]any) error {
	now := s.clock.Now().UTC()
	if err := s.repo.InsertHistory(ctx, tx, &domain.HistoryEntry{
		ID:         s.genID.Generate(),
		GlosaID:    glosa.ID,
		ServiceRef: glosa.ServiceRef,
		FromState:  from,
		ToState:    glosa.State,
		ActorID:    actor,
		Payload:    payload,
		CreatedAt:  now,
	}); err != nil {
		return err
	}

	metadata := map[string]any{
		"glosa_id":    glosa.ID.String(),
		"service_ref": glosa.ServiceRef,
		"from_state":  string(from),
		"to_state":    string(glosa.State),
	}
	for k, v := range payload {
		metadata[k] = v
	}
	_, err := s.trace.Record(ctx, tx, tracedomain.Entry{
		ClaimTransactionID: glosa.ClaimTransactionID,
		ActorID:            actor,
		ActionCode:         action,
		Metadata:           metadata,
	})
	return err
}

func (s *Service) afterTransition(ctx context.Context, glosa *domain.Glosa, from domain.State) {
	s.metrics.RecordGlosaTransition(ctx, string(from), string(glosa.State))
	obslogger.WithClaim(obslogger.WithContext(ctx, s.log), glosa.ClaimTransactionID.String()).Info("glosa transition",
		zap.String("service_ref", glosa.ServiceRef),
		zap.String("from_state", string(from)),
		zap.String("to_state", string(glosa.State)),
		zap.Int64("value", glosa.Value),
	)
}

func (s *Service) billedValue(ctx context.Context, ref claimdomain.ServiceRef) (int64, error) {
	key := ref.String()
	if value, ok := s.billed.Get(key); ok {
		return value, nil
	}
	line, err := s.claims.GetServiceLine(ctx, ref)
	if err != nil {
		return 0, err
	}
	s.billed.Add(key, line.BilledValue)
	return line.BilledValue, nil
}

func checkAcceptedValue(responseType domain.ResponseType, accepted, value int64) error {
	if accepted < 0 || accepted > value {
		return domain.ErrInvalidAcceptedValue
	}
	switch responseType {
	case domain.ResponseAccept:
		if accepted != value {
			return domain.ErrInvalidAcceptedValue
		}
	case domain.ResponseReject:
		if accepted != 0 {
			return domain.ErrInvalidAcceptedValue
		}
	}
	return nil
}

func alreadyGlosed(current domain.State) error {
	return fmt.Errorf("%w: %w", domain.ErrAlreadyGlosed, &domain.TransitionError{
		Current:   current,
		Requested: domain.StateGlosada,
	})
}

func parseRef(raw string) (claimdomain.ServiceRef, error) {
	return claimdomain.ParseServiceRef(strings.TrimSpace(raw))
}

func resolveActor(ctx context.Context, actor string) string {
	if actor = strings.TrimSpace(actor); actor != "" {
		return actor
	}
	if actor = obscontext.ActorFromContext(ctx); actor != "" {
		return actor
	}
	return tracedomain.SystemActor
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
