package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/medaudit/internal/claim/domain"
	"github.com/smallbiznis/medaudit/internal/clock"
	obslogger "github.com/smallbiznis/medaudit/internal/observability/logger"
	tracedomain "github.com/smallbiznis/medaudit/internal/traceability/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// advanceAttempts bounds the compare-and-swap loop when another writer moves
// the state concurrently.
const advanceAttempts = 5

type Params struct {
	fx.In

	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Validate *validator.Validate
	Trace    tracedomain.Service `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	validate *validator.Validate
	trace    tracedomain.Service
}

func New(p Params) domain.Service {
	validate := p.Validate
	if validate == nil {
		validate = NewValidator()
	}
	return &Service{
		log:      p.Log.Named("claim.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		validate: validate,
		trace:    p.Trace,
	}
}

// NewValidator returns the validator used at the ingestion boundary.
func NewValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

func (s *Service) Save(ctx context.Context, req domain.SaveRequest) (*domain.ClaimTransaction, error) {
	req.InvoiceNumber = strings.TrimSpace(req.InvoiceNumber)
	req.ProviderNit = strings.TrimSpace(req.ProviderNit)

	claim := &domain.ClaimTransaction{
		InvoiceNumber:    req.InvoiceNumber,
		ProviderNit:      req.ProviderNit,
		ProviderName:     strings.TrimSpace(req.ProviderName),
		InvoiceIssuerNit: normalizePointer(req.InvoiceIssuerNit),
		IssuedAt:         utcPointer(req.IssuedAt),
		Users:            req.Users,
	}
	if claim.Users == nil {
		claim.Users = []domain.PatientRecord{}
	}
	claim.Normalize()

	negative := false
	claim.EachService(func(_ domain.ServiceRef, _ domain.PatientRecord, line domain.ServiceLine) {
		if line.BilledValue < 0 {
			negative = true
		}
	})
	if negative {
		return nil, domain.ErrNegativeBilledValue
	}

	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, verrs)
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidRequest, err.Error())
	}

	existing, err := s.repo.FindByInvoiceAndProvider(ctx, claim.InvoiceNumber, claim.ProviderNit)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrDuplicateInvoice
	}

	now := s.clock.Now().UTC()
	claim.ID = s.genID.Generate()
	claim.ProcessingState = domain.StateReceived
	claim.ReceivedAt = now
	if req.ReceivedAt != nil {
		claim.ReceivedAt = req.ReceivedAt.UTC()
	}
	claim.CreatedAt = now
	claim.UpdatedAt = now

	if err := s.repo.Insert(ctx, claim); err != nil {
		return nil, err
	}

	log := obslogger.WithClaim(obslogger.WithContext(ctx, s.log), claim.ID.String())
	log.Info("claim transaction received",
		zap.Int("users", claim.Stats.TotalUsers),
		zap.Int("services", claim.Stats.TotalServices),
	)

	if s.trace != nil {
		if _, err := s.trace.Record(ctx, nil, tracedomain.Entry{
			ClaimTransactionID: claim.ID,
			ActorID:            tracedomain.SystemActor,
			ActionCode:         tracedomain.ActionClaimReceived,
			Metadata: map[string]any{
				"total_users":    claim.Stats.TotalUsers,
				"total_services": claim.Stats.TotalServices,
			},
		}); err != nil {
			log.Warn("claim stored without traceability entry", zap.Error(err))
		}
	}

	return claim, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.ClaimTransaction, error) {
	if id == 0 {
		return nil, domain.ErrNotFound
	}
	claim, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if claim == nil {
		return nil, domain.ErrNotFound
	}
	return claim, nil
}

func (s *Service) FindByInvoiceAndProvider(ctx context.Context, invoiceNumber, providerNit string) (*domain.ClaimTransaction, error) {
	return s.repo.FindByInvoiceAndProvider(ctx, strings.TrimSpace(invoiceNumber), strings.TrimSpace(providerNit))
}

func (s *Service) GetServiceLine(ctx context.Context, ref domain.ServiceRef) (*domain.ServiceLine, error) {
	line, err := s.repo.FindServiceLine(ctx, ref)
	if err != nil {
		return nil, err
	}
	if line == nil {
		return nil, domain.ErrServiceNotFound
	}
	return line, nil
}

func (s *Service) AdvanceState(ctx context.Context, id snowflake.ID, to domain.ProcessingState) error {
	if !to.Valid() {
		return domain.ErrInvalidState
	}

	for attempt := 0; attempt < advanceAttempts; attempt++ {
		claim, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if claim == nil {
			return domain.ErrNotFound
		}
		if !domain.CanAdvance(claim.ProcessingState, to) {
			return nil
		}

		ok, err := s.repo.CompareAndSetState(ctx, id, claim.ProcessingState, to, s.clock.Now().UTC())
		if err != nil {
			return err
		}
		if ok {
			s.log.Debug("claim state advanced",
				zap.String("claim_transaction_id", id.String()),
				zap.String("from", string(claim.ProcessingState)),
				zap.String("to", string(to)),
			)
			return nil
		}
	}
	return fmt.Errorf("advance claim %s to %s: %w", id, to, domain.ErrInvalidState)
}

func normalizePointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func utcPointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	utc := value.UTC()
	return &utc
}
