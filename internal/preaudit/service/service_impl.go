package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/bwmarrin/snowflake"
	claimdomain "github.com/smallbiznis/medaudit/internal/claim/domain"
	"github.com/smallbiznis/medaudit/internal/clock"
	"github.com/smallbiznis/medaudit/internal/config"
	obslogger "github.com/smallbiznis/medaudit/internal/observability/logger"
	"github.com/smallbiznis/medaudit/internal/observability/metrics"
	"github.com/smallbiznis/medaudit/internal/preaudit/domain"
	"github.com/smallbiznis/medaudit/internal/preaudit/rules"
	"github.com/smallbiznis/medaudit/internal/ratelimit"
	tracedomain "github.com/smallbiznis/medaudit/internal/traceability/domain"
	"github.com/smallbiznis/medaudit/internal/traceability/masking"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Claims  claimdomain.Service
	Trace   tracedomain.Service
	Rules   *config.RuleSetHolder
	Engine  *rules.Engine         `optional:"true"`
	Guard   *ratelimit.ClaimGuard `optional:"true"`
	Metrics *metrics.Metrics      `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	claims  claimdomain.Service
	trace   tracedomain.Service
	rules   *config.RuleSetHolder
	engine  *rules.Engine
	guard   *ratelimit.ClaimGuard
	metrics *metrics.Metrics
}

func New(p Params) domain.Service {
	engine := p.Engine
	if engine == nil {
		engine = rules.NewEngine()
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("preaudit.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		claims:  p.Claims,
		trace:   p.Trace,
		rules:   p.Rules,
		engine:  engine,
		guard:   p.Guard,
		metrics: p.Metrics,
	}
}

func (s *Service) Classify(ctx context.Context, claimTransactionID snowflake.ID) (*domain.ClassificationResult, error) {
	log := obslogger.WithClaim(obslogger.WithContext(ctx, s.log), claimTransactionID.String())

	token, locked, err := s.guard.TryLockClassification(ctx, claimTransactionID.String())
	if err != nil {
		return nil, fmt.Errorf("acquire classification lock: %w", err)
	}
	if !locked {
		return nil, domain.ErrClassificationInProgress
	}
	defer func() {
		if err := s.guard.ReleaseClassification(context.WithoutCancel(ctx), claimTransactionID.String(), token); err != nil {
			log.Warn("failed to release classification lock", zap.Error(err))
		}
	}()

	claim, err := s.claims.GetByID(ctx, claimTransactionID)
	if err != nil {
		return nil, err
	}
	if !claim.ProcessingState.Classifiable() {
		log.Warn("classification refused",
			zap.String("processing_state", string(claim.ProcessingState)),
		)
		return nil, fmt.Errorf("%w: transaction is %s", claimdomain.ErrInvalidState, claim.ProcessingState)
	}

	ruleSet := s.rules.Get()
	outcome := s.engine.Evaluate(claim, ruleSet)
	now := s.clock.Now().UTC()

	result := &domain.ClassificationResult{ClaimTransactionID: claim.ID}
	var createdDevolutions, createdGlosas []string

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, finding := range outcome.Devolutions {
			refs := make([]string, 0, len(finding.ServiceRefs))
			for _, ref := range finding.ServiceRefs {
				refs = append(refs, ref.String())
			}
			devolution := &domain.PreDevolution{
				ID:                    s.genID.Generate(),
				ClaimTransactionID:    claim.ID,
				ReasonCode:            finding.ReasonCode,
				Description:           finding.Description,
				TriggeringServiceRefs: refs,
				ValueInvolved:         finding.ValueInvolved,
				RuleVersion:           outcome.RuleVersion,
				GeneratedAt:           now,
				GeneratedBy:           tracedomain.SystemActor,
			}
			created, err := s.repo.InsertDevolution(ctx, tx, devolution)
			if err != nil {
				return err
			}
			if created {
				createdDevolutions = append(createdDevolutions, devolution.ID.String())
			}
		}

		for _, finding := range outcome.Glosas {
			glosa := &domain.PreGlosa{
				ID:                 s.genID.Generate(),
				ClaimTransactionID: claim.ID,
				ServiceRef:         finding.ServiceRef.String(),
				GlosaCode:          finding.GlosaCode,
				GlosaDescription:   finding.Description,
				GlosaValue:         finding.Value,
				Category:           finding.Category,
				RequiredSpecialty:  finding.RequiredSpecialty,
				RuleVersion:        outcome.RuleVersion,
				GeneratedAt:        now,
				GeneratedBy:        tracedomain.SystemActor,
			}
			created, err := s.repo.InsertGlosa(ctx, tx, glosa)
			if err != nil {
				return err
			}
			if created {
				createdGlosas = append(createdGlosas, glosa.ID.String())
			}
		}

		devolutions, err := s.repo.ListDevolutions(ctx, tx, claim.ID, outcome.RuleVersion)
		if err != nil {
			return err
		}
		glosas, err := s.repo.ListGlosas(ctx, tx, claim.ID, outcome.RuleVersion)
		if err != nil {
			return err
		}
		result.PreDevolutions = devolutions
		result.PreGlosas = sortGlosas(glosas)
		result.Summarize(outcome.RuleVersion)

		_, err = s.trace.Record(ctx, tx, tracedomain.Entry{
			ClaimTransactionID: claim.ID,
			ActorID:            tracedomain.SystemActor,
			ActionCode:         tracedomain.ActionPreAuditClassified,
			Metadata: map[string]any{
				"rule_version":            outcome.RuleVersion,
				"devolution_count":        result.Summary.DevolutionCount,
				"glosa_count":             result.Summary.GlosaCount,
				"devolution_value":        result.Summary.TotalValueByKind[domain.KindDevolution],
				"glosa_value":             result.Summary.TotalValueByKind[domain.KindGlosa],
				"created_pre_devolutions": toAny(createdDevolutions),
				"created_pre_glosas":      toAny(createdGlosas),
				"flagged_patients":        toAny(flaggedPatients(claim, outcome)),
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if claim.ProcessingState == claimdomain.StateReceived {
		if err := s.claims.AdvanceState(ctx, claim.ID, claimdomain.StateValidated); err != nil {
			return nil, err
		}
	}

	outcomeLabel := classificationOutcome(result)
	s.metrics.RecordClassification(ctx, outcomeLabel, result.Summary.DevolutionCount, result.Summary.GlosaCount)
	log.Info("claim transaction classified",
		zap.String("outcome", outcomeLabel),
		zap.String("rule_version", outcome.RuleVersion),
		zap.Int("pre_devolutions", result.Summary.DevolutionCount),
		zap.Int("pre_glosas", result.Summary.GlosaCount),
		zap.Int("created", len(createdDevolutions)+len(createdGlosas)),
	)
	return result, nil
}

func (s *Service) Results(ctx context.Context, claimTransactionID snowflake.ID) (*domain.ClassificationResult, error) {
	if _, err := s.claims.GetByID(ctx, claimTransactionID); err != nil {
		return nil, err
	}
	version := s.rules.Get().Version
	devolutions, err := s.repo.ListDevolutions(ctx, s.db, claimTransactionID, version)
	if err != nil {
		return nil, err
	}
	glosas, err := s.repo.ListGlosas(ctx, s.db, claimTransactionID, version)
	if err != nil {
		return nil, err
	}
	result := &domain.ClassificationResult{
		ClaimTransactionID: claimTransactionID,
		PreDevolutions:     devolutions,
		PreGlosas:          sortGlosas(glosas),
	}
	result.Summarize(version)
	return result, nil
}

func classificationOutcome(result *domain.ClassificationResult) string {
	switch {
	case result.Summary.DevolutionCount > 0:
		return "devolution"
	case result.Summary.GlosaCount > 0:
		return "glosa"
	default:
		return "clean"
	}
}

// flaggedPatients lists masked identities of patients behind identification
// devolutions.
func flaggedPatients(claim *claimdomain.ClaimTransaction, outcome rules.Outcome) []string {
	seen := map[int]bool{}
	var out []string
	for _, finding := range outcome.Devolutions {
		if finding.Kind != config.RuleMissingIdentification && finding.Kind != config.RuleInvalidDocumentType {
			continue
		}
		for _, ref := range finding.ServiceRefs {
			if seen[ref.PatientIndex] {
				continue
			}
			seen[ref.PatientIndex] = true
			patient := claim.Users[ref.PatientIndex]
			out = append(out, masking.MaskDocument(patient.DocumentType, patient.DocumentNumber))
		}
	}
	return out
}

func sortGlosas(items []domain.PreGlosa) []domain.PreGlosa {
	sort.SliceStable(items, func(i, j int) bool {
		a, errA := claimdomain.ParseServiceRef(items[i].ServiceRef)
		b, errB := claimdomain.ParseServiceRef(items[j].ServiceRef)
		if errA == nil && errB == nil && a != b {
			return rules.LessRef(a, b)
		}
		if items[i].ServiceRef != items[j].ServiceRef {
			return items[i].ServiceRef < items[j].ServiceRef
		}
		return items[i].GlosaCode < items[j].GlosaCode
	})
	return items
}

func toAny(values []string) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}
