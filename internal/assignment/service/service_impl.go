package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/medaudit/internal/assignment/domain"
	claimdomain "github.com/smallbiznis/medaudit/internal/claim/domain"
	"github.com/smallbiznis/medaudit/internal/clock"
	obscontext "github.com/smallbiznis/medaudit/internal/observability/context"
	obslogger "github.com/smallbiznis/medaudit/internal/observability/logger"
	"github.com/smallbiznis/medaudit/internal/observability/metrics"
	preauditdomain "github.com/smallbiznis/medaudit/internal/preaudit/domain"
	rosterdomain "github.com/smallbiznis/medaudit/internal/roster/domain"
	tracedomain "github.com/smallbiznis/medaudit/internal/traceability/domain"
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
	Roster  rosterdomain.Repository
	Claims  claimdomain.Service
	Trace   tracedomain.Service
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	roster  rosterdomain.Repository
	claims  claimdomain.Service
	trace   tracedomain.Service
	metrics *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("assignment.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		roster:  p.Roster,
		claims:  p.Claims,
		trace:   p.Trace,
		metrics: p.Metrics,
	}
}

func (s *Service) AssignBatch(ctx context.Context, preGlosaIDs []snowflake.ID, roster []rosterdomain.Auditor) (*domain.AssignmentResult, error) {
	ids := dedupe(preGlosaIDs)
	if len(ids) == 0 {
		return nil, domain.ErrEmptyBatch
	}

	batchID := ulid.MustNew(ulid.Timestamp(s.clock.Now()), ulid.DefaultEntropy()).String()
	actor := resolveActor(ctx)
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("batch_id", batchID),
		zap.Int("items", len(ids)),
	)

	found, err := s.repo.FindPreGlosas(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[snowflake.ID]preauditdomain.PreGlosa, len(found))
	for _, item := range found {
		byID[item.ID] = item
	}

	result := &domain.AssignmentResult{
		BatchID:            batchID,
		AssignmentsCreated: []domain.AssignmentRecord{},
		Unassigned:         []domain.UnassignedItem{},
	}
	planItems := make([]domain.PlanItem, 0, len(ids))
	for _, id := range ids {
		item, ok := byID[id]
		switch {
		case !ok:
			result.Unassigned = append(result.Unassigned, domain.UnassignedItem{PreGlosaID: id, Reason: domain.ReasonNotFound})
		case item.Assigned():
			result.Unassigned = append(result.Unassigned, domain.UnassignedItem{PreGlosaID: id, Reason: domain.ReasonAlreadyAssigned})
		default:
			planItems = append(planItems, domain.PlanItem{
				PreGlosaID:        item.ID,
				Value:             item.GlosaValue,
				Category:          item.Category,
				RequiredSpecialty: item.RequiredSpecialty,
			})
		}
	}

	allocation := domain.Plan(planItems, roster)
	result.Unassigned = append(result.Unassigned, allocation.Unassigned...)

	assigned := map[string]int{}
	var touched []snowflake.ID
	seenClaims := map[snowflake.ID]bool{}
	var failure error

	bindings := allocation.Bindings
commitLoop:
	for i, binding := range bindings {
		if ctx.Err() != nil {
			result.Unassigned = append(result.Unassigned, interrupted(bindings[i:])...)
			break
		}
		item := byID[binding.Item.PreGlosaID]
		err := s.commit(ctx, batchID, actor, binding, item)
		switch {
		case err == nil:
			assigned[binding.AuditorID]++
			s.metrics.RecordAssignmentBound(ctx, item.Category)
			if !seenClaims[item.ClaimTransactionID] {
				seenClaims[item.ClaimTransactionID] = true
				touched = append(touched, item.ClaimTransactionID)
			}
		case errors.Is(err, domain.ErrAlreadyAssigned):
			result.Unassigned = append(result.Unassigned, domain.UnassignedItem{PreGlosaID: item.ID, Reason: domain.ReasonAlreadyAssigned})
		case errors.Is(err, rosterdomain.ErrCapacityExceeded):
			result.Unassigned = append(result.Unassigned, domain.UnassignedItem{PreGlosaID: item.ID, Reason: domain.ReasonCapacityExceeded})
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			result.Unassigned = append(result.Unassigned, interrupted(bindings[i:])...)
			break commitLoop
		default:
			// Earlier commits stand; the rest of the batch is left for a retry.
			failure = err
			result.Unassigned = append(result.Unassigned, interrupted(bindings[i:])...)
			break commitLoop
		}
	}

	for _, u := range result.Unassigned {
		s.metrics.RecordUnassigned(ctx, u.Reason)
	}

	// Bound items stand even when the caller went away.
	advanceCtx := context.WithoutCancel(ctx)
	for _, claimID := range touched {
		if err := s.claims.AdvanceState(advanceCtx, claimID, claimdomain.StateAssignedToAudit); err != nil {
			log.Warn("failed to advance claim transaction",
				zap.String("claim_transaction_id", claimID.String()),
				zap.Error(err),
			)
		}
	}

	records, err := s.repo.ListRecordsByBatch(advanceCtx, s.db, batchID)
	if err != nil {
		return nil, err
	}
	result.AssignmentsCreated = records
	result.AuditorLoadSummary, err = s.loadSummary(advanceCtx, roster, assigned)
	if err != nil {
		return nil, err
	}

	log.Info("assignment batch committed",
		zap.Int("assignments", len(records)),
		zap.Int("unassigned", len(result.Unassigned)),
	)
	if failure != nil {
		return result, failure
	}
	return result, nil
}

// commit binds one item in its own transaction.
func (s *Service) commit(ctx context.Context, batchID, actor string, binding domain.Binding, item preauditdomain.PreGlosa) error {
	now := s.clock.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.repo.FindRecord(ctx, tx, batchID, binding.AuditorID)
		if err != nil {
			return err
		}
		created := record == nil
		if created {
			record = &domain.AssignmentRecord{
				ID:                 s.genID.Generate(),
				BatchID:            batchID,
				AuditorID:          binding.AuditorID,
				AssignedAt:         now,
				AssignedBy:         actor,
				TotalValueAssigned: item.GlosaValue,
			}
		}

		bound, err := s.repo.BindPreGlosa(ctx, tx, item.ID, record.ID, binding.AuditorID, now)
		if err != nil {
			return err
		}
		if !bound {
			return domain.ErrAlreadyAssigned
		}

		ok, err := s.roster.IncrementLoad(ctx, tx, binding.AuditorID, now)
		if err != nil {
			return err
		}
		if !ok {
			return rosterdomain.ErrCapacityExceeded
		}

		if created {
			if err := s.repo.InsertRecord(ctx, tx, record); err != nil {
				return err
			}
		} else if err := s.repo.AddRecordValue(ctx, tx, record.ID, item.GlosaValue); err != nil {
			return err
		}

		index, err := s.repo.CountItems(ctx, tx, record.ID)
		if err != nil {
			return err
		}
		if err := s.repo.InsertItem(ctx, tx, domain.AssignmentItem{
			AssignmentID: record.ID,
			PreGlosaID:   item.ID,
			ItemIndex:    index,
		}); err != nil {
			return err
		}

		if _, err := s.trace.Record(ctx, tx, tracedomain.Entry{
			ClaimTransactionID: item.ClaimTransactionID,
			ActorID:            actor,
			ActionCode:         tracedomain.ActionAssignmentBound,
			Metadata: map[string]any{
				"batch_id":      batchID,
				"assignment_id": record.ID.String(),
				"auditor_id":    binding.AuditorID,
				"pre_glosa_id":  item.ID.String(),
				"service_ref":   item.ServiceRef,
				"glosa_value":   item.GlosaValue,
				"category":      item.Category,
			},
		}); err != nil {
			return err
		}

		stored, err := s.repo.FindPreGlosa(ctx, tx, item.ID)
		if err != nil {
			return err
		}
		if stored == nil || !stored.Assigned() || *stored.AssignmentID != record.ID ||
			stored.AssignedAuditorID == nil || *stored.AssignedAuditorID != binding.AuditorID {
			s.log.Error("pre-glosa bound to an unexpected assignment",
				zap.String("pre_glosa_id", item.ID.String()),
				zap.String("assignment_id", record.ID.String()),
				zap.String("auditor_id", binding.AuditorID),
			)
			return fmt.Errorf("%w: pre-glosa %s", domain.ErrConsistencyViolation, item.ID)
		}
		return nil
	})
}

func (s *Service) loadSummary(ctx context.Context, roster []rosterdomain.Auditor, assigned map[string]int) ([]domain.AuditorLoad, error) {
	summary := make([]domain.AuditorLoad, 0, len(roster))
	for _, auditor := range roster {
		if !auditor.Active {
			continue
		}
		current := auditor.CurrentLoad + assigned[auditor.ID]
		stored, err := s.roster.FindByID(ctx, s.db, auditor.ID)
		if err != nil {
			return nil, err
		}
		if stored != nil {
			current = stored.CurrentLoad
		}
		summary = append(summary, domain.AuditorLoad{
			AuditorID:     auditor.ID,
			PreviousLoad:  auditor.CurrentLoad,
			Assigned:      assigned[auditor.ID],
			CurrentLoad:   current,
			DailyCapacity: auditor.DailyCapacity,
		})
	}
	sort.Slice(summary, func(i, j int) bool { return summary[i].AuditorID < summary[j].AuditorID })
	return summary, nil
}

func (s *Service) ReleaseItem(ctx context.Context, preGlosaID snowflake.ID, reason string) (*preauditdomain.PreGlosa, error) {
	actor := resolveActor(ctx)
	var released *preauditdomain.PreGlosa
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := s.repo.FindPreGlosa(ctx, tx, preGlosaID)
		if err != nil {
			return err
		}
		if item == nil {
			return domain.ErrNotFound
		}
		if !item.Assigned() {
			return domain.ErrNotAssigned
		}
		released = item
		closed, err := s.release(ctx, tx, *item)
		if err != nil || !closed {
			return err
		}
		_, err = s.trace.Record(ctx, tx, tracedomain.Entry{
			ClaimTransactionID: item.ClaimTransactionID,
			ActorID:            actor,
			ActionCode:         tracedomain.ActionAssignmentReleased,
			Metadata: map[string]any{
				"pre_glosa_id": item.ID.String(),
				"service_ref":  item.ServiceRef,
				"auditor_id":   derefString(item.AssignedAuditorID),
				"reason":       strings.TrimSpace(reason),
			},
		})
		if err != nil {
			return err
		}
		released, err = s.repo.FindPreGlosa(ctx, tx, preGlosaID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

func (s *Service) ReleaseServiceRef(ctx context.Context, tx *gorm.DB, serviceRef string) ([]snowflake.ID, error) {
	if tx == nil {
		tx = s.db
	}
	items, err := s.repo.ListOpenByServiceRef(ctx, tx, serviceRef)
	if err != nil {
		return nil, err
	}
	released := make([]snowflake.ID, 0, len(items))
	for _, item := range items {
		closed, err := s.release(ctx, tx, item)
		if err != nil {
			return nil, err
		}
		if closed {
			released = append(released, item.ID)
		}
	}
	return released, nil
}

// release closes an open item and gives the slot back to its auditor. A
// closed item is left alone.
func (s *Service) release(ctx context.Context, tx *gorm.DB, item preauditdomain.PreGlosa) (bool, error) {
	now := s.clock.Now().UTC()
	closed, err := s.repo.ClosePreGlosa(ctx, tx, item.ID, now)
	if err != nil || !closed {
		return false, err
	}
	if item.AssignedAuditorID != nil {
		if err := s.roster.DecrementLoad(ctx, tx, *item.AssignedAuditorID, now); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (s *Service) ListForAuditor(ctx context.Context, auditorID string) ([]domain.QueueItem, error) {
	auditor, err := s.roster.FindByID(ctx, s.db, auditorID)
	if err != nil {
		return nil, err
	}
	if auditor == nil {
		return nil, rosterdomain.ErrNotFound
	}
	items, err := s.repo.ListOpenByAuditor(ctx, s.db, auditorID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.QueueItem{}
	}
	return items, nil
}

func interrupted(bindings []domain.Binding) []domain.UnassignedItem {
	out := make([]domain.UnassignedItem, 0, len(bindings))
	for _, b := range bindings {
		out = append(out, domain.UnassignedItem{PreGlosaID: b.Item.PreGlosaID, Reason: domain.ReasonInterrupted})
	}
	return out
}

func dedupe(ids []snowflake.ID) []snowflake.ID {
	seen := make(map[snowflake.ID]bool, len(ids))
	out := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func resolveActor(ctx context.Context) string {
	if actor := obscontext.ActorFromContext(ctx); actor != "" {
		return actor
	}
	return tracedomain.SystemActor
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
