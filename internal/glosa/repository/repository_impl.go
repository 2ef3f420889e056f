package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/medaudit/internal/glosa/domain"
	"github.com/smallbiznis/medaudit/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByServiceRef(ctx context.Context, conn *gorm.DB, serviceRef string) (*domain.Glosa, error) {
	var glosa domain.Glosa
	err := conn.WithContext(ctx).Raw(
		`SELECT * FROM service_glosas WHERE service_ref = ? LIMIT 1`,
		serviceRef,
	).Scan(&glosa).Error
	if err != nil {
		return nil, err
	}
	if glosa.ID == 0 {
		return nil, nil
	}
	return &glosa, nil
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, glosa *domain.Glosa) error {
	err := conn.WithContext(ctx).Exec(
		`INSERT INTO service_glosas (id, service_ref, claim_transaction_id, code, value, justification, state, version, applied_by, applied_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		glosa.ID,
		glosa.ServiceRef,
		glosa.ClaimTransactionID,
		glosa.Code,
		glosa.Value,
		glosa.Justification,
		glosa.State,
		glosa.Version,
		glosa.AppliedBy,
		glosa.AppliedAt,
		glosa.UpdatedAt,
	).Error
	if db.IsDuplicateKeyErr(err) {
		return domain.ErrAlreadyGlosed
	}
	return err
}

func (r *repo) UpdateFrom(ctx context.Context, conn *gorm.DB, glosa *domain.Glosa, from domain.State) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`UPDATE service_glosas
		 SET state = ?, response_type = ?, accepted_value = ?, response_justification = ?, decision = ?,
		     responded_by = ?, responded_at = ?, decided_by = ?, decided_at = ?,
		     version = version + 1, updated_at = ?
		 WHERE service_ref = ? AND state = ?`,
		glosa.State,
		glosa.ResponseType,
		glosa.AcceptedValue,
		glosa.ResponseJustification,
		glosa.Decision,
		glosa.RespondedBy,
		glosa.RespondedAt,
		glosa.DecidedBy,
		glosa.DecidedAt,
		glosa.UpdatedAt,
		glosa.ServiceRef,
		from,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) InsertHistory(ctx context.Context, conn *gorm.DB, entry *domain.HistoryEntry) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO glosa_history (id, glosa_id, service_ref, from_state, to_state, actor_id, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.GlosaID,
		entry.ServiceRef,
		entry.FromState,
		entry.ToState,
		entry.ActorID,
		entry.Payload,
		entry.CreatedAt,
	).Error
}

func (r *repo) ListHistory(ctx context.Context, conn *gorm.DB, serviceRef string) ([]domain.HistoryEntry, error) {
	var entries []domain.HistoryEntry
	err := conn.WithContext(ctx).
		Where("service_ref = ?", serviceRef).
		Order("id asc").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) HasPreDevolution(ctx context.Context, conn *gorm.DB, claimTransactionID snowflake.ID) (bool, error) {
	var count int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM pre_devolutions WHERE claim_transaction_id = ?`,
		claimTransactionID,
	).Scan(&count).Error
	return count > 0, err
}

func (r *repo) ListStates(ctx context.Context, conn *gorm.DB, claimTransactionID snowflake.ID) ([]domain.State, error) {
	var rows []string
	err := conn.WithContext(ctx).Raw(
		`SELECT state FROM service_glosas WHERE claim_transaction_id = ?`,
		claimTransactionID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	states := make([]domain.State, 0, len(rows))
	for _, state := range rows {
		states = append(states, domain.State(state))
	}
	return states, nil
}

func (r *repo) CountPendingPreGlosas(ctx context.Context, conn *gorm.DB, claimTransactionID snowflake.ID) (int64, error) {
	var count int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM pre_glosas p
		 WHERE p.claim_transaction_id = ? AND p.closed_at IS NULL
		   AND NOT EXISTS (
		     SELECT 1 FROM service_glosas g
		     WHERE g.service_ref = p.service_ref AND g.state IN (?, ?)
		   )`,
		claimTransactionID, domain.StateRatificada, domain.StateLevantada,
	).Scan(&count).Error
	return count, err
}
