package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/medaudit/internal/preaudit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertDevolution(ctx context.Context, db *gorm.DB, devolution *domain.PreDevolution) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO pre_devolutions (id, claim_transaction_id, reason_code, description, triggering_service_refs, value_involved, rule_version, generated_at, generated_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (claim_transaction_id, reason_code, rule_version) DO NOTHING`,
		devolution.ID,
		devolution.ClaimTransactionID,
		devolution.ReasonCode,
		devolution.Description,
		devolution.TriggeringServiceRefs,
		devolution.ValueInvolved,
		devolution.RuleVersion,
		devolution.GeneratedAt,
		devolution.GeneratedBy,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) InsertGlosa(ctx context.Context, db *gorm.DB, glosa *domain.PreGlosa) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO pre_glosas (id, claim_transaction_id, service_ref, glosa_code, glosa_description, glosa_value, category, required_specialty, rule_version, generated_at, generated_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (claim_transaction_id, service_ref, glosa_code, rule_version) DO NOTHING`,
		glosa.ID,
		glosa.ClaimTransactionID,
		glosa.ServiceRef,
		glosa.GlosaCode,
		glosa.GlosaDescription,
		glosa.GlosaValue,
		glosa.Category,
		glosa.RequiredSpecialty,
		glosa.RuleVersion,
		glosa.GeneratedAt,
		glosa.GeneratedBy,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ListDevolutions(ctx context.Context, db *gorm.DB, claimTransactionID snowflake.ID, ruleVersion string) ([]domain.PreDevolution, error) {
	var items []domain.PreDevolution
	err := db.WithContext(ctx).
		Where("claim_transaction_id = ? AND rule_version = ?", claimTransactionID, ruleVersion).
		Order("reason_code asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListGlosas(ctx context.Context, db *gorm.DB, claimTransactionID snowflake.ID, ruleVersion string) ([]domain.PreGlosa, error) {
	var items []domain.PreGlosa
	err := db.WithContext(ctx).
		Where("claim_transaction_id = ? AND rule_version = ?", claimTransactionID, ruleVersion).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
