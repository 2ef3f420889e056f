package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertDevolution and InsertGlosa skip rows that collide on the rule
	// uniqueness key and report whether a row was written.
	InsertDevolution(ctx context.Context, db *gorm.DB, devolution *PreDevolution) (bool, error)
	InsertGlosa(ctx context.Context, db *gorm.DB, glosa *PreGlosa) (bool, error)

	ListDevolutions(ctx context.Context, db *gorm.DB, claimTransactionID snowflake.ID, ruleVersion string) ([]PreDevolution, error)
	ListGlosas(ctx context.Context, db *gorm.DB, claimTransactionID snowflake.ID, ruleVersion string) ([]PreGlosa, error)
}
