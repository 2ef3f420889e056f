package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/medaudit/pkg/db/pagination"
	"gorm.io/datatypes"
)

// Action codes written to the traceability log.
const (
	ActionClaimReceived      = "claim.received"
	ActionPreAuditClassified = "preaudit.classified"
	ActionAssignmentBound    = "assignment.bound"
	ActionAssignmentReleased = "assignment.released"
	ActionGlosaApplied       = "glosa.applied"
	ActionGlosaResponded     = "glosa.responded"
	ActionGlosaRatified      = "glosa.ratified"
	ActionGlosaLifted        = "glosa.lifted"
)

// SystemActor identifies writes made by the platform itself.
const SystemActor = "SISTEMA"

// Entry is one immutable audit fact about a claim transaction.
type Entry struct {
	ID                 snowflake.ID      `json:"id" gorm:"column:id"`
	ClaimTransactionID snowflake.ID      `json:"claim_transaction_id" gorm:"column:claim_transaction_id"`
	ActorID            string            `json:"actor_id" gorm:"column:actor_id"`
	ActionCode         string            `json:"action_code" gorm:"column:action_code"`
	Metadata           datatypes.JSONMap `json:"metadata" gorm:"column:metadata"`
	CreatedAt          time.Time         `json:"created_at" gorm:"column:created_at"`
}

func (Entry) TableName() string { return "traceability_entries" }

type ListFilter struct {
	ClaimTransactionID snowflake.ID
	After              *pagination.Keyset
	Limit              int
}

type ListRequest struct {
	pagination.Pagination
	ClaimTransactionID snowflake.ID
}

type ListResponse struct {
	pagination.PageInfo
	Entries []Entry `json:"entries"`
}

// Offset is the last entry a relay consumer has delivered.
type Offset struct {
	Consumer    string       `gorm:"column:consumer"`
	LastEntryID snowflake.ID `gorm:"column:last_entry_id"`
	UpdatedAt   time.Time    `gorm:"column:updated_at"`
}
