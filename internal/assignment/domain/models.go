package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Reasons an item of a batch stays unassigned.
const (
	ReasonAlreadyAssigned   = "ALREADY_ASSIGNED"
	ReasonNoEligibleAuditor = "NO_ELIGIBLE_AUDITOR"
	ReasonCapacityExceeded  = "CAPACITY_EXCEEDED"
	ReasonNotFound          = "NOT_FOUND"
	ReasonInterrupted       = "INTERRUPTED"
)

// AssignmentRecord groups the pre-glosas one batch bound to one auditor.
// It is created lazily by the first bound item.
type AssignmentRecord struct {
	ID                 snowflake.ID   `json:"id" gorm:"column:id"`
	BatchID            string         `json:"batch_id" gorm:"column:batch_id"`
	AuditorID          string         `json:"auditor_id" gorm:"column:auditor_id"`
	PreGlosaIDs        []snowflake.ID `json:"pre_glosa_ids" gorm:"-"`
	AssignedAt         time.Time      `json:"assigned_at" gorm:"column:assigned_at"`
	AssignedBy         string         `json:"assigned_by" gorm:"column:assigned_by"`
	TotalValueAssigned int64          `json:"total_value_assigned" gorm:"column:total_value_assigned"`
}

func (AssignmentRecord) TableName() string { return "assignment_records" }

type AssignmentItem struct {
	AssignmentID snowflake.ID `gorm:"column:assignment_id"`
	PreGlosaID   snowflake.ID `gorm:"column:pre_glosa_id"`
	ItemIndex    int          `gorm:"column:item_index"`
}

func (AssignmentItem) TableName() string { return "assignment_items" }

type UnassignedItem struct {
	PreGlosaID snowflake.ID `json:"pre_glosa_id"`
	Reason     string       `json:"reason"`
}

type AuditorLoad struct {
	AuditorID     string `json:"auditor_id"`
	PreviousLoad  int    `json:"previous_load"`
	Assigned      int    `json:"assigned"`
	CurrentLoad   int    `json:"current_load"`
	DailyCapacity int    `json:"daily_capacity"`
}

type AssignmentResult struct {
	BatchID            string             `json:"batch_id"`
	AssignmentsCreated []AssignmentRecord `json:"assignments_created"`
	AuditorLoadSummary []AuditorLoad      `json:"auditor_load_summary"`
	Unassigned         []UnassignedItem   `json:"unassigned"`
}

// PlanItem is the part of a pre-glosa the planner looks at.
type PlanItem struct {
	PreGlosaID        snowflake.ID
	Value             int64
	Category          string
	RequiredSpecialty string
}

type Binding struct {
	Item      PlanItem
	AuditorID string
}

type Allocation struct {
	Bindings   []Binding
	Unassigned []UnassignedItem
}

// QueueItem is one open pre-glosa in an auditor work queue.
type QueueItem struct {
	PreGlosaID         snowflake.ID `json:"pre_glosa_id" gorm:"column:id"`
	ClaimTransactionID snowflake.ID `json:"claim_transaction_id" gorm:"column:claim_transaction_id"`
	ServiceRef         string       `json:"service_ref" gorm:"column:service_ref"`
	GlosaCode          string       `json:"glosa_code" gorm:"column:glosa_code"`
	GlosaValue         int64        `json:"glosa_value" gorm:"column:glosa_value"`
	Category           string       `json:"category" gorm:"column:category"`
	RequiredSpecialty  string       `json:"required_specialty,omitempty" gorm:"column:required_specialty"`
	AssignmentID       snowflake.ID `json:"assignment_id" gorm:"column:assignment_id"`
	AssignedAt         time.Time    `json:"assigned_at" gorm:"column:assigned_at"`
}
