package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	KindDevolution = "DEVOLUTION"
	KindGlosa      = "GLOSA"
)

// PreDevolution returns the whole transaction to the provider before audit.
// Immutable once created.
type PreDevolution struct {
	ID                    snowflake.ID                `json:"id" gorm:"column:id"`
	ClaimTransactionID    snowflake.ID                `json:"claim_transaction_id" gorm:"column:claim_transaction_id"`
	ReasonCode            string                      `json:"reason_code" gorm:"column:reason_code"`
	Description           string                      `json:"description" gorm:"column:description"`
	TriggeringServiceRefs datatypes.JSONSlice[string] `json:"triggering_service_refs" gorm:"column:triggering_service_refs"`
	ValueInvolved         int64                       `json:"value_involved" gorm:"column:value_involved"`
	RuleVersion           string                      `json:"rule_version" gorm:"column:rule_version"`
	GeneratedAt           time.Time                   `json:"generated_at" gorm:"column:generated_at"`
	GeneratedBy           string                      `json:"generated_by" gorm:"column:generated_by"`
}

func (PreDevolution) TableName() string { return "pre_devolutions" }

// PreGlosa flags one payable but contested service line for human audit.
// AssignmentID is set at most once by the assignment engine.
type PreGlosa struct {
	ID                 snowflake.ID  `json:"id" gorm:"column:id"`
	ClaimTransactionID snowflake.ID  `json:"claim_transaction_id" gorm:"column:claim_transaction_id"`
	ServiceRef         string        `json:"service_ref" gorm:"column:service_ref"`
	GlosaCode          string        `json:"glosa_code" gorm:"column:glosa_code"`
	GlosaDescription   string        `json:"glosa_description" gorm:"column:glosa_description"`
	GlosaValue         int64         `json:"glosa_value" gorm:"column:glosa_value"`
	Category           string        `json:"category" gorm:"column:category"`
	RequiredSpecialty  string        `json:"required_specialty,omitempty" gorm:"column:required_specialty"`
	RuleVersion        string        `json:"rule_version" gorm:"column:rule_version"`
	GeneratedAt        time.Time     `json:"generated_at" gorm:"column:generated_at"`
	GeneratedBy        string        `json:"generated_by" gorm:"column:generated_by"`
	AssignmentID       *snowflake.ID `json:"assignment_id,omitempty" gorm:"column:assignment_id"`
	AssignedAuditorID  *string       `json:"assigned_auditor_id,omitempty" gorm:"column:assigned_auditor_id"`
	AssignedAt         *time.Time    `json:"assigned_at,omitempty" gorm:"column:assigned_at"`
	ClosedAt           *time.Time    `json:"closed_at,omitempty" gorm:"column:closed_at"`
}

func (PreGlosa) TableName() string { return "pre_glosas" }

func (p PreGlosa) Assigned() bool {
	return p.AssignmentID != nil && *p.AssignmentID != 0
}

type Summary struct {
	DevolutionCount  int              `json:"devolution_count"`
	GlosaCount       int              `json:"glosa_count"`
	TotalValueByKind map[string]int64 `json:"total_value_by_kind"`
	RuleVersion      string           `json:"rule_version"`
}

type ClassificationResult struct {
	ClaimTransactionID snowflake.ID    `json:"claim_transaction_id"`
	PreDevolutions     []PreDevolution `json:"pre_devolutions"`
	PreGlosas          []PreGlosa      `json:"pre_glosas"`
	Summary            Summary         `json:"summary"`
}

// Summarize recomputes the summary from the result records.
func (r *ClassificationResult) Summarize(ruleVersion string) {
	summary := Summary{
		DevolutionCount:  len(r.PreDevolutions),
		GlosaCount:       len(r.PreGlosas),
		TotalValueByKind: map[string]int64{KindDevolution: 0, KindGlosa: 0},
		RuleVersion:      ruleVersion,
	}
	for _, d := range r.PreDevolutions {
		summary.TotalValueByKind[KindDevolution] += d.ValueInvolved
	}
	for _, g := range r.PreGlosas {
		summary.TotalValueByKind[KindGlosa] += g.GlosaValue
	}
	r.Summary = summary
}
