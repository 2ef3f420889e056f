package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type State string

const (
	StateNone       State = "NONE"
	StateGlosada    State = "GLOSADA"
	StateRespondida State = "RESPONDIDA"
	StateRatificada State = "RATIFICADA"
	StateLevantada  State = "LEVANTADA"
)

func (s State) Terminal() bool {
	return s == StateRatificada || s == StateLevantada
}

type ResponseType string

const (
	ResponseAccept  ResponseType = "ACCEPT"
	ResponsePartial ResponseType = "PARTIAL"
	ResponseReject  ResponseType = "REJECT"
)

func (r ResponseType) Valid() bool {
	switch r {
	case ResponseAccept, ResponsePartial, ResponseReject:
		return true
	default:
		return false
	}
}

type Decision string

const (
	DecisionRatificar Decision = "RATIFICAR"
	DecisionLevantar  Decision = "LEVANTAR"
)

// Target is the state a decision leads to.
func (d Decision) Target() (State, bool) {
	switch d {
	case DecisionRatificar:
		return StateRatificada, true
	case DecisionLevantar:
		return StateLevantada, true
	default:
		return "", false
	}
}

// Glosa is the audit objection on one service line. Value and AcceptedValue
// are in COP pesos.
type Glosa struct {
	ID                    snowflake.ID  `json:"id" gorm:"column:id"`
	ServiceRef            string        `json:"service_ref" gorm:"column:service_ref"`
	ClaimTransactionID    snowflake.ID  `json:"claim_transaction_id" gorm:"column:claim_transaction_id"`
	Code                  string        `json:"code" gorm:"column:code"`
	Value                 int64         `json:"value" gorm:"column:value"`
	Justification         string        `json:"justification" gorm:"column:justification"`
	State                 State         `json:"state" gorm:"column:state"`
	ResponseType          *ResponseType `json:"response_type,omitempty" gorm:"column:response_type"`
	AcceptedValue         *int64        `json:"accepted_value,omitempty" gorm:"column:accepted_value"`
	ResponseJustification *string       `json:"response_justification,omitempty" gorm:"column:response_justification"`
	Decision              *Decision     `json:"decision,omitempty" gorm:"column:decision"`
	Version               int           `json:"version" gorm:"column:version"`
	AppliedBy             string        `json:"applied_by" gorm:"column:applied_by"`
	AppliedAt             time.Time     `json:"applied_at" gorm:"column:applied_at"`
	RespondedBy           *string       `json:"responded_by,omitempty" gorm:"column:responded_by"`
	RespondedAt           *time.Time    `json:"responded_at,omitempty" gorm:"column:responded_at"`
	DecidedBy             *string       `json:"decided_by,omitempty" gorm:"column:decided_by"`
	DecidedAt             *time.Time    `json:"decided_at,omitempty" gorm:"column:decided_at"`
	UpdatedAt             time.Time     `json:"updated_at" gorm:"column:updated_at"`
}

func (Glosa) TableName() string { return "service_glosas" }

// HistoryEntry is one append-only transition record.
type HistoryEntry struct {
	ID         snowflake.ID      `json:"id" gorm:"column:id"`
	GlosaID    snowflake.ID      `json:"glosa_id" gorm:"column:glosa_id"`
	ServiceRef string            `json:"service_ref" gorm:"column:service_ref"`
	FromState  State             `json:"from_state" gorm:"column:from_state"`
	ToState    State             `json:"to_state" gorm:"column:to_state"`
	ActorID    string            `json:"actor_id" gorm:"column:actor_id"`
	Payload    datatypes.JSONMap `json:"payload" gorm:"column:payload"`
	CreatedAt  time.Time         `json:"created_at" gorm:"column:created_at"`
}

func (HistoryEntry) TableName() string { return "glosa_history" }

// View is the glosa state of a service line, NONE when no glosa exists.
type View struct {
	ServiceRef string `json:"service_ref"`
	State      State  `json:"state"`
	Glosa      *Glosa `json:"glosa,omitempty"`
}

type ApplyRequest struct {
	ServiceRef    string `json:"-"`
	Code          string `json:"code" validate:"required,max=16"`
	Value         int64  `json:"value"`
	Justification string `json:"justification" validate:"max=4000"`
	Actor         string `json:"-"`
}

type RespondRequest struct {
	ServiceRef    string       `json:"-"`
	ResponseType  ResponseType `json:"response_type"`
	AcceptedValue int64        `json:"accepted_value"`
	Justification string       `json:"justification" validate:"max=4000"`
	Actor         string       `json:"-"`
}

type DecideRequest struct {
	ServiceRef string   `json:"-"`
	Decision   Decision `json:"decision"`
	Actor      string   `json:"-"`
}

// TransitionError reports an operation called from the wrong state.
type TransitionError struct {
	Current   State
	Requested State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid glosa transition from %s to %s", e.Current, e.Requested)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
