package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type ProcessingState string

const (
	StateReceived        ProcessingState = "RECEIVED"
	StateValidated       ProcessingState = "VALIDATED"
	StateAssignedToAudit ProcessingState = "ASSIGNED_TO_AUDIT"
	StateInAudit         ProcessingState = "IN_AUDIT"
	StateAudited         ProcessingState = "AUDITED"
	StateClosed          ProcessingState = "CLOSED"
)

var stateOrder = map[ProcessingState]int{
	StateReceived:        1,
	StateValidated:       2,
	StateAssignedToAudit: 3,
	StateInAudit:         4,
	StateAudited:         5,
	StateClosed:          6,
}

func (s ProcessingState) Valid() bool {
	_, ok := stateOrder[s]
	return ok
}

// CanAdvance reports whether a transaction may move from one state to
// another. Processing state never regresses.
func CanAdvance(from, to ProcessingState) bool {
	fromOrder, ok := stateOrder[from]
	if !ok {
		return false
	}
	toOrder, ok := stateOrder[to]
	if !ok {
		return false
	}
	return toOrder > fromOrder
}

// Classifiable reports whether pre-audit classification may run.
func (s ProcessingState) Classifiable() bool {
	return s == StateReceived || s == StateValidated
}

// Auditable reports whether glosas may be applied: the transaction is in an
// auditor's queue and not yet settled.
func (s ProcessingState) Auditable() bool {
	return s == StateAssignedToAudit || s == StateInAudit
}

type ServiceType string

const (
	ServiceConsultation    ServiceType = "consultation"
	ServiceProcedure       ServiceType = "procedure"
	ServiceMedication      ServiceType = "medication"
	ServiceSupply          ServiceType = "supply"
	ServiceEmergency       ServiceType = "emergency"
	ServiceHospitalization ServiceType = "hospitalization"
	ServiceNewborn         ServiceType = "newborn"
)

// ServiceTypes is the canonical bundle order.
var ServiceTypes = []ServiceType{
	ServiceConsultation,
	ServiceProcedure,
	ServiceMedication,
	ServiceSupply,
	ServiceEmergency,
	ServiceHospitalization,
	ServiceNewborn,
}

func (t ServiceType) Valid() bool {
	for _, known := range ServiceTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ServiceLine is one billed service. Type tags the bundle list it belongs to;
// fields that only some service types carry are explicit optionals.
type ServiceLine struct {
	Type                ServiceType `json:"type" bson:"type"`
	ServiceCode         string      `json:"service_code" bson:"service_code" validate:"required,max=32"`
	ServiceDate         time.Time   `json:"service_date" bson:"service_date" validate:"required"`
	BilledValue         int64       `json:"billed_value" bson:"billed_value" validate:"gte=0"`
	AuthorizationNumber *string     `json:"authorization_number,omitempty" bson:"authorization_number,omitempty" validate:"omitempty,max=64"`
	Quantity            *int        `json:"quantity,omitempty" bson:"quantity,omitempty" validate:"omitempty,gte=0"`
	DischargeDate       *time.Time  `json:"discharge_date,omitempty" bson:"discharge_date,omitempty"`
}

func (l ServiceLine) HasAuthorization() bool {
	return l.AuthorizationNumber != nil && strings.TrimSpace(*l.AuthorizationNumber) != ""
}

type ServiceBundle struct {
	Consultations     []ServiceLine `json:"consultations,omitempty" bson:"consultations,omitempty" validate:"dive"`
	Procedures        []ServiceLine `json:"procedures,omitempty" bson:"procedures,omitempty" validate:"dive"`
	Medications       []ServiceLine `json:"medications,omitempty" bson:"medications,omitempty" validate:"dive"`
	Supplies          []ServiceLine `json:"supplies,omitempty" bson:"supplies,omitempty" validate:"dive"`
	EmergencyEpisodes []ServiceLine `json:"emergency_episodes,omitempty" bson:"emergency_episodes,omitempty" validate:"dive"`
	Hospitalizations  []ServiceLine `json:"hospitalizations,omitempty" bson:"hospitalizations,omitempty" validate:"dive"`
	NewbornEpisodes   []ServiceLine `json:"newborn_episodes,omitempty" bson:"newborn_episodes,omitempty" validate:"dive"`
}

func (b *ServiceBundle) list(t ServiceType) *[]ServiceLine {
	switch t {
	case ServiceConsultation:
		return &b.Consultations
	case ServiceProcedure:
		return &b.Procedures
	case ServiceMedication:
		return &b.Medications
	case ServiceSupply:
		return &b.Supplies
	case ServiceEmergency:
		return &b.EmergencyEpisodes
	case ServiceHospitalization:
		return &b.Hospitalizations
	case ServiceNewborn:
		return &b.NewbornEpisodes
	default:
		return nil
	}
}

// Lines returns the list for one service type.
func (b ServiceBundle) Lines(t ServiceType) []ServiceLine {
	if l := b.list(t); l != nil {
		return *l
	}
	return nil
}

// Append adds a line to the list selected by t and tags it.
func (b *ServiceBundle) Append(t ServiceType, line ServiceLine) error {
	l := b.list(t)
	if l == nil {
		return fmt.Errorf("%w: %q", ErrUnknownServiceType, t)
	}
	line.Type = t
	*l = append(*l, line)
	return nil
}

func (b ServiceBundle) Count() int {
	total := 0
	for _, t := range ServiceTypes {
		total += len(b.Lines(t))
	}
	return total
}

// tag stamps every line with the type of the list holding it.
func (b *ServiceBundle) tag() {
	for _, t := range ServiceTypes {
		l := b.list(t)
		for i := range *l {
			(*l)[i].Type = t
		}
	}
}

type PatientRecord struct {
	DocumentType   string        `json:"document_type" bson:"document_type" validate:"max=4"`
	DocumentNumber string        `json:"document_number" bson:"document_number" validate:"max=32"`
	Services       ServiceBundle `json:"services" bson:"services"`
}

type TransactionStats struct {
	TotalUsers           int                 `json:"total_users" bson:"total_users"`
	TotalServices        int                 `json:"total_services" bson:"total_services"`
	ServiceTypeBreakdown map[ServiceType]int `json:"service_type_breakdown" bson:"service_type_breakdown"`
}

// ClaimTransaction is one submitted invoice with its RIPS service detail.
// Users keep RIPS file order.
type ClaimTransaction struct {
	ID               snowflake.ID     `json:"id" bson:"_id"`
	InvoiceNumber    string           `json:"invoice_number" bson:"invoice_number"`
	ProviderNit      string           `json:"provider_nit" bson:"provider_nit"`
	ProviderName     string           `json:"provider_name" bson:"provider_name"`
	InvoiceIssuerNit *string          `json:"invoice_issuer_nit,omitempty" bson:"invoice_issuer_nit,omitempty"`
	IssuedAt         *time.Time       `json:"issued_at,omitempty" bson:"issued_at,omitempty"`
	ReceivedAt       time.Time        `json:"received_at" bson:"received_at"`
	ProcessingState  ProcessingState  `json:"processing_state" bson:"processing_state"`
	Users            []PatientRecord  `json:"users" bson:"users"`
	Stats            TransactionStats `json:"transaction_stats" bson:"-"`
	CreatedAt        time.Time        `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" bson:"updated_at"`
}

// Normalize tags service lines and recomputes the derived stats.
func (t *ClaimTransaction) Normalize() {
	for i := range t.Users {
		t.Users[i].Services.tag()
	}
	t.Stats = ComputeStats(t.Users)
}

func ComputeStats(users []PatientRecord) TransactionStats {
	stats := TransactionStats{
		TotalUsers:           len(users),
		ServiceTypeBreakdown: map[ServiceType]int{},
	}
	for _, user := range users {
		for _, t := range ServiceTypes {
			n := len(user.Services.Lines(t))
			if n == 0 {
				continue
			}
			stats.ServiceTypeBreakdown[t] += n
			stats.TotalServices += n
		}
	}
	return stats
}

// EachService visits every service line in RIPS order.
func (t ClaimTransaction) EachService(fn func(ref ServiceRef, patient PatientRecord, line ServiceLine)) {
	for pi, user := range t.Users {
		for _, st := range ServiceTypes {
			for si, line := range user.Services.Lines(st) {
				fn(ServiceRef{
					TransactionID: t.ID,
					PatientIndex:  pi,
					ServiceType:   st,
					ServiceIndex:  si,
				}, user, line)
			}
		}
	}
}

// ServiceLine resolves a reference inside this transaction.
func (t ClaimTransaction) ServiceLine(ref ServiceRef) (*ServiceLine, bool) {
	if ref.TransactionID != t.ID || ref.PatientIndex < 0 || ref.PatientIndex >= len(t.Users) {
		return nil, false
	}
	lines := t.Users[ref.PatientIndex].Services.Lines(ref.ServiceType)
	if ref.ServiceIndex < 0 || ref.ServiceIndex >= len(lines) {
		return nil, false
	}
	line := lines[ref.ServiceIndex]
	return &line, true
}

// ServiceRef addresses one service line by its position in the transaction.
type ServiceRef struct {
	TransactionID snowflake.ID
	PatientIndex  int
	ServiceType   ServiceType
	ServiceIndex  int
}

// String renders the reference as <tx>.<patient>.<type>.<index>.
func (r ServiceRef) String() string {
	return fmt.Sprintf("%s.%d.%s.%d", r.TransactionID.String(), r.PatientIndex, r.ServiceType, r.ServiceIndex)
}

func ParseServiceRef(raw string) (ServiceRef, error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 4 {
		return ServiceRef{}, ErrInvalidServiceRef
	}
	txID, err := snowflake.ParseString(parts[0])
	if err != nil || txID == 0 {
		return ServiceRef{}, ErrInvalidServiceRef
	}
	patientIdx, err := strconv.Atoi(parts[1])
	if err != nil || patientIdx < 0 {
		return ServiceRef{}, ErrInvalidServiceRef
	}
	serviceType := ServiceType(parts[2])
	if !serviceType.Valid() {
		return ServiceRef{}, ErrInvalidServiceRef
	}
	serviceIdx, err := strconv.Atoi(parts[3])
	if err != nil || serviceIdx < 0 {
		return ServiceRef{}, ErrInvalidServiceRef
	}
	return ServiceRef{
		TransactionID: txID,
		PatientIndex:  patientIdx,
		ServiceType:   serviceType,
		ServiceIndex:  serviceIdx,
	}, nil
}
