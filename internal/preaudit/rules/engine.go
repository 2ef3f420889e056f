package rules

import (
	"sort"
	"strings"
	"time"

	claimdomain "github.com/smallbiznis/medaudit/internal/claim/domain"
	"github.com/smallbiznis/medaudit/internal/config"
)

// DevolutionFinding is a transaction level defect.
type DevolutionFinding struct {
	Kind          string
	ReasonCode    string
	Description   string
	ServiceRefs   []claimdomain.ServiceRef
	ValueInvolved int64
}

// GlosaFinding is a contestable service line.
type GlosaFinding struct {
	Kind              string
	ServiceRef        claimdomain.ServiceRef
	GlosaCode         string
	Description       string
	Value             int64
	Category          string
	RequiredSpecialty string
}

type Outcome struct {
	RuleVersion string
	Devolutions []DevolutionFinding
	Glosas      []GlosaFinding
}

func (o Outcome) Empty() bool {
	return len(o.Devolutions) == 0 && len(o.Glosas) == 0
}

// Input is the evaluation context shared by every rule of one run.
type Input struct {
	Transaction *claimdomain.ClaimTransaction
	Rules       config.RuleSet

	duplicates map[claimdomain.ServiceRef]bool
}

// ServiceContext is one service line under evaluation.
type ServiceContext struct {
	Ref     claimdomain.ServiceRef
	Patient claimdomain.PatientRecord
	Line    claimdomain.ServiceLine
}

// DevolutionRule fires at most once per transaction.
type DevolutionRule struct {
	Kind     string
	Evaluate func(in *Input) (refs []claimdomain.ServiceRef, fired bool)
}

// GlosaRule runs once per service line and returns the contested value.
type GlosaRule struct {
	Kind     string
	Evaluate func(in *Input, svc ServiceContext) (value int64, fired bool)
}

type Engine struct {
	devolutions []DevolutionRule
	glosas      []GlosaRule
}

// NewEngine registers the built-in rule kinds. Codes, descriptions and
// thresholds come from the rule set at evaluation time.
func NewEngine() *Engine {
	e := &Engine{}
	e.initializeRules()
	return e
}

func (e *Engine) RegisterDevolution(rule DevolutionRule) {
	e.devolutions = append(e.devolutions, rule)
}

func (e *Engine) RegisterGlosa(rule GlosaRule) {
	e.glosas = append(e.glosas, rule)
}

// Evaluate is a pure function of the transaction and the rule set. Devolution
// findings suppress every glosa finding of the transaction.
func (e *Engine) Evaluate(tx *claimdomain.ClaimTransaction, rules config.RuleSet) Outcome {
	out := Outcome{RuleVersion: rules.Version}
	if tx == nil || len(tx.Users) == 0 {
		return out
	}
	stats := claimdomain.ComputeStats(tx.Users)
	if stats.TotalServices == 0 {
		return out
	}

	in := &Input{Transaction: tx, Rules: rules}
	in.duplicates = findDuplicates(tx)

	for _, rule := range e.devolutions {
		def, enabled := rules.Devolution(rule.Kind)
		if !enabled {
			continue
		}
		refs, fired := rule.Evaluate(in)
		if !fired {
			continue
		}
		sortRefs(refs)
		out.Devolutions = append(out.Devolutions, DevolutionFinding{
			Kind:          rule.Kind,
			ReasonCode:    def.Code,
			Description:   def.Description,
			ServiceRefs:   refs,
			ValueInvolved: in.billedValue(refs),
		})
	}
	if len(out.Devolutions) > 0 {
		sort.SliceStable(out.Devolutions, func(i, j int) bool {
			return out.Devolutions[i].ReasonCode < out.Devolutions[j].ReasonCode
		})
		return out
	}

	tx.EachService(func(ref claimdomain.ServiceRef, patient claimdomain.PatientRecord, line claimdomain.ServiceLine) {
		svc := ServiceContext{Ref: ref, Patient: patient, Line: line}
		for _, rule := range e.glosas {
			def, enabled := rules.Glosa(rule.Kind)
			if !enabled {
				continue
			}
			value, fired := rule.Evaluate(in, svc)
			if !fired || value <= 0 {
				continue
			}
			if value > line.BilledValue {
				value = line.BilledValue
			}
			category := rules.CategoryFor(def.Code)
			finding := GlosaFinding{
				Kind:        rule.Kind,
				ServiceRef:  ref,
				GlosaCode:   def.Code,
				Description: def.Description,
				Value:       value,
				Category:    category,
			}
			if category == config.CategoryMedical {
				finding.RequiredSpecialty = rules.RequiredSpecialty[string(ref.ServiceType)]
			}
			out.Glosas = append(out.Glosas, finding)
		}
	})
	sort.SliceStable(out.Glosas, func(i, j int) bool {
		a, b := out.Glosas[i], out.Glosas[j]
		if a.ServiceRef != b.ServiceRef {
			return LessRef(a.ServiceRef, b.ServiceRef)
		}
		return a.GlosaCode < b.GlosaCode
	})
	return out
}

func (e *Engine) initializeRules() {
	e.RegisterDevolution(DevolutionRule{Kind: config.RuleMissingIdentification, Evaluate: missingIdentification})
	e.RegisterDevolution(DevolutionRule{Kind: config.RuleInvalidDocumentType, Evaluate: invalidDocumentType})
	e.RegisterDevolution(DevolutionRule{Kind: config.RuleProviderInvoiceMismatch, Evaluate: providerInvoiceMismatch})
	e.RegisterDevolution(DevolutionRule{Kind: config.RuleLateSubmission, Evaluate: lateSubmission})

	e.RegisterGlosa(GlosaRule{Kind: config.RuleMissingAuthorization, Evaluate: missingAuthorization})
	e.RegisterGlosa(GlosaRule{Kind: config.RuleTariffExceeded, Evaluate: tariffExceeded})
	e.RegisterGlosa(GlosaRule{Kind: config.RuleDuplicateService, Evaluate: duplicateService})
	e.RegisterGlosa(GlosaRule{Kind: config.RuleServiceAfterInvoice, Evaluate: serviceAfterInvoice})
	e.RegisterGlosa(GlosaRule{Kind: config.RulePertinenceReview, Evaluate: pertinenceReview})
}

func missingIdentification(in *Input) ([]claimdomain.ServiceRef, bool) {
	return in.patientRefs(func(p claimdomain.PatientRecord) bool {
		return strings.TrimSpace(p.DocumentType) == "" || strings.TrimSpace(p.DocumentNumber) == ""
	})
}

func invalidDocumentType(in *Input) ([]claimdomain.ServiceRef, bool) {
	return in.patientRefs(func(p claimdomain.PatientRecord) bool {
		docType := strings.TrimSpace(p.DocumentType)
		return docType != "" && !in.Rules.DocumentTypeAllowed(docType)
	})
}

func providerInvoiceMismatch(in *Input) ([]claimdomain.ServiceRef, bool) {
	tx := in.Transaction
	if tx.InvoiceIssuerNit == nil {
		return nil, false
	}
	if normalizeNit(*tx.InvoiceIssuerNit) == normalizeNit(tx.ProviderNit) {
		return nil, false
	}
	return in.allRefs(), true
}

func lateSubmission(in *Input) ([]claimdomain.ServiceRef, bool) {
	tx := in.Transaction
	window := in.Rules.SubmissionWindowDays
	if window <= 0 || tx.IssuedAt == nil {
		return nil, false
	}
	if tx.ReceivedAt.Sub(*tx.IssuedAt) <= time.Duration(window)*24*time.Hour {
		return nil, false
	}
	return in.allRefs(), true
}

func missingAuthorization(in *Input, svc ServiceContext) (int64, bool) {
	if !in.Rules.RequiresAuthorization(string(svc.Ref.ServiceType)) || svc.Line.HasAuthorization() {
		return 0, false
	}
	return svc.Line.BilledValue, true
}

func tariffExceeded(in *Input, svc ServiceContext) (int64, bool) {
	tariff, ok := in.tariff(svc.Line.ServiceCode)
	if !ok || svc.Line.BilledValue <= tariff {
		return 0, false
	}
	return svc.Line.BilledValue - tariff, true
}

func duplicateService(in *Input, svc ServiceContext) (int64, bool) {
	if !in.duplicates[svc.Ref] {
		return 0, false
	}
	return svc.Line.BilledValue, true
}

func serviceAfterInvoice(in *Input, svc ServiceContext) (int64, bool) {
	issuedAt := in.Transaction.IssuedAt
	if issuedAt == nil || !svc.Line.ServiceDate.After(*issuedAt) {
		return 0, false
	}
	return svc.Line.BilledValue, true
}

func pertinenceReview(in *Input, svc ServiceContext) (int64, bool) {
	threshold, ok := in.Rules.PertinenceThreshold[string(svc.Ref.ServiceType)]
	if !ok || threshold <= 0 || svc.Line.BilledValue < threshold {
		return 0, false
	}
	return svc.Line.BilledValue, true
}

func (in *Input) patientRefs(match func(claimdomain.PatientRecord) bool) ([]claimdomain.ServiceRef, bool) {
	fired := false
	var refs []claimdomain.ServiceRef
	for pi, patient := range in.Transaction.Users {
		if !match(patient) {
			continue
		}
		fired = true
		for _, st := range claimdomain.ServiceTypes {
			for si := range patient.Services.Lines(st) {
				refs = append(refs, claimdomain.ServiceRef{
					TransactionID: in.Transaction.ID,
					PatientIndex:  pi,
					ServiceType:   st,
					ServiceIndex:  si,
				})
			}
		}
	}
	return refs, fired
}

func (in *Input) allRefs() []claimdomain.ServiceRef {
	var refs []claimdomain.ServiceRef
	in.Transaction.EachService(func(ref claimdomain.ServiceRef, _ claimdomain.PatientRecord, _ claimdomain.ServiceLine) {
		refs = append(refs, ref)
	})
	return refs
}

func (in *Input) billedValue(refs []claimdomain.ServiceRef) int64 {
	var total int64
	for _, ref := range refs {
		if line, ok := in.Transaction.ServiceLine(ref); ok {
			total += line.BilledValue
		}
	}
	return total
}

// tariff matches the exact code first. Rule files loaded through viper carry
// lower-cased keys.
func (in *Input) tariff(code string) (int64, bool) {
	code = strings.TrimSpace(code)
	if tariff, ok := in.Rules.Tariffs[code]; ok {
		return tariff, true
	}
	tariff, ok := in.Rules.Tariffs[strings.ToLower(code)]
	return tariff, ok
}

// findDuplicates marks every repeat of (patient, type, code, day) after the
// first occurrence.
func findDuplicates(tx *claimdomain.ClaimTransaction) map[claimdomain.ServiceRef]bool {
	type key struct {
		patient int
		kind    claimdomain.ServiceType
		code    string
		day     string
	}
	seen := map[key]bool{}
	dups := map[claimdomain.ServiceRef]bool{}
	tx.EachService(func(ref claimdomain.ServiceRef, _ claimdomain.PatientRecord, line claimdomain.ServiceLine) {
		k := key{
			patient: ref.PatientIndex,
			kind:    ref.ServiceType,
			code:    strings.ToUpper(strings.TrimSpace(line.ServiceCode)),
			day:     line.ServiceDate.UTC().Format("2006-01-02"),
		}
		if seen[k] {
			dups[ref] = true
			return
		}
		seen[k] = true
	})
	return dups
}

func normalizeNit(nit string) string {
	nit = strings.TrimSpace(nit)
	// The verification digit after the dash is optional on invoices.
	if idx := strings.Index(nit, "-"); idx > 0 {
		nit = nit[:idx]
	}
	return strings.ReplaceAll(nit, ".", "")
}

// LessRef orders references by patient, bundle position and index.
func LessRef(a, b claimdomain.ServiceRef) bool {
	if a.TransactionID != b.TransactionID {
		return a.TransactionID < b.TransactionID
	}
	if a.PatientIndex != b.PatientIndex {
		return a.PatientIndex < b.PatientIndex
	}
	if a.ServiceType != b.ServiceType {
		return typeOrder(a.ServiceType) < typeOrder(b.ServiceType)
	}
	return a.ServiceIndex < b.ServiceIndex
}

func typeOrder(t claimdomain.ServiceType) int {
	for i, known := range claimdomain.ServiceTypes {
		if known == t {
			return i
		}
	}
	return len(claimdomain.ServiceTypes)
}

func sortRefs(refs []claimdomain.ServiceRef) {
	sort.SliceStable(refs, func(i, j int) bool { return LessRef(refs[i], refs[j]) })
}
