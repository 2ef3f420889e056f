package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	CategoryMedical        = "MEDICAL"
	CategoryAdministrative = "ADMINISTRATIVE"
)

// Devolution rule kinds.
const (
	RuleMissingIdentification   = "missing_identification"
	RuleInvalidDocumentType     = "invalid_document_type"
	RuleProviderInvoiceMismatch = "provider_invoice_mismatch"
	RuleLateSubmission          = "late_submission"
)

// Glosa rule kinds.
const (
	RuleMissingAuthorization = "missing_authorization"
	RuleTariffExceeded       = "tariff_exceeded"
	RuleDuplicateService     = "duplicate_service"
	RuleServiceAfterInvoice  = "service_after_invoice"
	RulePertinenceReview     = "pertinence_review"
)

type RuleDefinition struct {
	Code        string `mapstructure:"code"`
	Description string `mapstructure:"description"`
	Disabled    bool   `mapstructure:"disabled"`
}

// RuleSet is the versioned pre-audit rule table. Maps keyed by service type
// use the lower-case service type name.
type RuleSet struct {
	Version               string                    `mapstructure:"version"`
	CodeFamilies          map[string]string         `mapstructure:"codeFamilies"`
	AllowedDocumentTypes  []string                  `mapstructure:"allowedDocumentTypes"`
	SubmissionWindowDays  int                       `mapstructure:"submissionWindowDays"`
	AuthorizationRequired []string                  `mapstructure:"authorizationRequired"`
	Tariffs               map[string]int64          `mapstructure:"tariffs"`
	PertinenceThreshold   map[string]int64          `mapstructure:"pertinenceThreshold"`
	RequiredSpecialty     map[string]string         `mapstructure:"requiredSpecialty"`
	Devolutions           map[string]RuleDefinition `mapstructure:"devolutions"`
	Glosas                map[string]RuleDefinition `mapstructure:"glosas"`
}

func DefaultRuleSet() RuleSet {
	return RuleSet{
		Version: "2024.1",
		CodeFamilies: map[string]string{
			"AU": CategoryAdministrative,
			"TA": CategoryAdministrative,
			"FA": CategoryAdministrative,
			"SO": CategoryAdministrative,
			"PE": CategoryMedical,
			"CL": CategoryMedical,
		},
		AllowedDocumentTypes:  []string{"CC", "CE", "TI", "RC", "PA", "MS", "AS", "CD", "PE", "PT", "SC", "CN"},
		SubmissionWindowDays:  0,
		AuthorizationRequired: []string{"procedure", "hospitalization"},
		Tariffs:               map[string]int64{},
		PertinenceThreshold: map[string]int64{
			"hospitalization": 500_000_000,
		},
		RequiredSpecialty: map[string]string{
			"hospitalization": "internal_medicine",
			"newborn":         "pediatrics",
		},
		Devolutions: map[string]RuleDefinition{
			RuleMissingIdentification:   {Code: "MISSING_IDENTIFICATION", Description: "patient identification is incomplete"},
			RuleInvalidDocumentType:     {Code: "INVALID_DOCUMENT_TYPE", Description: "patient document type is not recognised"},
			RuleProviderInvoiceMismatch: {Code: "PROVIDER_INVOICE_MISMATCH", Description: "invoice issuer does not match the submitting provider"},
			RuleLateSubmission:          {Code: "LATE_SUBMISSION", Description: "invoice submitted outside the allowed window"},
		},
		Glosas: map[string]RuleDefinition{
			RuleMissingAuthorization: {Code: "AU01", Description: "service requires a prior authorization"},
			RuleTariffExceeded:       {Code: "TA01", Description: "billed value exceeds the agreed tariff"},
			RuleDuplicateService:     {Code: "FA01", Description: "service billed more than once"},
			RuleServiceAfterInvoice:  {Code: "FA02", Description: "service date is after the invoice date"},
			RulePertinenceReview:     {Code: "PE01", Description: "high value service requires pertinence review"},
		},
	}
}

// CategoryFor resolves the reviewer category of a glosa code by longest
// matching family prefix.
func (r RuleSet) CategoryFor(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	best := ""
	category := CategoryAdministrative
	for prefix, cat := range r.CodeFamilies {
		p := strings.ToUpper(prefix)
		if strings.HasPrefix(code, p) && len(p) > len(best) {
			best = p
			category = strings.ToUpper(cat)
		}
	}
	return category
}

func (r RuleSet) Devolution(kind string) (RuleDefinition, bool) {
	def, ok := r.Devolutions[kind]
	if !ok || def.Disabled {
		return RuleDefinition{}, false
	}
	return def, true
}

func (r RuleSet) Glosa(kind string) (RuleDefinition, bool) {
	def, ok := r.Glosas[kind]
	if !ok || def.Disabled {
		return RuleDefinition{}, false
	}
	return def, true
}

func (r RuleSet) RequiresAuthorization(serviceType string) bool {
	for _, t := range r.AuthorizationRequired {
		if strings.EqualFold(t, serviceType) {
			return true
		}
	}
	return false
}

func (r RuleSet) DocumentTypeAllowed(docType string) bool {
	if len(r.AllowedDocumentTypes) == 0 {
		return true
	}
	for _, t := range r.AllowedDocumentTypes {
		if strings.EqualFold(t, docType) {
			return true
		}
	}
	return false
}

// normalize upper-cases code families and trims keys, since viper lower-cases
// map keys read from files.
func (r RuleSet) normalize() RuleSet {
	families := make(map[string]string, len(r.CodeFamilies))
	for prefix, cat := range r.CodeFamilies {
		families[strings.ToUpper(strings.TrimSpace(prefix))] = strings.ToUpper(strings.TrimSpace(cat))
	}
	r.CodeFamilies = families
	r.Version = strings.TrimSpace(r.Version)
	return r
}

func validateRuleSet(r RuleSet) error {
	if r.Version == "" {
		return errors.New("rules.version cannot be empty")
	}
	for prefix, cat := range r.CodeFamilies {
		if cat != CategoryMedical && cat != CategoryAdministrative {
			return fmt.Errorf("rules.codeFamilies.%s has unknown category %q", prefix, cat)
		}
	}
	if r.SubmissionWindowDays < 0 {
		return errors.New("rules.submissionWindowDays cannot be negative")
	}
	for _, group := range []map[string]RuleDefinition{r.Devolutions, r.Glosas} {
		kinds := make([]string, 0, len(group))
		for kind := range group {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			def := group[kind]
			if !def.Disabled && strings.TrimSpace(def.Code) == "" {
				return fmt.Errorf("rule %s has no code", kind)
			}
		}
	}
	for code, tariff := range r.Tariffs {
		if tariff < 0 {
			return fmt.Errorf("rules.tariffs.%s cannot be negative", code)
		}
	}
	return nil
}

type RuleSetHolder struct {
	current atomic.Value // holds RuleSet
}

// NewStaticRuleSetHolder returns a holder that never reloads.
func NewStaticRuleSetHolder(rules RuleSet) (*RuleSetHolder, error) {
	rules = rules.normalize()
	if err := validateRuleSet(rules); err != nil {
		return nil, err
	}
	holder := &RuleSetHolder{}
	holder.current.Store(rules)
	return holder, nil
}

func NewRuleSetHolder(cfg Config, log *zap.Logger) (*RuleSetHolder, error) {
	log = log.Named("config.rules")
	v := viper.New()

	if cfg.RulesPath != "" {
		v.SetConfigFile(cfg.RulesPath)
	} else {
		v.SetConfigName("preaudit-rules")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/medaudit")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Info("rule file not found, using built-in rule set")
		return NewStaticRuleSetHolder(DefaultRuleSet())
	}

	rules, err := decodeRuleSet(v)
	if err != nil {
		return nil, err
	}

	holder := &RuleSetHolder{}
	holder.current.Store(rules)
	log.Info("rule set loaded",
		zap.String("file", v.ConfigFileUsed()),
		zap.String("version", rules.Version),
	)

	if cfg.RulesWatch {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeRuleSet(v)
			if err != nil {
				log.Warn("invalid rule set ignored", zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("rule set reloaded",
				zap.String("file", e.Name),
				zap.String("version", updated.Version),
			)
		})
	}

	return holder, nil
}

func decodeRuleSet(v *viper.Viper) (RuleSet, error) {
	rules := DefaultRuleSet()
	if err := v.UnmarshalKey("rules", &rules); err != nil {
		return RuleSet{}, err
	}
	rules = rules.normalize()
	if err := validateRuleSet(rules); err != nil {
		return RuleSet{}, err
	}
	return rules, nil
}

func (h *RuleSetHolder) Get() RuleSet {
	return h.current.Load().(RuleSet)
}
