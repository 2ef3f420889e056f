package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCategoryForUsesLongestPrefix(t *testing.T) {
	rules := DefaultRuleSet()
	rules.CodeFamilies["PE9"] = CategoryAdministrative

	assert.Equal(t, CategoryMedical, rules.CategoryFor("PE01"))
	assert.Equal(t, CategoryAdministrative, rules.CategoryFor("pe901"))
	assert.Equal(t, CategoryAdministrative, rules.CategoryFor("AU01"))
	assert.Equal(t, CategoryAdministrative, rules.CategoryFor("ZZ99"))
}

func TestDisabledRulesAreSkipped(t *testing.T) {
	rules := DefaultRuleSet()
	def := rules.Glosas[RuleTariffExceeded]
	def.Disabled = true
	rules.Glosas[RuleTariffExceeded] = def

	_, ok := rules.Glosa(RuleTariffExceeded)
	assert.False(t, ok)
	_, ok = rules.Glosa(RuleMissingAuthorization)
	assert.True(t, ok)
}

func TestValidateRuleSet(t *testing.T) {
	t.Run("empty version", func(t *testing.T) {
		rules := DefaultRuleSet()
		rules.Version = " "
		_, err := NewStaticRuleSetHolder(rules)
		assert.Error(t, err)
	})

	t.Run("unknown category", func(t *testing.T) {
		rules := DefaultRuleSet()
		rules.CodeFamilies["XX"] = "surgical"
		_, err := NewStaticRuleSetHolder(rules)
		assert.Error(t, err)
	})

	t.Run("enabled rule without code", func(t *testing.T) {
		rules := DefaultRuleSet()
		rules.Glosas[RuleDuplicateService] = RuleDefinition{}
		_, err := NewStaticRuleSetHolder(rules)
		assert.Error(t, err)
	})
}

func TestNewRuleSetHolderReadsFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yml")
	content := `rules:
  version: "2025.2"
  codeFamilies:
    CL: MEDICAL
  tariffs:
    "890201": 4500000
  glosas:
    duplicate_service:
      disabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	holder, err := NewRuleSetHolder(Config{RulesPath: path}, zap.NewNop())
	require.NoError(t, err)

	rules := holder.Get()
	assert.Equal(t, "2025.2", rules.Version)
	assert.Equal(t, int64(4500000), rules.Tariffs["890201"])
	assert.Equal(t, CategoryMedical, rules.CategoryFor("CL10"))

	_, ok := rules.Glosa(RuleDuplicateService)
	assert.False(t, ok)
	_, ok = rules.Glosa(RuleMissingAuthorization)
	assert.True(t, ok)
}
