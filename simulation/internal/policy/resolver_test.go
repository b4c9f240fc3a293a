package policy_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civictwin/Main/simulation/internal/models"
	"github.com/civictwin/Main/simulation/internal/policy"
)

func newResolver(t *testing.T) *policy.Resolver {
	t.Helper()
	r, err := policy.NewResolver(nil)
	require.NoError(t, err)
	return r
}

func baseConfig() models.SimulationConfig {
	return models.SimulationConfig{
		N:               50,
		Steps:           3,
		Strictness:      0.4,
		InfraSpending:   1000,
		Subsidy:         10,
		TrainingBudget:  500,
		JobCreationRate: 0.05,
		Seed:            99,
	}
}

func TestResolveWithoutDescriptionIsPassthrough(t *testing.T) {
	cfg := baseConfig()
	p := newResolver(t).Resolve(cfg)
	assert.Equal(t, models.Params{
		N: 50, Steps: 3, Strictness: 0.4, InfraSpending: 1000, Subsidy: 10,
		TrainingBudget: 500, JobCreationRate: 0.05, Seed: 99,
	}, p)
}

func TestResolveRoadConstructionJobTraining(t *testing.T) {
	cfg := baseConfig()
	cfg.Description = "urgent road construction with job training"
	p := newResolver(t).Resolve(cfg)

	assert.InDelta(t, 51000.0, p.InfraSpending, 1e-9)
	assert.InDelta(t, 20500.0, p.TrainingBudget, 1e-9)
	assert.InDelta(t, 0.10, p.JobCreationRate, 1e-9)
	assert.Equal(t, cfg.Subsidy, p.Subsidy)
	assert.Equal(t, cfg.Strictness, p.Strictness)
}

func TestResolveEachRuleAppliesOnce(t *testing.T) {
	cfg := baseConfig()
	cfg.Description = "Road and BRIDGE construction, infra everywhere"
	p := newResolver(t).Resolve(cfg)
	assert.InDelta(t, 51000.0, p.InfraSpending, 1e-9)
}

func TestResolveStrictnessOverrides(t *testing.T) {
	r := newResolver(t)
	cases := map[string]float64{
		"more police on the streets":        0.9,
		"a relaxed approach":                0.2,
		"strict police but relaxed curfews": 0.2,
		"freedom first, then strict hiring": 0.2,
		"cash for the poor":                 0.4,
	}
	for desc, want := range cases {
		t.Run(desc, func(t *testing.T) {
			cfg := baseConfig()
			cfg.Description = desc
			assert.Equal(t, want, r.Resolve(cfg).Strictness)
		})
	}
}

func TestResolveSubsidyKeywords(t *testing.T) {
	cfg := baseConfig()
	cfg.Description = "Cash transfers for poor families"
	p := newResolver(t).Resolve(cfg)
	assert.InDelta(t, 210.0, p.Subsidy, 1e-9)
}

func TestResolveIsDeterministic(t *testing.T) {
	r := newResolver(t)
	cfg := baseConfig()
	cfg.Description = "School funding, police presence and employment drives"
	first := r.Resolve(cfg)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, r.Resolve(cfg))
	}
}

func TestMatchesReportsRulesInOrder(t *testing.T) {
	got := newResolver(t).Matches("urgent road construction with job training")
	assert.Equal(t, []policy.Field{
		policy.FieldInfraSpending,
		policy.FieldTrainingBudget,
		policy.FieldJobCreationRate,
	}, got)
}

func TestLoadRulesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	doc := `rules:
  - keywords: [Metro, tram]
    field: infra_spending
    value: 75000
  - keywords: [curfew]
    field: strictness
    value: 0.95
    absolute: true
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	rules, err := policy.LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)

	r, err := policy.NewResolver(rules)
	require.NoError(t, err)

	cfg := baseConfig()
	cfg.Description = "a new metro line and a curfew"
	p := r.Resolve(cfg)
	assert.InDelta(t, 76000.0, p.InfraSpending, 1e-9)
	assert.Equal(t, 0.95, p.Strictness)
	assert.Equal(t, cfg.Subsidy, p.Subsidy)
}

func TestNewResolverRejectsBadRules(t *testing.T) {
	bad := [][]policy.Rule{
		{{Keywords: nil, Field: policy.FieldSubsidy, Value: 1}},
		{{Keywords: []string{" "}, Field: policy.FieldSubsidy, Value: 1}},
		{{Keywords: []string{"x"}, Field: "morale", Value: 1}},
		{{Keywords: []string{"x"}, Field: policy.FieldStrictness, Value: 1.5, Absolute: true}},
		{{Keywords: []string{"x"}, Field: policy.FieldStrictness, Value: 0.1}},
		{{Keywords: []string{"cut"}, Field: policy.FieldSubsidy, Value: -500}},
		{{Keywords: []string{"cut"}, Field: policy.FieldInfraSpending, Value: -1, Absolute: true}},
		{{Keywords: []string{"x"}, Field: policy.FieldTrainingBudget, Value: models.MaxPolicyAmount * 10}},
		{{Keywords: []string{"x"}, Field: policy.FieldSubsidy, Value: math.NaN()}},
	}
	for _, rules := range bad {
		_, err := policy.NewResolver(rules)
		assert.Error(t, err)
	}
}

func TestRuleFileWithNegativeEffectIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cuts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - keywords: [cut]
    field: subsidy
    value: -500
`), 0o600))
	rules, err := policy.LoadRules(path)
	require.NoError(t, err)
	_, err = policy.NewResolver(rules)
	assert.Error(t, err)
}

func TestLoadRulesErrors(t *testing.T) {
	_, err := policy.LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("rules: []\n"), 0o600))
	_, err = policy.LoadRules(empty)
	assert.Error(t, err)
}
