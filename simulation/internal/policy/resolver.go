// Package policy turns a submitted configuration and its optional free-text
// description into the numeric parameters the population model runs with.
package policy

import (
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/civictwin/Main/simulation/internal/models"
)

type Field string

const (
	FieldInfraSpending   Field = "infra_spending"
	FieldSubsidy         Field = "subsidy"
	FieldTrainingBudget  Field = "training_budget"
	FieldJobCreationRate Field = "job_creation_rate"
	FieldStrictness      Field = "strictness"
)

// Rule applies an effect to one field when the description contains any of
// its keywords. Additive rules add Value; absolute rules replace the field.
type Rule struct {
	Keywords []string `yaml:"keywords"`
	Field    Field    `yaml:"field"`
	Value    float64  `yaml:"value"`
	Absolute bool     `yaml:"absolute"`
}

// DefaultRules is the built-in keyword table. Absolute rules come last and
// are evaluated in order, so "relaxed" wins over "strict" when both appear.
func DefaultRules() []Rule {
	return []Rule{
		{Keywords: []string{"infra", "road", "bridge", "construction"}, Field: FieldInfraSpending, Value: 50000},
		{Keywords: []string{"subsidy", "cash", "poor"}, Field: FieldSubsidy, Value: 200},
		{Keywords: []string{"education", "school", "training"}, Field: FieldTrainingBudget, Value: 20000},
		{Keywords: []string{"job", "employment", "work"}, Field: FieldJobCreationRate, Value: 0.05},
		{Keywords: []string{"strict", "police"}, Field: FieldStrictness, Value: 0.9, Absolute: true},
		{Keywords: []string{"relaxed", "freedom"}, Field: FieldStrictness, Value: 0.2, Absolute: true},
	}
}

type Resolver struct {
	rules []Rule
}

// NewResolver builds a resolver over rules. A nil or empty slice selects
// DefaultRules.
func NewResolver(rules []Rule) (*Resolver, error) {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	normalized := make([]Rule, 0, len(rules))
	for i, r := range rules {
		if err := r.validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		kw := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			kw = append(kw, strings.ToLower(k))
		}
		r.Keywords = kw
		normalized = append(normalized, r)
	}
	return &Resolver{rules: normalized}, nil
}

// LoadRules reads a YAML rule table of the form
//
//	rules:
//	  - keywords: [road, bridge]
//	    field: infra_spending
//	    value: 50000
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy rules: %w", err)
	}
	var doc struct {
		Rules []Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse policy rules: %w", err)
	}
	if len(doc.Rules) == 0 {
		return nil, fmt.Errorf("policy rules file %s defines no rules", path)
	}
	return doc.Rules, nil
}

func (r Rule) validate() error {
	if len(r.Keywords) == 0 {
		return fmt.Errorf("at least one keyword required")
	}
	for _, k := range r.Keywords {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("empty keyword")
		}
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return fmt.Errorf("%s value must be finite", r.Field)
	}
	switch r.Field {
	case FieldInfraSpending, FieldSubsidy, FieldTrainingBudget, FieldJobCreationRate:
		if r.Value < 0 || r.Value > models.MaxPolicyAmount {
			return fmt.Errorf("%s value must be within [0,%g], got %v", r.Field, models.MaxPolicyAmount, r.Value)
		}
	case FieldStrictness:
		if r.Absolute && (r.Value < 0 || r.Value > 1) {
			return fmt.Errorf("strictness must be within [0,1]")
		}
		if !r.Absolute {
			return fmt.Errorf("strictness rules must be absolute")
		}
	default:
		return fmt.Errorf("unknown field %q", r.Field)
	}
	return nil
}

// Resolve produces the final parameter set. The result depends only on cfg
// and the rule table.
func (r *Resolver) Resolve(cfg models.SimulationConfig) models.Params {
	p := models.Params{
		N:               cfg.N,
		Steps:           cfg.Steps,
		Strictness:      cfg.Strictness,
		InfraSpending:   cfg.InfraSpending,
		Subsidy:         cfg.Subsidy,
		TrainingBudget:  cfg.TrainingBudget,
		JobCreationRate: cfg.JobCreationRate,
		Seed:            cfg.Seed,
	}
	text := strings.ToLower(cfg.Description)
	if strings.TrimSpace(text) == "" {
		return p
	}
	for _, rule := range r.rules {
		if !rule.matches(text) {
			continue
		}
		target := fieldOf(&p, rule.Field)
		if rule.Absolute {
			*target = rule.Value
		} else {
			*target += rule.Value
		}
	}
	return p
}

// Matches returns the fields each matching rule touched, in evaluation order.
func (r *Resolver) Matches(description string) []Field {
	text := strings.ToLower(description)
	var out []Field
	for _, rule := range r.rules {
		if rule.matches(text) {
			out = append(out, rule.Field)
		}
	}
	return out
}

func (r Rule) matches(text string) bool {
	for _, k := range r.Keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func fieldOf(p *models.Params, f Field) *float64 {
	switch f {
	case FieldInfraSpending:
		return &p.InfraSpending
	case FieldSubsidy:
		return &p.Subsidy
	case FieldTrainingBudget:
		return &p.TrainingBudget
	case FieldJobCreationRate:
		return &p.JobCreationRate
	default:
		return &p.Strictness
	}
}
