// Package civic holds the resident agents, the population model that steps
// them, and the metric reductions taken once per tick.
package civic

// Random is the source of randomness consumed by agents and the model.
// *math/rand/v2.Rand satisfies it.
type Random interface {
	Float64() float64
	Shuffle(n int, swap func(i, j int))
}

// AgentID identifies an agent within one model instance.
type AgentID uint64

// Policy carries the global parameters every agent reads during a tick.
type Policy struct {
	Strictness      float64
	InfraSpending   float64
	Subsidy         float64
	TrainingBudget  float64
	JobCreationRate float64
}

const (
	baseIncome             = 1000.0
	savingsRate            = 0.1
	trainingScale          = 10000.0
	infraScale             = 100000.0
	highIncomeThreshold    = 800.0
	lowIncomeThreshold     = 200.0
	highIncomeBonus        = 0.02
	employedBonus          = 0.01
	strictPenalty          = 0.01
	strictPenaltyAbove     = 0.7
	strictEnforcementFloor = 0.8
	unhappyThreshold       = 0.3
	migrationSatisfaction  = 0.15
	migrationSavings       = 500.0
	migrationChance        = 0.1
)

// Agent is one resident. Once Migrated is set the agent never changes again.
type Agent struct {
	ID           AgentID `json:"id"`
	Satisfaction float64 `json:"satisfaction"`
	Compliant    bool    `json:"compliant"`
	SkillLevel   float64 `json:"skillLevel"`
	Employed     bool    `json:"employed"`
	Income       float64 `json:"income"`
	Savings      float64 `json:"savings"`
	Migrated     bool    `json:"migrated"`
}

// NewAgent draws a fresh resident's initial state from rng.
func NewAgent(id AgentID, rng Random) *Agent {
	a := &Agent{ID: id}
	a.Satisfaction = uniform(rng, 0.4, 0.9)
	a.Compliant = rng.Float64() < 0.5
	a.SkillLevel = uniform(rng, 0.1, 1.0)
	// One in ten residents starts out of work; the rest toss a coin.
	if rng.Float64() > 0.1 {
		a.Employed = rng.Float64() < 0.5
	}
	a.Savings = uniform(rng, 0, 1000)
	return a
}

// Step advances the agent by one tick and reports whether it migrated
// during this tick.
func (a *Agent) Step(p Policy, rng Random) bool {
	if a.Migrated {
		return false
	}

	if !a.Employed {
		hireProb := 0.5*(a.SkillLevel+p.TrainingBudget/trainingScale) + p.JobCreationRate
		if rng.Float64() < hireProb {
			a.Employed = true
		}
	}

	base := 0.0
	if a.Employed {
		base = baseIncome
	}
	a.Income = base*(1+p.InfraSpending/infraScale) + p.Subsidy
	a.Savings += a.Income * savingsRate

	delta := 0.0
	if a.Income > highIncomeThreshold {
		delta += highIncomeBonus
	}
	if a.Employed {
		delta += employedBonus
	}
	if p.Strictness > strictPenaltyAbove {
		delta -= strictPenalty
	}
	a.Satisfaction = clamp01(a.Satisfaction + delta)

	a.Compliant = !(a.Satisfaction < unhappyThreshold ||
		(a.Income < lowIncomeThreshold && p.Strictness < strictEnforcementFloor))

	if a.Satisfaction < migrationSatisfaction && a.Savings < migrationSavings {
		if rng.Float64() < migrationChance {
			a.Migrated = true
			return true
		}
	}
	return false
}

func uniform(rng Random, lo, hi float64) float64 {
	return lo + (hi-lo)*rng.Float64()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
