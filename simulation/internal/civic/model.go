package civic

import (
	"fmt"

	"github.com/civictwin/Main/simulation/internal/models"
)

// Model owns a population of agents and the policy they live under.
type Model struct {
	agents    []*Agent
	policy    Policy
	rng       Random
	collector *Collector
	migrated  int
	tick      int
}

// NewModel creates n fresh agents drawn from rng. The collector may be nil,
// in which case snapshots are discarded.
func NewModel(n int, policy Policy, rng Random, collector *Collector) (*Model, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: population must be >= 0, got %d", models.ErrInvalidConfiguration, n)
	}
	if rng == nil {
		return nil, fmt.Errorf("%w: random source required", models.ErrInvalidConfiguration)
	}
	m := &Model{
		agents:    make([]*Agent, n),
		policy:    policy,
		rng:       rng,
		collector: collector,
	}
	for i := range m.agents {
		m.agents[i] = NewAgent(AgentID(i+1), rng)
	}
	return m, nil
}

// Step records a snapshot of the current state and then advances every
// agent once, in a freshly shuffled order.
func (m *Model) Step() {
	if m.collector != nil {
		m.collector.Record(Collect(m))
	}
	m.rng.Shuffle(len(m.agents), func(i, j int) {
		m.agents[i], m.agents[j] = m.agents[j], m.agents[i]
	})
	for _, a := range m.agents {
		if a.Step(m.policy, m.rng) {
			m.migrated++
		}
	}
	m.tick++
}

func (m *Model) Tick() int { return m.tick }

func (m *Model) MigratedCount() int { return m.migrated }

func (m *Model) Policy() Policy { return m.policy }

func (m *Model) Len() int { return len(m.agents) }

// Agents returns the live agent slice in its current order. Callers must
// not retain it across Step calls.
func (m *Model) Agents() []*Agent { return m.agents }
