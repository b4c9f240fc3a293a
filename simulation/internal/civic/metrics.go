package civic

import "github.com/civictwin/Main/simulation/internal/models"

// Snapshot is the set of population statistics taken at one tick.
type Snapshot struct {
	AvgSatisfaction  float64 `json:"avgSatisfaction"`
	ComplianceRate   float64 `json:"complianceRate"`
	UnemploymentRate float64 `json:"unemploymentRate"`
	AvgIncome        float64 `json:"avgIncome"`
	MigrationCount   int     `json:"migrationCount"`
}

// AvgSatisfaction is the mean satisfaction over all agents, migrated included.
func AvgSatisfaction(agents []*Agent) float64 {
	var mean float64
	for i, a := range agents {
		mean += (a.Satisfaction - mean) / float64(i+1)
	}
	return mean
}

// ComplianceRate is the share of all agents currently compliant.
func ComplianceRate(agents []*Agent) float64 {
	if len(agents) == 0 {
		return 0
	}
	compliant := 0
	for _, a := range agents {
		if a.Compliant {
			compliant++
		}
	}
	return float64(compliant) / float64(len(agents))
}

// UnemploymentRate is computed over the agents that have not migrated.
func UnemploymentRate(agents []*Agent) float64 {
	active, unemployed := 0, 0
	for _, a := range agents {
		if a.Migrated {
			continue
		}
		active++
		if !a.Employed {
			unemployed++
		}
	}
	if active == 0 {
		return 0
	}
	return float64(unemployed) / float64(active)
}

// AvgIncome is the mean income of agents that have not migrated.
func AvgIncome(agents []*Agent) float64 {
	// Running mean: a sum of large incomes can overflow where the mean cannot.
	active := 0
	var mean float64
	for _, a := range agents {
		if a.Migrated {
			continue
		}
		active++
		mean += (a.Income - mean) / float64(active)
	}
	return mean
}

// Collect reduces the model's current state into a Snapshot.
func Collect(m *Model) Snapshot {
	return Snapshot{
		AvgSatisfaction:  AvgSatisfaction(m.agents),
		ComplianceRate:   ComplianceRate(m.agents),
		UnemploymentRate: UnemploymentRate(m.agents),
		AvgIncome:        AvgIncome(m.agents),
		MigrationCount:   m.migrated,
	}
}

// Collector accumulates snapshots in tick order.
type Collector struct {
	snapshots []Snapshot
}

func NewCollector(capacity int) *Collector {
	if capacity < 0 {
		capacity = 0
	}
	return &Collector{snapshots: make([]Snapshot, 0, capacity)}
}

func (c *Collector) Record(s Snapshot) {
	c.snapshots = append(c.snapshots, s)
}

func (c *Collector) Snapshots() []Snapshot {
	return append([]Snapshot(nil), c.snapshots...)
}

// Series converts the recorded snapshots into the per-metric wire form.
// Every metric key is present even when nothing was recorded.
func (c *Collector) Series() models.TimeSeries {
	n := len(c.snapshots)
	ts := make(models.TimeSeries, len(models.MetricNames))
	for _, name := range models.MetricNames {
		ts[name] = make([]float64, 0, n)
	}
	for _, s := range c.snapshots {
		ts[models.MetricAvgSatisfaction] = append(ts[models.MetricAvgSatisfaction], s.AvgSatisfaction)
		ts[models.MetricComplianceRate] = append(ts[models.MetricComplianceRate], s.ComplianceRate)
		ts[models.MetricUnemploymentRate] = append(ts[models.MetricUnemploymentRate], s.UnemploymentRate)
		ts[models.MetricAvgIncome] = append(ts[models.MetricAvgIncome], s.AvgIncome)
		ts[models.MetricMigrationCount] = append(ts[models.MetricMigrationCount], float64(s.MigrationCount))
	}
	return ts
}
