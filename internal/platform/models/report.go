package models

import "time"

// RunStatus is the terminal state of one ingestion run.
type RunStatus string

// Terminal run states.
const (
	RunCompleted       RunStatus = "completed"
	RunPartiallyFailed RunStatus = "partially_failed"
)

// UpsertOutcome is the result of upserting one candidate deal.
type UpsertOutcome string

// Upsert outcomes.
const (
	OutcomeCreated   UpsertOutcome = "created"
	OutcomeUpdated   UpsertOutcome = "updated"
	OutcomeUnchanged UpsertOutcome = "unchanged"
)

// ErrorRecord is one machine-readable error entry of a run report.
type ErrorRecord struct {
	Shop       string  `json:"shop"`
	ExternalID *string `json:"externalId,omitempty"`
	Kind       string  `json:"kind"`
	Message    string  `json:"message"`
}

// UnitReport holds the outcome counts of one (shop, category) unit of work.
// ItemErrors are flattened into the run-level Errors list when the run is
// finalized.
type UnitReport struct {
	Shop       string        `json:"shop"`
	Category   string        `json:"category,omitempty"`
	Fetched    int32         `json:"fetched"`
	Created    int32         `json:"created"`
	Updated    int32         `json:"updated"`
	Unchanged  int32         `json:"unchanged"`
	Failed     int32         `json:"failed"`
	Error      *string       `json:"error,omitempty"`
	ItemErrors []ErrorRecord `json:"-"`
}

// HasFailed reports whether the unit terminated with a unit-level error.
func (u UnitReport) HasFailed() bool {
	return u.Error != nil
}

// RunReport is the aggregated, observable outcome of one orchestration cycle.
type RunReport struct {
	RunID      string        `json:"runId"`
	Status     RunStatus     `json:"status"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Units      []UnitReport  `json:"units"`
	Errors     []ErrorRecord `json:"errors,omitempty"`
}

// Totals returns the counts summed over all units.
func (r RunReport) Totals() UnitReport {
	var total UnitReport
	for _, unit := range r.Units {
		total.Fetched += unit.Fetched
		total.Created += unit.Created
		total.Updated += unit.Updated
		total.Unchanged += unit.Unchanged
		total.Failed += unit.Failed
	}
	return total
}
