package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"llmtrace/internal/models"
	"llmtrace/internal/storage"
)

// Estimator backfills a cost from token counts when a stored record carries
// none. Implemented by the pricing cache; faked in tests.
type Estimator interface {
	Estimate(model string, inputTokens, outputTokens int64) (float64, bool)
}

// RecordSource streams stored records over a time window. Implemented by
// storage.LocalStore.
type RecordSource interface {
	Scan(from, to time.Time, fn storage.ScanFunc) error
}

// Filters narrow which records contribute to a report. Empty fields match
// everything. Matching is case-insensitive.
type Filters struct {
	Project string
	Agent   string
	Model   string
	Status  string
}

// Validate rejects filter values that can never match, so the CLI can fail
// with a clear message instead of silently returning zero rows.
func (f Filters) Validate() error {
	switch strings.ToLower(f.Status) {
	case "", "success", "failure":
		return nil
	default:
		return fmt.Errorf("status must be \"success\" or \"failure\", got %q: %w",
			f.Status, models.ErrInvalidFilter)
	}
}

// Match applies the filter predicate to one record.
func (f Filters) Match(rec models.TelemetryRecord) bool {
	if f.Project != "" && !strings.EqualFold(f.Project, rec.Project) {
		return false
	}
	if f.Agent != "" && !strings.EqualFold(f.Agent, rec.AgentName) {
		return false
	}
	if f.Model != "" && !strings.EqualFold(f.Model, rec.Model) {
		return false
	}
	switch strings.ToLower(f.Status) {
	case "success":
		return rec.Success
	case "failure":
		return !rec.Success
	}
	return true
}

func (f Filters) describe() map[string]string {
	out := make(map[string]string)
	if f.Project != "" {
		out["project"] = f.Project
	}
	if f.Agent != "" {
		out["agent"] = f.Agent
	}
	if f.Model != "" {
		out["model"] = f.Model
	}
	if f.Status != "" {
		out["status"] = f.Status
	}
	return out
}

// GroupRow is one grouped breakdown line in a report.
type GroupRow struct {
	Name    string             `json:"name"`
	Calls   int64              `json:"calls"`
	CostUSD float64            `json:"cost_usd"`
	Tokens  models.TokenCounts `json:"tokens"`
}

// Window describes the date range a report covers.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Days  int       `json:"days"`
}

// Report is the aggregation result; its JSON shape is the `costs --json`
// output contract.
type Report struct {
	TotalCostUSD float64            `json:"total_cost_usd"`
	TotalCalls   int64              `json:"total_calls"`
	TotalTokens  models.TokenCounts `json:"total_tokens"`
	Window       Window             `json:"window"`
	Filters      map[string]string  `json:"filters,omitempty"`
	ByModel      []GroupRow         `json:"by_model"`
	ByAgent      []GroupRow         `json:"by_agent"`
	ByProject    []GroupRow         `json:"by_project"`
}

// Aggregator answers grouped cost/usage queries over stored telemetry.
type Aggregator struct {
	source    RecordSource
	estimator Estimator
}

// New builds an aggregator over a record source. The estimator may be nil,
// in which case costless records contribute zero.
func New(source RecordSource, estimator Estimator) *Aggregator {
	return &Aggregator{source: source, estimator: estimator}
}

// groupAcc accumulates one grouping key. Costs are summed as fixed-precision
// decimals so cent-level drift cannot build up across large windows.
type groupAcc struct {
	calls  int64
	cost   decimal.Decimal
	tokens models.TokenCounts
}

// Report streams records from [now - days, now], applies the filter predicate
// before accumulation and returns totals grouped by model, agent and project.
func (a *Aggregator) Report(days int, filters Filters, now time.Time) (*Report, error) {
	if err := filters.Validate(); err != nil {
		return nil, err
	}
	if days < 1 {
		days = 1
	}
	now = now.UTC()
	start := now.AddDate(0, 0, -days)

	totalCost := decimal.Zero
	var totalCalls int64
	var totalTokens models.TokenCounts
	byModel := make(map[string]*groupAcc)
	byAgent := make(map[string]*groupAcc)
	byProject := make(map[string]*groupAcc)

	err := a.source.Scan(start, now, func(rec models.TelemetryRecord) bool {
		if !filters.Match(rec) {
			return true
		}

		cost := a.recordCost(rec)
		totalCost = totalCost.Add(cost)
		totalCalls++
		totalTokens.Input += rec.Tokens.Input
		totalTokens.Output += rec.Tokens.Output
		totalTokens.Total += rec.Tokens.Total

		accumulate(byModel, orUnknown(rec.Model), cost, rec.Tokens)
		accumulate(byAgent, orUnknown(rec.AgentName), cost, rec.Tokens)
		accumulate(byProject, orUnknown(rec.Project), cost, rec.Tokens)
		return true
	})
	if err != nil {
		return nil, err
	}

	return &Report{
		TotalCostUSD: roundUSD(totalCost),
		TotalCalls:   totalCalls,
		TotalTokens:  totalTokens,
		Window:       Window{Start: start, End: now, Days: days},
		Filters:      filters.describe(),
		ByModel:      rows(byModel),
		ByAgent:      rows(byAgent),
		ByProject:    rows(byProject),
	}, nil
}

// recordCost returns the stored cost, backfilling from pricing when the
// record predates cost capture or the provider reported none. A missing cost
// is never silently treated as zero when pricing for the model is known.
func (a *Aggregator) recordCost(rec models.TelemetryRecord) decimal.Decimal {
	if rec.CostUSD > 0 {
		return decimal.NewFromFloat(rec.CostUSD)
	}
	if a.estimator == nil {
		return decimal.Zero
	}
	estimate, ok := a.estimator.Estimate(rec.Model, rec.Tokens.Input, rec.Tokens.Output)
	if !ok {
		log.Debugf("no pricing for model %q, counting cost as zero", rec.Model)
		return decimal.Zero
	}
	return decimal.NewFromFloat(estimate)
}

func accumulate(section map[string]*groupAcc, key string, cost decimal.Decimal, tokens models.TokenCounts) {
	acc, ok := section[key]
	if !ok {
		acc = &groupAcc{cost: decimal.Zero}
		section[key] = acc
	}
	acc.calls++
	acc.cost = acc.cost.Add(cost)
	acc.tokens.Input += tokens.Input
	acc.tokens.Output += tokens.Output
	acc.tokens.Total += tokens.Total
}

// rows flattens a section into sorted output: descending total cost, then
// ascending name for stable ties.
func rows(section map[string]*groupAcc) []GroupRow {
	out := make([]GroupRow, 0, len(section))
	for name, acc := range section {
		out = append(out, GroupRow{
			Name:    name,
			Calls:   acc.calls,
			CostUSD: roundUSD(acc.cost),
			Tokens:  acc.tokens,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CostUSD != out[j].CostUSD {
			return out[i].CostUSD > out[j].CostUSD
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func roundUSD(d decimal.Decimal) float64 {
	f, _ := d.Round(6).Float64()
	return f
}

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
