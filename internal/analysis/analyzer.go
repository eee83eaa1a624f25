// ABOUTME: Simulated documentation gap analysis with a staged progress schedule
// ABOUTME: The phase timings are theatrical; the result is the static catalog

package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/scribe-gateway/internal/catalog"
)

// phase is one named stage of the simulated pipeline with its progress range.
// Sub-progress within a phase is interpolated linearly into [startPct, endPct].
type phase struct {
	name     string
	startPct int
	endPct   int
	steps    []step
}

// step is one canned log line with its delay in delay units.
type step struct {
	message    string
	delayUnits int
}

// schedule is the fixed four-phase progress table. It carries no information
// about real work; it exists so the UI shows a believable multi-phase run.
// Swapping in a real analysis engine only requires replacing buildReport,
// not this reporting contract.
var schedule = []phase{
	{
		name: "Profiling documentation", startPct: 0, endPct: 25,
		steps: []step{
			{"Fetching documentation tree", 1},
			{"Parsing 3 markdown documents", 1},
			{"Extracting documented endpoints and claims", 2},
		},
	},
	{
		name: "Building code inventory", startPct: 25, endPct: 50,
		steps: []step{
			{"Scanning route registrations", 1},
			{"Collecting request schemas", 2},
			{"Indexing exported constants", 1},
		},
	},
	{
		name: "Matching features", startPct: 50, endPct: 75,
		steps: []step{
			{"Aligning documented endpoints with code inventory", 2},
			{"Checking example payloads against schemas", 2},
		},
	},
	{
		name: "Detecting gaps", startPct: 75, endPct: 100,
		steps: []step{
			{"Flagging stale endpoint references", 1},
			{"Flagging undocumented features", 1},
			{"Ranking findings by severity", 1},
		},
	},
}

// Progress is one notification from the streaming analysis run.
type Progress struct {
	Phase     int    `json:"phase"`
	PhaseName string `json:"phaseName"`
	Percent   int    `json:"percent"`
	Message   string `json:"message"`
}

// Summary holds derived counts over the gap list.
type Summary struct {
	Total      int            `json:"total"`
	BySeverity map[string]int `json:"bySeverity"`
	ByType     map[string]int `json:"byType"`
}

// Report is the final analysis result: the static gap list plus counts.
type Report struct {
	Gaps    []catalog.Gap `json:"gaps"`
	Summary Summary       `json:"summary"`
}

// Analyzer replays the fixed gap list behind a staged progress simulation.
type Analyzer struct {
	catalog   *catalog.Catalog
	delayUnit time.Duration
	logger    *slog.Logger
}

// New creates an analyzer. delayUnit scales every staged delay; tests pass a
// tiny value. Pass nil logger for default.
func New(c *catalog.Catalog, delayUnit time.Duration, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		catalog:   c,
		delayUnit: delayUnit,
		logger:    logger.With("component", "analyzer"),
	}
}

// Run executes the staged analysis, invoking notify for every progress line
// in order, then returns the report. Delivery is strictly ordered within one
// call. The run completes its fixed sequence even if the subscriber has gone
// away; only context cancellation stops it early.
func (a *Analyzer) Run(ctx context.Context, notify func(Progress)) (*Report, error) {
	for i, ph := range schedule {
		a.logger.Debug("analysis phase", "phase", i+1, "name", ph.name)
		for j, st := range ph.steps {
			if err := a.sleep(ctx, st.delayUnits); err != nil {
				return nil, err
			}
			notify(Progress{
				Phase:     i + 1,
				PhaseName: ph.name,
				Percent:   interpolate(ph, j+1, len(ph.steps)),
				Message:   st.message,
			})
		}
	}

	report := a.buildReport()
	a.logger.Info("analysis complete", "gaps", report.Summary.Total)
	return report, nil
}

// RunBlocking sleeps once for the schedule's total duration and returns the
// same report as Run, with no intermediate notifications.
func (a *Analyzer) RunBlocking(ctx context.Context) (*Report, error) {
	if err := a.sleep(ctx, totalDelayUnits()); err != nil {
		return nil, err
	}
	return a.buildReport(), nil
}

// ReportNow returns the analysis result immediately, skipping the staged
// schedule. Used by callers that want the gap list without the theater.
func (a *Analyzer) ReportNow() *Report {
	return a.buildReport()
}

// buildReport derives the final result from the static catalog. This is the
// seam where a real analysis engine would plug in.
func (a *Analyzer) buildReport() *Report {
	gaps := a.catalog.Gaps()
	summary := Summary{
		Total:      len(gaps),
		BySeverity: make(map[string]int),
		ByType:     make(map[string]int),
	}
	for _, g := range gaps {
		summary.BySeverity[g.Severity]++
		summary.ByType[g.Type]++
	}
	return &Report{Gaps: gaps, Summary: summary}
}

// sleep waits for the given number of delay units or until ctx is done.
func (a *Analyzer) sleep(ctx context.Context, units int) error {
	if units <= 0 || a.delayUnit <= 0 {
		return nil
	}
	timer := time.NewTimer(time.Duration(units) * a.delayUnit)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("analysis interrupted: %w", ctx.Err())
	}
}

// interpolate maps step progress within a phase into the phase's percent range.
func interpolate(ph phase, done, total int) int {
	span := ph.endPct - ph.startPct
	return ph.startPct + span*done/total
}

// totalDelayUnits sums every step delay in the schedule.
func totalDelayUnits() int {
	total := 0
	for _, ph := range schedule {
		for _, st := range ph.steps {
			total += st.delayUnits
		}
	}
	return total
}
