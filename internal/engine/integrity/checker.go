// Package integrity verifies referential and value-level consistency of the
// mirrored chess data. Violations are advisory: they are reported and
// counted, but never fail a synchronization run.
package integrity

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	repository "github.com/rookline/chessync/internal/domain/repository"
	metrics "github.com/rookline/chessync/internal/metrics"
	logger "github.com/rookline/chessync/internal/support/logger"
)

// Rule names as reported in violations and metrics.
const (
	RuleOrphanGameRefs  = "orphan_game_refs"
	RuleOrphanClubRefs  = "orphan_club_refs"
	RuleInvalidResults  = "invalid_game_results"
	RuleRatingRange     = "rating_out_of_range"
	RuleTournamentDates = "tournament_date_order"
)

// Plausible rating bounds. Anything outside is almost certainly a source bug.
const (
	MinRating = 100
	MaxRating = 3500
)

// Violation describes one integrity rule finding.
type Violation struct {
	Rule      string   `json:"rule"`
	SourceIDs []string `json:"source_ids"`
}

// Report is the outcome of one integrity check.
type Report struct {
	CheckedAt  time.Time   `json:"checked_at"`
	Violations []Violation `json:"violations"`
}

// Clean reports whether no rule found anything.
func (r *Report) Clean() bool {
	return len(r.Violations) == 0
}

// TotalViolations returns the number of offending records across all rules.
func (r *Report) TotalViolations() int {
	total := 0
	for _, v := range r.Violations {
		total += len(v.SourceIDs)
	}
	return total
}

// Summary renders a one-line verdict suitable for health checks and run
// metadata, without requiring callers to walk the violation list.
func (r *Report) Summary() string {
	if r.Clean() {
		return "PASS"
	}
	return fmt.Sprintf("FAIL: %d violation(s) across %d rule(s)", r.TotalViolations(), len(r.Violations))
}

// Checker runs the integrity rules against the entity store.
type Checker struct {
	store    repository.EntityStore
	recorder metrics.MetricRecorder
}

// NewChecker creates a Checker.
func NewChecker(store repository.EntityStore, recorder metrics.MetricRecorder) *Checker {
	return &Checker{store: store, recorder: recorder}
}

// Check runs every rule and returns the combined report. Individual rule
// query failures are collected and returned alongside the partial report;
// rules that did run still contribute their findings.
func (c *Checker) Check(ctx context.Context) (*Report, error) {
	report := &Report{CheckedAt: time.Now()}
	var errs *multierror.Error

	type rule struct {
		name  string
		query func(context.Context) ([]string, error)
	}
	rules := []rule{
		{RuleOrphanGameRefs, c.store.OrphanGameRefs},
		{RuleOrphanClubRefs, c.store.OrphanClubRefs},
		{RuleInvalidResults, c.store.InvalidGameResults},
		{RuleRatingRange, func(ctx context.Context) ([]string, error) {
			return c.store.RatingsOutOfRange(ctx, MinRating, MaxRating)
		}},
		{RuleTournamentDates, c.store.TournamentDateAnomalies},
	}

	for _, r := range rules {
		ids, err := r.query(ctx)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if len(ids) == 0 {
			continue
		}
		report.Violations = append(report.Violations, Violation{Rule: r.name, SourceIDs: ids})
		c.recorder.RecordIntegrityViolation(ctx, r.name, len(ids))
		logger.Warnf("Integrity rule '%s' flagged %d record(s).", r.name, len(ids))
	}

	if report.Clean() && errs.ErrorOrNil() == nil {
		logger.Infof("Integrity check passed with no findings.")
	}
	return report, errs.ErrorOrNil()
}

// ValidResults enumerates the accepted game result strings.
// "*" marks an unfinished or unknown result.
var ValidResults = []string{"1-0", "0-1", "1/2-1/2", "*"}
