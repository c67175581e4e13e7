package flow

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies how a step ended.
type Outcome string

const (
	OutcomeStored   Outcome = "stored"   // the operation produced a value, it was put in the context
	OutcomeEmpty    Outcome = "empty"    // the operation produced nothing
	OutcomeConflict Outcome = "conflict" // the operation hit a version conflict
	OutcomeFailed   Outcome = "failed"   // the operation returned any other error
	OutcomeInvalid  Outcome = "invalid"  // the operation was nil
)

// StepReport is the record of one executed step.
type StepReport struct {
	ID         string       `json:"id" yaml:"id"`
	UnitOfWork string       `json:"unitOfWork,omitempty" yaml:"unitOfWork,omitempty"`
	Step       int          `json:"step" yaml:"step"`
	Def        *Definition  `json:"definition,omitempty" yaml:"definition,omitempty"`
	Intent     Intent       `json:"intent" yaml:"intent"`
	Outcome    Outcome      `json:"outcome" yaml:"outcome"`
	Timestamp  *time.Time   `json:"timestamp" yaml:"timestamp"`
	Err        *ReportError `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewStepReport creates a report with a fresh ID.
func NewStepReport(unitOfWork string, step int, def *Definition, intent Intent, outcome Outcome, err error) StepReport {
	now := time.Now()
	r := StepReport{
		ID:         uuid.New().String(),
		UnitOfWork: unitOfWork,
		Step:       step,
		Def:        def,
		Intent:     intent,
		Outcome:    outcome,
		Timestamp:  &now,
	}
	if err != nil {
		r.Err = &ReportError{Message: err.Error()}
	}

	return r
}

// ReportError represents an error in the StepReport.
// Its purpose is to have an exported field `Message` for marshalling as the
// native error cant be marshaled to JSON.
type ReportError struct {
	Message string `json:"message" yaml:"message"`
}

// Error implements the error interface.
func (o ReportError) Error() string {
	return o.Message
}

var ErrReportNotFound = errors.New("report not found")

// Reporter manages step reports.
type Reporter interface {
	GetReport(id string) (StepReport, error)
	GetReports() ([]StepReport, error)
	AddReport(report StepReport) error
}

// MemoryReporter stores reports in memory.
// This is thread-safe and can be used by several flows at once.
type MemoryReporter struct {
	reports []StepReport
	mu      sync.RWMutex
}

type MemoryReporterOption func(*MemoryReporter)

// WithReports is an option to initialize the MemoryReporter with a list of reports.
func WithReports(reports []StepReport) MemoryReporterOption {
	return func(mr *MemoryReporter) {
		mr.reports = reports
	}
}

// NewMemoryReporter creates a new MemoryReporter.
func NewMemoryReporter(options ...MemoryReporterOption) *MemoryReporter {
	reporter := &MemoryReporter{}
	for _, opt := range options {
		opt(reporter)
	}

	return reporter
}

// AddReport adds a report to the memory reporter.
func (e *MemoryReporter) AddReport(report StepReport) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.reports = append(e.reports, report)

	return nil
}

// GetReports returns all reports in the order they were added.
func (e *MemoryReporter) GetReports() ([]StepReport, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return slices.Clone(e.reports), nil
}

// GetReport returns a report by ID.
// Returns ErrReportNotFound if the report is not found.
func (e *MemoryReporter) GetReport(id string) (StepReport, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, report := range e.reports {
		if report.ID == id {
			return report, nil
		}
	}

	return StepReport{}, fmt.Errorf("report_id %s: %w", id, ErrReportNotFound)
}

// GetUnitOfWorkReports returns the reports of one unit of work, ordered by step.
func (e *MemoryReporter) GetUnitOfWorkReports(unitOfWork string) []StepReport {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []StepReport
	for _, report := range e.reports {
		if report.UnitOfWork == unitOfWork {
			out = append(out, report)
		}
	}
	slices.SortStableFunc(out, func(a, b StepReport) int {
		return a.Step - b.Step
	})

	return out
}
