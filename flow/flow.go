package flow

import (
	"errors"
	"fmt"
	"time"

	"github.com/pay-commons/txflow/datastore"
	"github.com/pay-commons/txflow/pkg/logger"
)

// Observer receives the outcome of every step. It is used for metrics.
type Observer interface {
	ObserveStep(intent Intent, outcome Outcome, elapsed time.Duration)
}

type flowConfig struct {
	lggr       logger.Logger
	reporter   Reporter
	observers  []Observer
	unitOfWork string
}

// FlowOption is a functional option for configuring a Flow.
type FlowOption func(*flowConfig)

// WithLogger sets the logger used for step logging. Defaults to a no-op logger.
func WithLogger(lggr logger.Logger) FlowOption {
	return func(c *flowConfig) {
		c.lggr = lggr
	}
}

// WithReporter records a StepReport for every step in r.
func WithReporter(r Reporter) FlowOption {
	return func(c *flowConfig) {
		c.reporter = r
	}
}

// WithObserver adds an Observer notified after every step.
func WithObserver(o Observer) FlowOption {
	return func(c *flowConfig) {
		c.observers = append(c.observers, o)
	}
}

// WithUnitOfWork tags logs and reports of the flow with an identifier.
func WithUnitOfWork(id string) FlowOption {
	return func(c *flowConfig) {
		c.unitOfWork = id
	}
}

// Flow executes operations one at a time against a single context.
//
// The first failing step makes the flow fail: Err reports the failure, later ExecuteNext calls skip
// their operation and Complete returns the failure. A Flow is not safe for concurrent use.
type Flow[C Context] struct {
	ctx  C
	err  error
	step int

	lggr       logger.Logger
	reporter   Reporter
	observers  []Observer
	unitOfWork string
}

// New creates a flow bound to ctx. A nil ctx yields a flow that has already failed with
// ErrNilContext.
func New[C Context](ctx C, opts ...FlowOption) *Flow[C] {
	cfg := flowConfig{lggr: logger.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	f := &Flow[C]{
		ctx:        ctx,
		lggr:       cfg.lggr,
		reporter:   cfg.reporter,
		observers:  cfg.observers,
		unitOfWork: cfg.unitOfWork,
	}
	if cfg.unitOfWork != "" {
		f.lggr = f.lggr.With("unitOfWork", cfg.unitOfWork)
	}
	if isNil(ctx) {
		f.err = ErrNilContext
	}

	return f
}

// ExecuteNext runs op against the context and stores its result, if any, with Put. It returns the
// flow so calls can be chained.
//
// A nil op fails the flow with ErrInvalidOperation without running anything. A version conflict
// reported by the datastore while op runs fails the flow with a *TransactionalError wrapping it,
// unless op already returned one, which is kept as is. Any other error fails the flow unchanged. The context is only written when op succeeds.
func (f *Flow[C]) ExecuteNext(op Operation[C]) *Flow[C] {
	if f.err != nil {
		f.lggr.Debugw("Skipping operation after earlier failure", "step", f.step+1, "error", f.err)
		return f
	}
	f.step++

	if IsNilOperation(op) {
		err := fmt.Errorf("step %d: %w", f.step, ErrInvalidOperation)
		f.finish(nil, 0, OutcomeInvalid, 0, err)

		return f
	}

	intent := op.Intent()
	def := definitionOf(op)
	f.lggr.Debugw("Executing operation", "step", f.step, "intent", intent, "operation", def.ID)

	start := time.Now()
	result, err := op.Apply(f.ctx)
	elapsed := time.Since(start)

	var (
		outcome Outcome
		txErr   *TransactionalError
	)
	switch {
	case errors.As(err, &txErr):
		// already translated, e.g. by a nested flow
		outcome = OutcomeConflict
		f.lggr.Warnw("Operation in version conflict", "step", f.step, "intent", intent, "error", err)
	case err != nil && errors.Is(err, datastore.ErrVersionConflict):
		outcome = OutcomeConflict
		err = &TransactionalError{
			Message: fmt.Sprintf("step %d (%s) hit a version conflict", f.step, intent),
			Cause:   err,
		}
		f.lggr.Warnw("Operation in version conflict", "step", f.step, "intent", intent, "error", err)
	case err != nil:
		outcome = OutcomeFailed
		f.lggr.Debugw("Operation failed", "step", f.step, "intent", intent, "error", err)
	default:
		if v, ok := result.Get(); ok && !isNil(v) {
			f.ctx.Put(v)
			outcome = OutcomeStored
		} else {
			outcome = OutcomeEmpty
		}
		f.lggr.Debugw("Operation executed", "step", f.step, "intent", intent, "outcome", outcome)
	}

	f.finish(op, intent, outcome, elapsed, err)

	return f
}

// Err returns the failure of the flow, or nil.
func (f *Flow[C]) Err() error {
	return f.err
}

// Complete returns the context the flow was created with, together with the flow's failure if a
// step failed. It has no side effects and may be called any number of times.
func (f *Flow[C]) Complete() (C, error) {
	return f.ctx, f.err
}

// finish notifies observers, records the step report and sets the flow failure.
func (f *Flow[C]) finish(op Operation[C], intent Intent, outcome Outcome, elapsed time.Duration, err error) {
	for _, o := range f.observers {
		o.ObserveStep(intent, outcome, elapsed)
	}

	if f.reporter != nil {
		var def *Definition
		if d, ok := op.(Defined); ok {
			dd := d.Def()
			def = &dd
		}
		report := NewStepReport(f.unitOfWork, f.step, def, intent, outcome, err)
		if rErr := f.reporter.AddReport(report); rErr != nil {
			if err == nil {
				err = fmt.Errorf("step %d: failed to add report: %w", f.step, rErr)
			} else {
				f.lggr.Errorw("Failed to add report", "step", f.step, "error", rErr)
			}
		}
	}

	f.err = err
}

func definitionOf[C Context](op Operation[C]) Definition {
	if d, ok := op.(Defined); ok {
		return d.Def()
	}

	return Definition{}
}
