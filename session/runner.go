// Package session runs flows against a transactional datastore. It is the layer that gives the
// operation intents their meaning: Transactional operations get their own datastore transaction,
// PreTransactional and NonTransactional operations run with the caller's context.
package session

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/segmentio/ksuid"

	"github.com/pay-commons/txflow/datastore"
	"github.com/pay-commons/txflow/flow"
	"github.com/pay-commons/txflow/pkg/logger"
)

// ErrPreTransactionalAfterTransactional is returned by Run when a PreTransactional operation is
// scheduled after a Transactional one.
var ErrPreTransactionalAfterTransactional = errors.New("pre-transactional operation scheduled after a transactional one")

// Bindable is a flow.Context carrying the context.Context operations use for datastore access.
// flow.TransactionContext implements it.
type Bindable interface {
	flow.Context
	Ambient() context.Context
	Bind(ctx context.Context) context.Context
}

type runnerConfig struct {
	lggr      logger.Logger
	reporter  flow.Reporter
	observers []flow.Observer
}

// RunnerOption configures a Runner.
type RunnerOption func(*runnerConfig)

// WithLogger sets the logger of the runner and of the flows it creates.
func WithLogger(lggr logger.Logger) RunnerOption {
	return func(c *runnerConfig) {
		c.lggr = lggr
	}
}

// WithReporter records step reports of every run in r.
func WithReporter(r flow.Reporter) RunnerOption {
	return func(c *runnerConfig) {
		c.reporter = r
	}
}

// WithObserver adds an observer to every flow created by the runner.
func WithObserver(o flow.Observer) RunnerOption {
	return func(c *runnerConfig) {
		c.observers = append(c.observers, o)
	}
}

// Runner executes units of work, opening a datastore transaction around every Transactional
// operation.
type Runner[C Bindable] struct {
	store     datastore.Transactional
	lggr      logger.Logger
	reporter  flow.Reporter
	observers []flow.Observer
}

func NewRunner[C Bindable](store datastore.Transactional, opts ...RunnerOption) *Runner[C] {
	cfg := runnerConfig{lggr: logger.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Runner[C]{
		store:     store,
		lggr:      cfg.lggr,
		reporter:  cfg.reporter,
		observers: cfg.observers,
	}
}

// Wrap returns op adapted to the runner's transaction handling. Transactional operations are run
// inside store.WithTransaction: the transaction context is bound to C while op applies and the
// previous one is restored afterwards. A commit failure is returned by Apply, so the flow sees a
// conflict detected at commit time like any other. Other intents, and nil operations, are returned
// unchanged.
func (r *Runner[C]) Wrap(op flow.Operation[C]) flow.Operation[C] {
	if flow.IsNilOperation(op) || op.Intent() != flow.IntentTransactional {
		return op
	}

	var wrapped flow.Operation[C] = &txOperation[C]{Operation: op, store: r.store}
	if d, ok := op.(flow.Defined); ok {
		wrapped = flow.WithDefinition(d.Def(), wrapped)
	}

	return wrapped
}

// Run executes ops in order against c as one unit of work and completes the flow. ctx is bound to c
// for the duration of the run.
//
// The ordering of the operations is validated before anything runs: a PreTransactional operation
// may not follow a Transactional one.
func (r *Runner[C]) Run(ctx context.Context, c C, ops ...flow.Operation[C]) (C, error) {
	if isNilContext(c) {
		return c, flow.ErrNilContext
	}
	if err := validateOrder(ops); err != nil {
		return c, err
	}

	unitOfWork := ksuid.New().String()
	lggr := r.lggr.With("unitOfWork", unitOfWork)

	if ctx != nil {
		prev := c.Bind(ctx)
		defer c.Bind(prev)
	}

	opts := []flow.FlowOption{flow.WithLogger(r.lggr), flow.WithUnitOfWork(unitOfWork)}
	if r.reporter != nil {
		opts = append(opts, flow.WithReporter(r.reporter))
	}
	for _, o := range r.observers {
		opts = append(opts, flow.WithObserver(o))
	}

	lggr.Infow("Starting unit of work", "operations", len(ops))

	f := flow.New(c, opts...)
	for _, op := range ops {
		f.ExecuteNext(r.Wrap(op))
	}

	out, err := f.Complete()
	if err != nil {
		lggr.Warnw("Unit of work failed", "error", err)
		return out, err
	}
	lggr.Infow("Unit of work completed")

	return out, nil
}

func validateOrder[C Bindable](ops []flow.Operation[C]) error {
	transactional := false
	for i, op := range ops {
		if flow.IsNilOperation(op) {
			// rejected by the flow when its turn comes
			continue
		}

		switch op.Intent() {
		case flow.IntentTransactional:
			transactional = true
		case flow.IntentPreTransactional:
			if transactional {
				return fmt.Errorf("operation %d: %w", i+1, ErrPreTransactionalAfterTransactional)
			}
		case flow.IntentNonTransactional:
		}
	}

	return nil
}

type txOperation[C Bindable] struct {
	flow.Operation[C]
	store datastore.Transactional
}

func (o *txOperation[C]) Apply(c C) (flow.Option[any], error) {
	result := flow.None[any]()

	err := o.store.WithTransaction(c.Ambient(), func(txCtx context.Context) error {
		prev := c.Bind(txCtx)
		defer c.Bind(prev)

		var err error
		result, err = o.Operation.Apply(c)

		return err
	})
	if err != nil {
		return flow.None[any](), err
	}

	return result, nil
}

func isNilContext[C Bindable](c C) bool {
	v := reflect.ValueOf(c)
	if !v.IsValid() {
		return true
	}

	return v.Kind() == reflect.Pointer && v.IsNil()
}
