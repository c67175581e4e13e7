/*
Package flow runs a sequence of operations against one shared context, storing every result an
operation produces back into that context.

# Core Components

Context:
  - A mutable keyed holder of the state accumulated across a unit of work
  - TransactionContext keys values by their dynamic type, the last write for a type wins
  - Carries the ambient context.Context operations use to reach the datastore

Operation:
  - A single method unit of work: given the context, produce an optional result
  - Three intents (NonTransactional, Transactional, PreTransactional) mark when the operation expects
    to run relative to a datastore transaction; the flow itself treats them identically
  - Results are Option values, None means there is nothing to store

Flow:
  - Executes one operation at a time, in call order, each seeing the results of all prior steps
  - Translates datastore version conflicts into a TransactionalError
  - Failures are sticky: once a step fails, later steps are skipped and Complete returns the failure

Reporter and Observer:
  - Record a StepReport per executed step and feed step outcomes to metrics

# Basic Usage

	tc := flow.NewTransactionContext(ctx)

	final, err := flow.New(tc, flow.WithLogger(lggr)).
		ExecuteNext(flow.PreTransactional(validateRequest)).
		ExecuteNext(flow.Transactional(captureCharge)).
		ExecuteNext(flow.NonTransactional(buildResponse)).
		Complete()
	if errors.Is(err, flow.ErrTransactionalConflict) {
		// the charge was modified concurrently
	}

Transaction boundaries are not managed here, see package session for the wiring that opens a
datastore transaction around Transactional operations.
*/
package flow
