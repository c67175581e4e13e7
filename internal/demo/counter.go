// Package demo holds a small unit of work incrementing a counter record. It is used by flowctl to
// exercise a store end to end.
package demo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/pay-commons/txflow/datastore"
	"github.com/pay-commons/txflow/flow"
	"github.com/pay-commons/txflow/session"
)

var ErrInvalidRequest = errors.New("invalid increment request")

// Request asks for the counter at Key to be incremented by By.
type Request struct {
	Key string `json:"key" yaml:"key"`
	By  int64  `json:"by" yaml:"by"`
}

// Counter is the counter record after the increment.
type Counter struct {
	Key      string `json:"key" yaml:"key"`
	Previous int64  `json:"previous" yaml:"previous"`
	Value    int64  `json:"value" yaml:"value"`
	Version  uint64 `json:"version" yaml:"version"`
}

// Summary is the human readable result of the unit of work.
type Summary struct {
	Message string `json:"message" yaml:"message"`
	Created bool   `json:"created" yaml:"created"`
}

type counterPayload struct {
	Value int64 `json:"value"`
}

var (
	ValidateDef = flow.Definition{
		ID:          "counter-validate",
		Version:     semver.MustParse("1.0.0"),
		Description: "Validates an increment request",
	}
	IncrementDef = flow.Definition{
		ID:          "counter-increment",
		Version:     semver.MustParse("1.1.0"),
		Description: "Creates or increments the counter record",
	}
	SummarizeDef = flow.Definition{
		ID:          "counter-summarize",
		Version:     semver.MustParse("1.0.0"),
		Description: "Describes the outcome of the increment",
	}
)

// Validate checks req before any transaction is opened and stores it in the context.
func Validate(req Request) flow.Operation[*flow.TransactionContext] {
	return flow.WithDefinition(ValidateDef, flow.PreTransactional(
		func(*flow.TransactionContext) (flow.Option[Request], error) {
			if req.Key == "" {
				return flow.None[Request](), fmt.Errorf("%w: key is empty", ErrInvalidRequest)
			}
			if req.By == 0 {
				return flow.None[Request](), fmt.Errorf("%w: increment of 0", ErrInvalidRequest)
			}

			return flow.Some(req), nil
		}))
}

// Increment applies the Request found in the context to the counter record, creating the record
// when missing. It must run within a transaction, the record is read and written through the
// context's ambient context.Context.
func Increment(store datastore.Store) flow.Operation[*flow.TransactionContext] {
	return flow.WithDefinition(IncrementDef, flow.Transactional(
		func(c *flow.TransactionContext) (flow.Option[Counter], error) {
			req, ok := flow.Get[Request](c)
			if !ok {
				return flow.None[Counter](), fmt.Errorf("%w: no request in context", ErrInvalidRequest)
			}

			counter, err := increment(c.Ambient(), store, req)
			if err != nil {
				return flow.None[Counter](), err
			}

			return flow.Some(counter), nil
		}))
}

// Summarize describes the Counter found in the context. It produces nothing when there is none.
func Summarize() flow.Operation[*flow.TransactionContext] {
	return flow.WithDefinition(SummarizeDef, flow.NonTransactional(
		func(c *flow.TransactionContext) (flow.Option[Summary], error) {
			counter, ok := flow.Get[Counter](c)
			if !ok {
				return flow.None[Summary](), nil
			}

			return flow.Some(Summary{
				Message: fmt.Sprintf("%s: %d -> %d (version %d)", counter.Key, counter.Previous, counter.Value, counter.Version),
				Created: counter.Version == 1,
			}), nil
		}))
}

// Run executes the unit of work for req with runner.
func Run(ctx context.Context, runner *session.Runner[*flow.TransactionContext], store datastore.Store, req Request) (*flow.TransactionContext, error) {
	return runner.Run(ctx, flow.NewTransactionContext(ctx),
		Validate(req),
		Increment(store),
		Summarize(),
	)
}

func increment(ctx context.Context, store datastore.Store, req Request) (Counter, error) {
	rec, err := store.Get(ctx, req.Key)
	if errors.Is(err, datastore.ErrRecordNotFound) {
		payload, mErr := json.Marshal(counterPayload{Value: req.By})
		if mErr != nil {
			return Counter{}, fmt.Errorf("failed to encode counter: %w", mErr)
		}

		created, iErr := store.Insert(ctx, req.Key, payload)
		if iErr != nil {
			return Counter{}, iErr
		}

		return Counter{Key: req.Key, Value: req.By, Version: created.Version}, nil
	}
	if err != nil {
		return Counter{}, err
	}

	var current counterPayload
	if err = json.Unmarshal(rec.Payload, &current); err != nil {
		return Counter{}, fmt.Errorf("failed to decode counter %s: %w", req.Key, err)
	}

	rec.Payload, err = json.Marshal(counterPayload{Value: current.Value + req.By})
	if err != nil {
		return Counter{}, fmt.Errorf("failed to encode counter: %w", err)
	}

	updated, err := store.Update(ctx, rec)
	if err != nil {
		return Counter{}, err
	}

	return Counter{
		Key:      req.Key,
		Previous: current.Value,
		Value:    current.Value + req.By,
		Version:  updated.Version,
	}, nil
}
