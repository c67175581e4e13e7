// Package flowtest provides utilities for flow testing.
package flowtest

import (
	"testing"

	"github.com/pay-commons/txflow/flow"
	"github.com/pay-commons/txflow/pkg/logger"
)

// RecordingContext is a flow.Context that records every Put, in order.
type RecordingContext struct {
	Puts []any
}

var _ flow.Context = &RecordingContext{}

func (c *RecordingContext) Put(value any) {
	c.Puts = append(c.Puts, value)
}

// NewFlow creates a flow over c for testing, with a test logger and a memory reporter which is
// returned as well.
func NewFlow[C flow.Context](t *testing.T, c C) (*flow.Flow[C], *flow.MemoryReporter) {
	t.Helper()

	reporter := flow.NewMemoryReporter()

	return flow.New(c, flow.WithLogger(logger.Test(t)), flow.WithReporter(reporter)), reporter
}

// Value returns an operation body producing v.
func Value[C flow.Context, T any](v T) func(C) (flow.Option[T], error) {
	return func(C) (flow.Option[T], error) {
		return flow.Some(v), nil
	}
}

// Nothing returns an operation body producing no value.
func Nothing[C flow.Context, T any]() func(C) (flow.Option[T], error) {
	return func(C) (flow.Option[T], error) {
		return flow.None[T](), nil
	}
}

// Failing returns an operation body failing with err.
func Failing[C flow.Context, T any](err error) func(C) (flow.Option[T], error) {
	return func(C) (flow.Option[T], error) {
		return flow.None[T](), err
	}
}
