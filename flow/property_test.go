package flow_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/pay-commons/txflow/datastore"
	"github.com/pay-commons/txflow/flow"
	"github.com/pay-commons/txflow/flow/flowtest"
)

const (
	stepValue = iota
	stepNone
	stepConflict
	stepFailure
	stepNil
	stepKinds
)

var errDeclined = errors.New("declined")

// stepFor builds the i-th operation of a generated sequence.
func stepFor(kind, i int) flow.Operation[recCtx] {
	intent := []func(func(recCtx) (flow.Option[string], error)) flow.Operation[recCtx]{
		flow.NonTransactional[recCtx, string],
		flow.Transactional[recCtx, string],
		flow.PreTransactional[recCtx, string],
	}[i%3]

	switch kind {
	case stepValue:
		return intent(flowtest.Value[recCtx](fmt.Sprintf("v%d", i)))
	case stepNone:
		return intent(flowtest.Nothing[recCtx, string]())
	case stepConflict:
		return intent(flowtest.Failing[recCtx, string](fmt.Errorf("%w: step %d", datastore.ErrVersionConflict, i)))
	case stepFailure:
		return intent(flowtest.Failing[recCtx, string](errDeclined))
	default:
		return nil
	}
}

func TestFlowProperties(t *testing.T) {
	t.Parallel()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("context holds exactly the values produced before the first failure", prop.ForAll(
		func(kinds []int) bool {
			c := &flowtest.RecordingContext{}
			f := flow.New(c)

			var want []any
			failed := false
			for i, kind := range kinds {
				f.ExecuteNext(stepFor(kind, i))
				if failed {
					continue
				}
				switch kind {
				case stepValue:
					want = append(want, fmt.Sprintf("v%d", i))
				case stepConflict, stepFailure, stepNil:
					failed = true
				}
			}

			if len(want) != len(c.Puts) {
				return false
			}
			for i := range want {
				if want[i] != c.Puts[i] {
					return false
				}
			}

			_, err := f.Complete()
			return failed == (err != nil)
		},
		gen.SliceOf(gen.IntRange(0, stepKinds-1)),
	))

	properties.Property("complete returns the same context", prop.ForAll(
		func(kinds []int) bool {
			c := &flowtest.RecordingContext{}
			f := flow.New(c)
			for i, kind := range kinds {
				f.ExecuteNext(stepFor(kind, i))
			}

			first, _ := f.Complete()
			second, _ := f.Complete()

			return first == c && second == c
		},
		gen.SliceOf(gen.IntRange(0, stepKinds-1)),
	))

	properties.Property("failures are classified by kind", prop.ForAll(
		func(prefix int, kind int) bool {
			c := &flowtest.RecordingContext{}
			f := flow.New(c)
			for i := range prefix {
				f.ExecuteNext(stepFor(stepValue, i))
			}
			before := len(c.Puts)

			err := f.ExecuteNext(stepFor(kind, prefix)).Err()
			if len(c.Puts) != before {
				return false
			}

			switch kind {
			case stepConflict:
				var txErr *flow.TransactionalError
				return errors.As(err, &txErr) && errors.Is(txErr.Cause, datastore.ErrVersionConflict)
			case stepFailure:
				return err == errDeclined //nolint:errorlint // identity is the property
			default:
				return errors.Is(err, flow.ErrInvalidOperation) && !errors.Is(err, flow.ErrTransactionalConflict)
			}
		},
		gen.IntRange(0, 10),
		gen.OneConstOf(stepConflict, stepFailure, stepNil),
	))

	properties.TestingRun(t)
}
