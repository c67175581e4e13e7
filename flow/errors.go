package flow

import "errors"

var (
	// ErrInvalidOperation is returned by a step given a nil operation. Nothing is executed.
	ErrInvalidOperation = errors.New("operation must not be nil")

	// ErrNilContext is the failure of a flow constructed over a nil context.
	ErrNilContext = errors.New("flow context must not be nil")

	// ErrTransactionalConflict matches every *TransactionalError with errors.Is.
	ErrTransactionalConflict = errors.New("transactional conflict")
)

// TransactionalError is returned when an operation hits a datastore version conflict, i.e. a record
// it changed was modified concurrently. Cause is the conflict reported by the datastore.
type TransactionalError struct {
	Message string
	Cause   error
}

func (e *TransactionalError) Error() string {
	if e.Cause == nil {
		return e.Message
	}

	return e.Message + ": " + e.Cause.Error()
}

func (e *TransactionalError) Unwrap() error {
	return e.Cause
}

func (e *TransactionalError) Is(target error) bool {
	return target == ErrTransactionalConflict
}
