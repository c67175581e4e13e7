package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/pay-commons/txflow/datastore"
)

const (
	statusOK       = "ok"
	statusConflict = "conflict"
	statusNotFound = "not_found"
	statusExists   = "exists"
	statusError    = "error"
)

// InstrumentedStore records every operation of the wrapped store in the registry.
type InstrumentedStore struct {
	store    datastore.TransactionalStore
	registry *Registry
}

var _ datastore.TransactionalStore = (*InstrumentedStore)(nil)

func NewInstrumentedStore(store datastore.TransactionalStore, registry *Registry) *InstrumentedStore {
	return &InstrumentedStore{store: store, registry: registry}
}

func (s *InstrumentedStore) WithTransaction(ctx context.Context, fn datastore.TransactionLogic) error {
	start := time.Now()
	err := s.store.WithTransaction(ctx, fn)
	s.record("transaction", start, err)

	return err
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) (datastore.Record, error) {
	start := time.Now()
	rec, err := s.store.Get(ctx, key)
	s.record("get", start, err)

	return rec, err
}

func (s *InstrumentedStore) GetIgnoringTransactions(ctx context.Context, key string) (datastore.Record, error) {
	start := time.Now()
	rec, err := s.store.GetIgnoringTransactions(ctx, key)
	s.record("get", start, err)

	return rec, err
}

func (s *InstrumentedStore) Keys(ctx context.Context) ([]string, error) {
	start := time.Now()
	keys, err := s.store.Keys(ctx)
	s.record("keys", start, err)

	return keys, err
}

func (s *InstrumentedStore) Insert(ctx context.Context, key string, payload []byte) (datastore.Record, error) {
	start := time.Now()
	rec, err := s.store.Insert(ctx, key, payload)
	s.record("insert", start, err)

	return rec, err
}

func (s *InstrumentedStore) Update(ctx context.Context, record datastore.Record) (datastore.Record, error) {
	start := time.Now()
	rec, err := s.store.Update(ctx, record)
	s.record("update", start, err)

	return rec, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, record datastore.Record) error {
	start := time.Now()
	err := s.store.Delete(ctx, record)
	s.record("delete", start, err)

	return err
}

func (s *InstrumentedStore) Close() error {
	return s.store.Close()
}

func (s *InstrumentedStore) record(operation string, start time.Time, err error) {
	s.registry.RecordStoreOperation(operation, statusOf(err), time.Since(start))
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return statusOK
	case errors.Is(err, datastore.ErrVersionConflict):
		return statusConflict
	case errors.Is(err, datastore.ErrRecordNotFound):
		return statusNotFound
	case errors.Is(err, datastore.ErrRecordExists):
		return statusExists
	default:
		return statusError
	}
}
