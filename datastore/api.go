package datastore

import (
	"context"
	"slices"
)

// TransactionLogic is the unit of work run by WithTransaction. The context it receives carries the
// transaction; store calls made with that context participate in it.
type TransactionLogic func(ctx context.Context) error

// Transactional is an interface which supports keeping datastore operations within transactional
// boundaries.
//
// WithTransaction commits when fn returns nil and rolls back otherwise. When ctx already carries a
// transaction of the same store, fn joins it and nothing is committed until the outermost call returns.
type Transactional interface {
	WithTransaction(ctx context.Context, fn TransactionLogic) error
}

// Record is a versioned value. Version is assigned by the store and only ever grows for a key: 1 on
// the first insert, incremented on every successful update or delete. A key inserted again after a
// delete continues from the version its deletion left behind.
type Record struct {
	Key     string `json:"key"`
	Version uint64 `json:"version"`
	Payload []byte `json:"payload"`
}

// Clone returns a copy of the record that does not share the payload buffer.
func (r Record) Clone() Record {
	return Record{
		Key:     r.Key,
		Version: r.Version,
		Payload: slices.Clone(r.Payload),
	}
}

// Store is a keyed record store using optimistic locking. Update and Delete take the record as it was
// read; if the stored version moved on in the meantime they fail with ErrVersionConflict.
type Store interface {
	// Get returns the record with the given key, as seen from the transaction in ctx if any.
	Get(ctx context.Context, key string) (Record, error)
	// GetIgnoringTransactions returns the committed record, ignoring writes performed within the
	// transaction in ctx.
	GetIgnoringTransactions(ctx context.Context, key string) (Record, error)
	// Keys returns all keys in lexical order.
	Keys(ctx context.Context) ([]string, error)
	// Insert creates a record, or fails with ErrRecordExists.
	Insert(ctx context.Context, key string, payload []byte) (Record, error)
	// Update replaces the payload of the record, returning the record at its new version.
	Update(ctx context.Context, record Record) (Record, error)
	// Delete removes the record.
	Delete(ctx context.Context, record Record) error
}

// TransactionalStore is a convenience interface for stores that also manage transactions.
type TransactionalStore interface {
	Store
	Transactional
	Close() error
}
