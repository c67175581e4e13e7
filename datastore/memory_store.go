package datastore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

var _ TransactionalStore = &MemoryStore{}

// MemoryStore is an in-memory TransactionalStore.
//
// Writes made inside a transaction are buffered in the transaction and applied on commit. The commit
// checks every record the transaction wrote against the version it was based on and fails with
// ErrVersionConflict if another writer committed first.
//
// Deleting a record leaves a tombstone with the next version of its key, so versions never repeat
// for a key. Tombstones are kept for the life of the store.
type MemoryStore struct {
	mu           sync.RWMutex // protects all fields below
	records      map[string]Record
	tombstones   map[string]uint64
	transactions map[*transaction]struct{}
}

// transaction holds the changes made during a transaction. It is owned by the goroutine running the
// transaction logic.
type transaction struct {
	writes map[string]Record
	// deletes holds the tombstone version of every key deleted in the transaction.
	deletes map[string]uint64
	// based records, per touched key, the committed version the change was based on: the record
	// version, the tombstone version, or 0 for a key never written.
	based map[string]uint64
}

type memoryTxKey struct {
	store *MemoryStore
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:      make(map[string]Record),
		tombstones:   make(map[string]uint64),
		transactions: make(map[*transaction]struct{}),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) WithTransaction(ctx context.Context, fn TransactionLogic) (err error) {
	if s.getTransactionFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx := s.beginTransaction()
	txCtx := context.WithValue(ctx, memoryTxKey{store: s}, tx)

	defer func() {
		if r := recover(); r != nil {
			// rollback before re-panicking
			_ = s.rollbackTransaction(tx)
			panic(r)
		}
	}()

	if err = fn(txCtx); err != nil {
		if rbErr := s.rollbackTransaction(tx); rbErr != nil {
			return errors.Join(err, rbErr)
		}

		return err
	}

	return s.commitTransaction(tx)
}

func (s *MemoryStore) Get(ctx context.Context, key string) (Record, error) {
	return s.lookup(ctx, key, false)
}

func (s *MemoryStore) GetIgnoringTransactions(ctx context.Context, key string) (Record, error) {
	return s.lookup(ctx, key, true)
}

func (s *MemoryStore) Keys(ctx context.Context) ([]string, error) {
	tx := s.getTransactionFromContext(ctx)

	s.mu.RLock()
	keys := make(map[string]struct{}, len(s.records))
	for k := range s.records {
		keys[k] = struct{}{}
	}
	s.mu.RUnlock()

	if tx != nil {
		for k := range tx.writes {
			keys[k] = struct{}{}
		}
		for k := range tx.deletes {
			delete(keys, k)
		}
	}

	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	slices.Sort(out)

	return out, nil
}

func (s *MemoryStore) Insert(ctx context.Context, key string, payload []byte) (Record, error) {
	if tx := s.getTransactionFromContext(ctx); tx != nil {
		if _, exists := tx.writes[key]; exists {
			return Record{}, fmt.Errorf("key %q: %w", key, ErrRecordExists)
		}

		prev, deleted := tx.deletes[key]
		if !deleted {
			version, live := s.lastVersion(key)
			if live {
				return Record{}, fmt.Errorf("key %q: %w", key, ErrRecordExists)
			}
			tx.basedOn(key, version)
			prev = version
		}

		record := Record{Key: key, Version: prev + 1, Payload: slices.Clone(payload)}
		delete(tx.deletes, key)
		tx.writes[key] = record

		return record.Clone(), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[key]; exists {
		return Record{}, fmt.Errorf("key %q: %w", key, ErrRecordExists)
	}
	record := Record{Key: key, Version: s.tombstones[key] + 1, Payload: slices.Clone(payload)}
	delete(s.tombstones, key)
	s.records[key] = record

	return record.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, record Record) (Record, error) {
	next := Record{Key: record.Key, Version: record.Version + 1, Payload: slices.Clone(record.Payload)}

	if tx := s.getTransactionFromContext(ctx); tx != nil {
		current, err := s.lookup(ctx, record.Key, false)
		if err != nil {
			return Record{}, err
		}
		if current.Version != record.Version {
			return Record{}, newVersionConflict(record.Key, current.Version, record.Version)
		}
		tx.basedOn(record.Key, current.Version)
		tx.writes[record.Key] = next

		return next.Clone(), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.records[record.Key]
	if !exists {
		return Record{}, fmt.Errorf("key %q: %w", record.Key, ErrRecordNotFound)
	}
	if current.Version != record.Version {
		return Record{}, newVersionConflict(record.Key, current.Version, record.Version)
	}
	s.records[record.Key] = next

	return next.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, record Record) error {
	if tx := s.getTransactionFromContext(ctx); tx != nil {
		current, err := s.lookup(ctx, record.Key, false)
		if err != nil {
			return err
		}
		if current.Version != record.Version {
			return newVersionConflict(record.Key, current.Version, record.Version)
		}
		tx.basedOn(record.Key, current.Version)
		delete(tx.writes, record.Key)
		tx.deletes[record.Key] = current.Version + 1

		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.records[record.Key]
	if !exists {
		return fmt.Errorf("key %q: %w", record.Key, ErrRecordNotFound)
	}
	if current.Version != record.Version {
		return newVersionConflict(record.Key, current.Version, record.Version)
	}
	delete(s.records, record.Key)
	s.tombstones[record.Key] = current.Version + 1

	return nil
}

// lastVersion returns the last committed version of key, counting tombstones, and whether a live
// record holds it.
func (s *MemoryStore) lastVersion(key string) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, live := s.records[key]

	return s.versionLocked(key), live
}

// versionLocked is the last version key reached. Callers hold s.mu.
func (s *MemoryStore) versionLocked(key string) uint64 {
	if record, exists := s.records[key]; exists {
		return record.Version
	}

	return s.tombstones[key]
}

func (s *MemoryStore) lookup(ctx context.Context, key string, ignoreTransactions bool) (Record, error) {
	// Check transaction first if not ignoring transactions
	if !ignoreTransactions {
		if tx := s.getTransactionFromContext(ctx); tx != nil {
			if _, deleted := tx.deletes[key]; deleted {
				return Record{}, fmt.Errorf("key %q: %w", key, ErrRecordNotFound)
			}
			if record, exists := tx.writes[key]; exists {
				return record.Clone(), nil
			}
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[key]
	if !exists {
		return Record{}, fmt.Errorf("key %q: %w", key, ErrRecordNotFound)
	}

	return record.Clone(), nil
}

// basedOn remembers the committed version of key the first time the transaction touches it. Later
// touches see the transaction's own write, so only the first observation is a committed version.
func (tx *transaction) basedOn(key string, version uint64) {
	if _, seen := tx.based[key]; seen {
		return
	}
	tx.based[key] = version
}

// Transaction management
func (s *MemoryStore) beginTransaction() *transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		writes:  make(map[string]Record),
		deletes: make(map[string]uint64),
		based:   make(map[string]uint64),
	}
	s.transactions[tx] = struct{}{}

	return tx
}

func (s *MemoryStore) commitTransaction(tx *transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactions[tx]; !exists {
		return errors.New("transaction not found")
	}
	delete(s.transactions, tx)

	// Validate before applying anything, the commit is all or nothing.
	for key, version := range tx.based {
		if stored := s.versionLocked(key); stored != version {
			return newVersionConflict(key, stored, version)
		}
	}

	for key, record := range tx.writes {
		s.records[key] = record
		delete(s.tombstones, key)
	}
	for key, version := range tx.deletes {
		delete(s.records, key)
		s.tombstones[key] = version
	}

	return nil
}

func (s *MemoryStore) rollbackTransaction(tx *transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactions[tx]; !exists {
		return errors.New("transaction not found")
	}
	delete(s.transactions, tx)

	return nil
}

// Helper to get transaction from context
func (s *MemoryStore) getTransactionFromContext(ctx context.Context) *transaction {
	tx, ok := ctx.Value(memoryTxKey{store: s}).(*transaction)
	if !ok {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.transactions[tx]; exists {
		return tx
	}

	return nil
}
