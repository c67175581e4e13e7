package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/lib/pq"

	"github.com/pay-commons/txflow/pkg/logger"
)

const DriverPostgres = "postgres"

// Deleted records stay in the table as tombstones carrying their last version, so a key that is
// deleted and inserted again keeps counting up and a record read before the delete can never match.
const (
	schemaRecords = `CREATE TABLE IF NOT EXISTS txflow_records (
		record_key   TEXT PRIMARY KEY,
		row_version  BIGINT NOT NULL,
		tombstone    BOOLEAN NOT NULL,
		payload      BYTEA
	)`

	selectRecordSQL = `SELECT row_version, tombstone, payload FROM txflow_records WHERE record_key = $1`
	selectKeysSQL   = `SELECT record_key, tombstone FROM txflow_records`
	insertRecordSQL = `INSERT INTO txflow_records (record_key, row_version, tombstone, payload) VALUES ($1, $2, $3, $4)`
	updateRecordSQL = `UPDATE txflow_records SET row_version = $1, tombstone = $2, payload = $3 WHERE record_key = $4 AND row_version = $5`
)

// postgres SQLSTATE codes
const (
	pqSerializationFailure = "40001"
	pqUniqueViolation      = "23505"
)

var _ TransactionalStore = &SQLStore{}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlTxKey struct {
	store *SQLStore
}

// SQLStore is a TransactionalStore backed by a database/sql connection pool. Every write first reads
// the row and checks its version, then runs an UPDATE guarded on row_version so a writer that slipped
// in between is still reported as a conflict. The transaction of a WithTransaction call is
// carried in the context, so concurrent units of work may share one SQLStore.
type SQLStore struct {
	db   *sql.DB
	lggr logger.Logger
}

// NewSQLStore wraps an open database handle. Call Migrate before first use on an empty database.
func NewSQLStore(db *sql.DB, lggr logger.Logger) *SQLStore {
	return &SQLStore{db: db, lggr: lggr}
}

// OpenSQL opens a database with the given driver and waits until it answers a ping, retrying up
// to attempts times with backoff.
func OpenSQL(ctx context.Context, driver, dsn string, attempts uint, lggr logger.Logger) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	// retry-go treats 0 attempts as unlimited
	attempts = max(attempts, 1)

	err = retry.Do(
		func() error {
			return db.PingContext(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			lggr.Infow("Database not reachable. Retrying...", "driver", driver, "attempt", attempt, "error", err)
		}),
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	return NewSQLStore(db, lggr), nil
}

// Migrate creates the records table if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaRecords); err != nil {
		return fmt.Errorf("failed to create records schema: %w", err)
	}

	return nil
}

// Close closes the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) WithTransaction(ctx context.Context, fn TransactionLogic) (err error) {
	if _, ok := ctx.Value(sqlTxKey{store: s}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			// rollback before re-panicking
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err = fn(context.WithValue(ctx, sqlTxKey{store: s}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}

		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", translateSQLError(err))
	}

	return nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (Record, error) {
	return s.get(ctx, s.q(ctx), key)
}

func (s *SQLStore) GetIgnoringTransactions(ctx context.Context, key string) (Record, error) {
	return s.get(ctx, s.db, key)
}

func (s *SQLStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.q(ctx).QueryContext(ctx, selectKeysSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query keys: %w", translateSQLError(err))
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var (
			key       string
			tombstone bool
		)
		if err := rows.Scan(&key, &tombstone); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		if !tombstone {
			keys = append(keys, key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate keys: %w", err)
	}
	slices.Sort(keys)

	return keys, nil
}

func (s *SQLStore) Insert(ctx context.Context, key string, payload []byte) (Record, error) {
	q := s.q(ctx)
	row, err := s.load(ctx, q, key)
	if err != nil {
		return Record{}, err
	}
	if row.found && !row.tombstone {
		return Record{}, fmt.Errorf("key %q: %w", key, ErrRecordExists)
	}

	record := Record{Key: key, Version: row.version + 1, Payload: normalizePayload(payload)}
	if row.found {
		// revive the tombstone, keeping the version sequence of the key
		if err := s.write(ctx, q, record, false, row.version); err != nil {
			return Record{}, err
		}
	} else if _, err := q.ExecContext(ctx, insertRecordSQL, key, int64(1), false, payloadArg(record.Payload)); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return Record{}, fmt.Errorf("key %q: %w", key, ErrRecordExists)
		}

		return Record{}, fmt.Errorf("failed to insert record %q: %w", key, translateSQLError(err))
	}
	s.lggr.Debugw("Inserted record", "key", key, "version", record.Version)

	return record.Clone(), nil
}

func (s *SQLStore) Update(ctx context.Context, record Record) (Record, error) {
	q := s.q(ctx)
	if err := s.checkCurrent(ctx, q, record); err != nil {
		return Record{}, err
	}

	next := Record{Key: record.Key, Version: record.Version + 1, Payload: normalizePayload(record.Payload)}
	if err := s.write(ctx, q, next, false, record.Version); err != nil {
		return Record{}, err
	}
	s.lggr.Debugw("Updated record", "key", record.Key, "version", next.Version)

	return next.Clone(), nil
}

func (s *SQLStore) Delete(ctx context.Context, record Record) error {
	q := s.q(ctx)
	if err := s.checkCurrent(ctx, q, record); err != nil {
		return err
	}

	tombstone := Record{Key: record.Key, Version: record.Version + 1}
	if err := s.write(ctx, q, tombstone, true, record.Version); err != nil {
		return err
	}
	s.lggr.Debugw("Deleted record", "key", record.Key, "version", record.Version)

	return nil
}

// storedRow is a row of txflow_records. found is false when the key was never written.
type storedRow struct {
	found     bool
	version   uint64
	tombstone bool
	payload   []byte
}

// checkCurrent fails unless record is the live record stored under its key.
func (s *SQLStore) checkCurrent(ctx context.Context, q querier, record Record) error {
	row, err := s.load(ctx, q, record.Key)
	if err != nil {
		return err
	}
	if !row.found || row.tombstone {
		return fmt.Errorf("key %q: %w", record.Key, ErrRecordNotFound)
	}
	if row.version != record.Version {
		return newVersionConflict(record.Key, row.version, record.Version)
	}

	return nil
}

// write stores record over the row that was read at version based. A row that moved on since it
// was read is reported as a version conflict.
func (s *SQLStore) write(ctx context.Context, q querier, record Record, tombstone bool, based uint64) error {
	var payload any
	if !tombstone {
		payload = payloadArg(record.Payload)
	}

	res, err := q.ExecContext(ctx, updateRecordSQL,
		int64(record.Version), tombstone, payload, record.Key, int64(based)) //nolint:gosec // versions stay far below MaxInt64
	if err != nil {
		return fmt.Errorf("failed to write record %q: %w", record.Key, translateSQLError(err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}

	row, err := s.load(ctx, q, record.Key)
	if err != nil {
		return err
	}

	return newVersionConflict(record.Key, row.version, based)
}

func (s *SQLStore) get(ctx context.Context, q querier, key string) (Record, error) {
	row, err := s.load(ctx, q, key)
	if err != nil {
		return Record{}, err
	}
	if !row.found || row.tombstone {
		return Record{}, fmt.Errorf("key %q: %w", key, ErrRecordNotFound)
	}

	return Record{Key: key, Version: row.version, Payload: row.payload}, nil
}

func (s *SQLStore) load(ctx context.Context, q querier, key string) (storedRow, error) {
	var (
		version   int64
		tombstone bool
		payload   []byte
	)
	err := q.QueryRowContext(ctx, selectRecordSQL, key).Scan(&version, &tombstone, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return storedRow{}, nil
	}
	if err != nil {
		return storedRow{}, fmt.Errorf("failed to get record %q: %w", key, translateSQLError(err))
	}

	return storedRow{
		found:     true,
		version:   uint64(version), //nolint:gosec // row_version is never negative
		tombstone: tombstone,
		payload:   normalizePayload(payload),
	}, nil
}

// normalizePayload copies p and maps an empty payload to nil, since drivers disagree on whether an
// empty BYTEA reads back as NULL.
func normalizePayload(p []byte) []byte {
	if len(p) == 0 {
		return nil
	}

	return slices.Clone(p)
}

// payloadArg binds a missing payload as NULL.
func payloadArg(p []byte) any {
	if p == nil {
		return nil
	}

	return p
}

// q returns the transaction carried by ctx, or the pool when there is none.
func (s *SQLStore) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(sqlTxKey{store: s}).(*sql.Tx); ok {
		return tx
	}

	return s.db
}

// translateSQLError reports postgres serialization failures as version conflicts.
func translateSQLError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqSerializationFailure {
		return fmt.Errorf("%w: %w", ErrVersionConflict, err)
	}

	return err
}
