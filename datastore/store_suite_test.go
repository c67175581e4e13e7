package datastore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreSuite exercises the Store contract against any implementation.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) TransactionalStore) {
	t.Helper()

	t.Run("insert then get", func(t *testing.T) {
		t.Parallel()

		s := newStore(t)
		ctx := t.Context()

		rec, err := s.Insert(ctx, "charge-1", []byte(`{"amount":100}`))
		require.NoError(t, err)
		assert.Equal(t, uint64(1), rec.Version)

		got, err := s.Get(ctx, "charge-1")
		require.NoError(t, err)
		assert.Equal(t, rec, got)
	})

	t.Run("insert existing key", func(t *testing.T) {
		t.Parallel()

		s := newStore(t)
		ctx := t.Context()

		_, err := s.Insert(ctx, "charge-1", []byte("a"))
		require.NoError(t, err)

		_, err = s.Insert(ctx, "charge-1", []byte("b"))
		require.ErrorIs(t, err, ErrRecordExists)
	})

	t.Run("get missing key", func(t *testing.T) {
		t.Parallel()

		s := newStore(t)

		_, err := s.Get(t.Context(), "missing")
		require.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("update bumps version", func(t *testing.T) {
		t.Parallel()

		s := newStore(t)
		ctx := t.Context()

		rec, err := s.Insert(ctx, "charge-1", []byte("created"))
		require.NoError(t, err)

		rec.Payload = []byte("captured")
		updated, err := s.Update(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), updated.Version)

		got, err := s.Get(ctx, "charge-1")
		require.NoError(t, err)
		assert.Equal(t, "captured", string(got.Payload))
		assert.Equal(t, uint64(2), got.Version)
	})

	t.Run("update with stale version conflicts", func(t *testing.T) {
		t.Parallel()

		s := newStore(t)
		ctx := t.Context()

		rec, err := s.Insert(ctx, "charge-1", []byte("created"))
		require.NoError(t, err)

		first := rec
		first.Payload = []byte("captured")
		_, err = s.Update(ctx, first)
		require.NoError(t, err)

		second := rec
		second.Payload = []byte("cancelled")
		_, err = s.Update(ctx, second)
		require.ErrorIs(t, err, ErrVersionConflict)

		got, err := s.Get(ctx, "charge-1")
		require.NoError(t, err)
		assert.Equal(t, "captured", string(got.Payload))
	})

	t.Run("update missing key", func(t *testing.T) {
		t.Parallel()

		s := newStore(t)

		_, err := s.Update(t.Context(), Record{Key: "missing", Version: 1})
		require.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		t.Parallel()

		s := newStore(t)
		ctx := t.Context()

		rec, err := s.Insert(ctx, "charge-1", []byte("created"))
		require.NoError(t, err)

		require.ErrorIs(t, s.Delete(ctx, Record{Key: "charge-1", Version: 7}), ErrVersionConflict)
		require.NoError(t, s.Delete(ctx, rec))

		_, err = s.Get(ctx, "charge-1")
		require.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("keys sorted", func(t *testing.T) {
		t.Parallel()

		s := newStore(t)
		ctx := t.Context()

		for _, k := range []string{"c", "a", "b"} {
			_, err := s.Insert(ctx, k, nil)
			require.NoError(t, err)
		}

		keys, err := s.Keys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, keys)
	})

	t.Run("delete missing key", func(t *testing.T) {
		t.Parallel()

		s := newStore(t)
		ctx := t.Context()

		rec, err := s.Insert(ctx, "charge-1", nil)
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, rec))

		require.ErrorIs(t, s.Delete(ctx, rec), ErrRecordNotFound)
		require.ErrorIs(t, s.Delete(ctx, Record{Key: "missing", Version: 1}), ErrRecordNotFound)
	})

	t.Run("reinsert after delete keeps versions increasing", func(t *testing.T) {
		t.Parallel()

		s := newStore(t)
		ctx := t.Context()

		stale, err := s.Insert(ctx, "charge-1", []byte("created"))
		require.NoError(t, err)

		updated, err := s.Update(ctx, Record{Key: "charge-1", Version: stale.Version, Payload: []byte("captured")})
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, updated))

		again, err := s.Insert(ctx, "charge-1", []byte("created"))
		require.NoError(t, err)
		assert.Equal(t, uint64(4), again.Version)

		_, err = s.Update(ctx, stale)
		require.ErrorIs(t, err, ErrVersionConflict)
		require.ErrorIs(t, s.Delete(ctx, stale), ErrVersionConflict)

		got, err := s.Get(ctx, "charge-1")
		require.NoError(t, err)
		assert.Equal(t, again, got)
	})

	t.Run("keys skip deleted records", func(t *testing.T) {
		t.Parallel()

		s := newStore(t)
		ctx := t.Context()

		rec, err := s.Insert(ctx, "charge-1", nil)
		require.NoError(t, err)
		_, err = s.Insert(ctx, "refund-1", nil)
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, rec))

		keys, err := s.Keys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"refund-1"}, keys)
	})

	t.Run("binary payload round trips", func(t *testing.T) {
		t.Parallel()

		s := newStore(t)
		ctx := t.Context()

		payload := []byte{0x00, 0xff, 0xfe, 0x80, '\n'}
		rec, err := s.Insert(ctx, "charge-1", payload)
		require.NoError(t, err)

		got, err := s.Get(ctx, "charge-1")
		require.NoError(t, err)
		assert.Equal(t, payload, got.Payload)

		rec.Payload = []byte{0xc3, 0x28}
		_, err = s.Update(ctx, rec)
		require.NoError(t, err)

		got, err = s.Get(ctx, "charge-1")
		require.NoError(t, err)
		assert.Equal(t, []byte{0xc3, 0x28}, got.Payload)
	})
}

// runTransactionSuite exercises commit and rollback of WithTransaction. It needs an engine that
// really rolls back.
func runTransactionSuite(t *testing.T, newStore func(t *testing.T) TransactionalStore) {
	t.Helper()

	t.Run("transaction commits", func(t *testing.T) {
		t.Parallel()

		s := newStore(t)
		ctx := t.Context()

		err := s.WithTransaction(ctx, func(txCtx context.Context) error {
			_, err := s.Insert(txCtx, "charge-1", []byte("created"))
			return err
		})
		require.NoError(t, err)

		got, err := s.Get(ctx, "charge-1")
		require.NoError(t, err)
		assert.Equal(t, "created", string(got.Payload))
	})

	t.Run("transaction rolls back on error", func(t *testing.T) {
		t.Parallel()

		s := newStore(t)
		ctx := t.Context()

		rec, err := s.Insert(ctx, "charge-1", []byte("created"))
		require.NoError(t, err)

		failure := errors.New("gateway declined")
		err = s.WithTransaction(ctx, func(txCtx context.Context) error {
			rec.Payload = []byte("captured")
			if _, uErr := s.Update(txCtx, rec); uErr != nil {
				return uErr
			}

			return failure
		})
		require.ErrorIs(t, err, failure)

		got, err := s.Get(ctx, "charge-1")
		require.NoError(t, err)
		assert.Equal(t, "created", string(got.Payload))
		assert.Equal(t, uint64(1), got.Version)
	})

	t.Run("nested transaction joins outer", func(t *testing.T) {
		t.Parallel()

		s := newStore(t)
		ctx := t.Context()

		failure := errors.New("outer failure")
		err := s.WithTransaction(ctx, func(outer context.Context) error {
			innerErr := s.WithTransaction(outer, func(inner context.Context) error {
				_, err := s.Insert(inner, "charge-1", []byte("created"))
				return err
			})
			require.NoError(t, innerErr)

			return failure
		})
		require.ErrorIs(t, err, failure)

		_, err = s.Get(ctx, "charge-1")
		require.ErrorIs(t, err, ErrRecordNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	newStore := func(t *testing.T) TransactionalStore {
		t.Helper()
		return NewMemoryStore()
	}
	runStoreSuite(t, newStore)
	runTransactionSuite(t, newStore)
}
