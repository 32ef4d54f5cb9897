package state

import (
	"context"
	"errors"
	"testing"

	coreerrors "github.com/nickbax/ump-auction-test/core/errors"
	"github.com/nickbax/ump-auction-test/storage"
)

func newTestManager(t *testing.T) (*Manager, *storage.MemDB) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return NewManager(db), db
}

func TestAtomicCommitsOnSuccess(t *testing.T) {
	m, db := newTestManager(t)
	ctx := context.Background()
	if err := m.Atomic(ctx, "", func(ctx context.Context) error {
		return m.KVPut([]byte("counter"), uint64(7))
	}); err != nil {
		t.Fatalf("atomic: %v", err)
	}
	if db.Len() != 1 {
		t.Fatalf("expected one committed key, got %d", db.Len())
	}
	var got uint64
	err := m.View(ctx, func(context.Context) error {
		ok, err := m.KVGet([]byte("counter"), &got)
		if !ok {
			t.Fatalf("expected key to exist")
		}
		return err
	})
	if err != nil || got != 7 {
		t.Fatalf("unexpected value %d err=%v", got, err)
	}
}

func TestAtomicDiscardsOnError(t *testing.T) {
	m, db := newTestManager(t)
	boom := errors.New("boom")
	hookRan := false
	err := m.Atomic(context.Background(), "", func(ctx context.Context) error {
		if err := m.KVPut([]byte("a"), uint64(1)); err != nil {
			return err
		}
		m.OnCommit(ctx, func() { hookRan = true })
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if db.Len() != 0 {
		t.Fatalf("expected no committed keys, got %d", db.Len())
	}
	if hookRan {
		t.Fatalf("commit hook ran for failed transaction")
	}
}

func TestNestedFailureRollsBackOnlyInnerWrites(t *testing.T) {
	m, _ := newTestManager(t)
	var hooks []string
	err := m.Atomic(context.Background(), "", func(ctx context.Context) error {
		if err := m.KVPut([]byte("outer"), uint64(1)); err != nil {
			return err
		}
		m.OnCommit(ctx, func() { hooks = append(hooks, "outer") })
		innerErr := m.Atomic(ctx, "", func(ctx context.Context) error {
			if err := m.KVPut([]byte("outer"), uint64(2)); err != nil {
				return err
			}
			if err := m.KVPut([]byte("inner"), uint64(3)); err != nil {
				return err
			}
			m.OnCommit(ctx, func() { hooks = append(hooks, "inner") })
			return errors.New("inner failed")
		})
		if innerErr == nil {
			t.Fatalf("expected inner error")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("atomic: %v", err)
	}
	_ = m.View(context.Background(), func(context.Context) error {
		var outer uint64
		if ok, _ := m.KVGet([]byte("outer"), &outer); !ok || outer != 1 {
			t.Fatalf("expected outer=1, got %d (ok=%v)", outer, ok)
		}
		if ok, _ := m.KVGet([]byte("inner"), nil); ok {
			t.Fatalf("inner write should have been rolled back")
		}
		return nil
	})
	if len(hooks) != 1 || hooks[0] != "outer" {
		t.Fatalf("unexpected hooks %v", hooks)
	}
}

func TestAtomicRejectsReentrantGuard(t *testing.T) {
	m, _ := newTestManager(t)
	var inner error
	err := m.Atomic(context.Background(), "escrow/1", func(ctx context.Context) error {
		inner = m.Atomic(ctx, "escrow/1", func(context.Context) error { return nil })
		return m.Atomic(ctx, "escrow/2", func(context.Context) error { return nil })
	})
	if err != nil {
		t.Fatalf("unexpected outer error: %v", err)
	}
	if !errors.Is(inner, coreerrors.ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall, got %v", inner)
	}
}

func TestGuardReleasedAfterNestedCall(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.Atomic(context.Background(), "", func(ctx context.Context) error {
		for i := 0; i < 2; i++ {
			if err := m.Atomic(ctx, "house", func(context.Context) error { return nil }); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("sequential nested guards should succeed: %v", err)
	}
}

func TestNowIsFixedPerTransaction(t *testing.T) {
	m, _ := newTestManager(t)
	tick := int64(100)
	m.SetNowFunc(func() int64 {
		tick++
		return tick
	})
	err := m.Atomic(context.Background(), "", func(ctx context.Context) error {
		first := m.Now(ctx)
		second := m.Now(ctx)
		if first != second {
			t.Fatalf("timestamps diverged within transaction: %d != %d", first, second)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("atomic: %v", err)
	}
}

func TestDeleteAndSequence(t *testing.T) {
	m, db := newTestManager(t)
	ctx := context.Background()
	err := m.Atomic(ctx, "", func(context.Context) error {
		for want := uint64(1); want <= 3; want++ {
			got, err := m.NextSequence([]byte("seq"))
			if err != nil {
				return err
			}
			if got != want {
				t.Fatalf("expected sequence %d, got %d", want, got)
			}
		}
		return m.KVPut([]byte("gone"), "value")
	})
	if err != nil {
		t.Fatalf("atomic: %v", err)
	}
	if db.Len() != 2 {
		t.Fatalf("expected two keys, got %d", db.Len())
	}
	if err := m.Atomic(ctx, "", func(context.Context) error { return m.KVDelete([]byte("gone")) }); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if db.Len() != 1 {
		t.Fatalf("expected one key after delete, got %d", db.Len())
	}
}

func TestEnsureStateVersion(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	if err := EnsureStateVersion(ctx, m, false); err != nil {
		t.Fatalf("stamp fresh state: %v", err)
	}
	stamp, err := m.Schema(ctx)
	if err != nil || stamp == nil || stamp.Version != SchemaVersion {
		t.Fatalf("unexpected stamp %+v (err %v)", stamp, err)
	}
	if err := m.StampSchema(ctx, SchemaVersion+1); err != nil {
		t.Fatalf("stamp: %v", err)
	}
	if err := EnsureStateVersion(ctx, m, false); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := EnsureStateVersion(ctx, m, true); err != nil {
		t.Fatalf("migration override: %v", err)
	}
	// the override restamps, so a later start without it succeeds
	if err := EnsureStateVersion(ctx, m, false); err != nil {
		t.Fatalf("restart after migration: %v", err)
	}
}

func TestViewNestsAndRejectsWrites(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.View(context.Background(), func(ctx context.Context) error {
		if err := m.View(ctx, func(context.Context) error { return nil }); err != nil {
			t.Fatalf("nested view: %v", err)
		}
		return m.Atomic(ctx, "", func(context.Context) error { return nil })
	})
	if !errors.Is(err, ErrWriteInView) {
		t.Fatalf("expected ErrWriteInView, got %v", err)
	}
}

func TestCallbackRejectsForeignTransactions(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	var foreign, foreignView, joined error
	err := m.Atomic(ctx, "", func(txCtx context.Context) error {
		return m.Callback(txCtx, func(cbCtx context.Context) error {
			foreign = m.Atomic(context.Background(), "", func(context.Context) error { return nil })
			foreignView = m.View(context.Background(), func(context.Context) error { return nil })
			joined = m.Atomic(cbCtx, "", func(context.Context) error {
				return m.KVPut([]byte("joined"), uint64(1))
			})
			return nil
		})
	})
	if err != nil {
		t.Fatalf("atomic: %v", err)
	}
	if !errors.Is(foreign, coreerrors.ErrReentrantCall) || !errors.Is(foreignView, coreerrors.ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall, got %v / %v", foreign, foreignView)
	}
	if joined != nil {
		t.Fatalf("callback joining through its context: %v", joined)
	}
	if err := m.Atomic(ctx, "", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("transaction after callback: %v", err)
	}
}
