package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()
	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := db.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	ok, err := db.Has([]byte("a"))
	if err != nil || !ok {
		t.Fatalf("expected key a to exist: %v", err)
	}

	batch := db.NewBatch()
	batch.Put([]byte("b"), []byte("2"))
	batch.Delete([]byte("a"))
	if batch.Len() != 2 {
		t.Fatalf("expected two buffered writes, got %d", batch.Len())
	}
	if ok, _ := db.Has([]byte("b")); ok {
		t.Fatalf("batch writes must not be visible before Write")
	}
	if err := batch.Write(); err != nil {
		t.Fatalf("batch write: %v", err)
	}
	if ok, _ := db.Has([]byte("a")); ok {
		t.Fatalf("expected key a to be deleted")
	}
	value, err := db.Get([]byte("b"))
	if err != nil || string(value) != "2" {
		t.Fatalf("unexpected value for b: %q %v", value, err)
	}
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	t.Cleanup(db.Close)
	exerciseDatabase(t, db)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "market"))
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	t.Cleanup(db.Close)
	exerciseDatabase(t, db)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	value := []byte("abc")
	if err := db.Put([]byte("k"), value); err != nil {
		t.Fatalf("put: %v", err)
	}
	value[0] = 'z'
	stored, _ := db.Get([]byte("k"))
	if string(stored) != "abc" {
		t.Fatalf("stored value aliased caller slice: %q", stored)
	}
}
