package storage

import (
	"errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// Database is a generic interface for a key-value store.
// This allows the market state to use any database backend (in-memory or persistent).
type Database interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Put(key []byte, value []byte) error
	Delete(key []byte) error
	// NewBatch returns a write batch that is applied atomically by Write.
	NewBatch() Batch
	Close() // A way to gracefully shut down the database connection.
}

// Batch buffers writes until Write applies them in one step.
type Batch interface {
	Put(key []byte, value []byte)
	Delete(key []byte)
	Len() int
	Write() error
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{
		data: make(map[string][]byte),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (db *MemDB) Has(key []byte) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.data[string(key)]
	return ok, nil
}

func (db *MemDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.data, string(key))
	return nil
}

// Len reports the number of stored keys. Tests use it to assert that reverted
// transactions leave no residue.
func (db *MemDB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.data)
}

func (db *MemDB) NewBatch() Batch {
	return &memBatch{db: db}
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	// Nothing to close for an in-memory database.
}

type memWrite struct {
	key    string
	value  []byte
	delete bool
}

type memBatch struct {
	db     *MemDB
	writes []memWrite
}

func (b *memBatch) Put(key []byte, value []byte) {
	b.writes = append(b.writes, memWrite{key: string(key), value: append([]byte(nil), value...)})
}

func (b *memBatch) Delete(key []byte) {
	b.writes = append(b.writes, memWrite{key: string(key), delete: true})
}

func (b *memBatch) Len() int { return len(b.writes) }

func (b *memBatch) Write() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for _, w := range b.writes {
		if w.delete {
			delete(b.db.data, w.key)
			continue
		}
		b.db.data[w.key] = w.value
	}
	b.writes = nil
	return nil
}

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (ldb *LevelDB) Has(key []byte) (bool, error) {
	return ldb.db.Has(key, nil)
}

func (ldb *LevelDB) Delete(key []byte) error {
	return ldb.db.Delete(key, nil)
}

func (ldb *LevelDB) NewBatch() Batch {
	return &levelBatch{db: ldb.db, batch: new(leveldb.Batch)}
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	ldb.db.Close()
}

type levelBatch struct {
	db    *leveldb.DB
	batch *leveldb.Batch
}

func (b *levelBatch) Put(key []byte, value []byte) { b.batch.Put(key, value) }

func (b *levelBatch) Delete(key []byte) { b.batch.Delete(key) }

func (b *levelBatch) Len() int { return b.batch.Len() }

func (b *levelBatch) Write() error {
	if err := b.db.Write(b.batch, nil); err != nil {
		return err
	}
	b.batch.Reset()
	return nil
}
