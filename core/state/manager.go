package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	coreerrors "github.com/nickbax/ump-auction-test/core/errors"
	"github.com/nickbax/ump-auction-test/storage"
)

// ErrWriteInView is returned when a transaction is opened from inside a
// read-only view.
var ErrWriteInView = errors.New("state: transaction opened inside read-only view")

// Manager owns the market state. Every mutating operation runs inside Atomic,
// which serialises it against all other operations and either commits all of
// its writes in one batch or none of them.
//
// KV accessors must only be called from within Atomic or View callbacks.
type Manager struct {
	db    storage.Database
	mu    sync.RWMutex
	nowFn func() int64

	dirty   map[string][]byte // nil value marks a deletion
	journal []journalEntry
	hooks   []func()

	// callbacks counts external callbacks running inside the transaction.
	callbacks atomic.Int32
}

type journalEntry struct {
	key     string
	prev    []byte
	existed bool
}

type snapshot struct {
	journal int
	hooks   int
}

type txKey struct{}

type viewKey struct{}

type txState struct {
	m     *Manager
	now   uint64
	locks map[string]struct{}
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:    db,
		nowFn: func() int64 { return time.Now().Unix() },
		dirty: make(map[string][]byte),
	}
}

// SetNowFunc overrides the time source used for transaction timestamps.
// Primarily intended for tests to provide deterministic timestamps.
func (m *Manager) SetNowFunc(now func() int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now == nil {
		m.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	m.nowFn = now
}

func (m *Manager) clock() uint64 {
	now := m.nowFn()
	if now < 0 {
		return 0
	}
	return uint64(now)
}

func (m *Manager) inView(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	owner, ok := ctx.Value(viewKey{}).(*Manager)
	return ok && owner == m
}

func (m *Manager) txFrom(ctx context.Context) *txState {
	if ctx == nil {
		return nil
	}
	tx, ok := ctx.Value(txKey{}).(*txState)
	if !ok || tx.m != m {
		return nil
	}
	return tx
}

// Atomic executes fn as a single transaction. The outermost call takes the
// global write lock, fixes the transaction timestamp and commits on success.
// Calls nested through the supplied context join the running transaction and
// are rolled back to their own snapshot when they fail, leaving the outer
// transaction free to continue.
//
// A non-empty lock names a non-reentrancy guard held for the duration of fn.
// Entering a guard already held by the running transaction fails with
// ErrReentrantCall.
func (m *Manager) Atomic(ctx context.Context, lock string, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if tx := m.txFrom(ctx); tx != nil {
		return m.nested(ctx, tx, lock, fn)
	}
	if m.inView(ctx) {
		return ErrWriteInView
	}
	if err := m.checkCallback(); err != nil {
		return err
	}
	hooks, err := m.run(ctx, lock, fn)
	if err != nil {
		return err
	}
	for _, hook := range hooks {
		hook()
	}
	return nil
}

func (m *Manager) run(ctx context.Context, lock string, fn func(context.Context) error) ([]func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &txState{m: m, now: m.clock(), locks: make(map[string]struct{})}
	if lock != "" {
		tx.locks[lock] = struct{}{}
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		m.discard()
		return nil, err
	}
	return m.commit()
}

func (m *Manager) nested(ctx context.Context, tx *txState, lock string, fn func(context.Context) error) error {
	if lock != "" {
		if _, held := tx.locks[lock]; held {
			return coreerrors.Wrap(coreerrors.ErrReentrantCall, "guard %s already held", lock)
		}
		tx.locks[lock] = struct{}{}
		defer delete(tx.locks, lock)
	}
	snap := m.snapshot()
	if err := fn(ctx); err != nil {
		m.revertTo(snap)
		return err
	}
	return nil
}

// Callback runs fn, a call out to code the market does not own, from inside
// the transaction carried by ctx. fn may re-enter the engines through ctx. A
// transaction or view opened on any other context while fn runs fails with
// ErrReentrantCall, because it could only wait on the transaction that is
// waiting on fn.
func (m *Manager) Callback(ctx context.Context, fn func(context.Context) error) error {
	if m.txFrom(ctx) == nil {
		return fn(ctx)
	}
	m.callbacks.Add(1)
	defer m.callbacks.Add(-1)
	return fn(ctx)
}

func (m *Manager) checkCallback() error {
	if m.callbacks.Load() > 0 {
		return coreerrors.Wrap(coreerrors.ErrReentrantCall, "state opened from an external callback")
	}
	return nil
}

// View runs fn with read access to state. Inside a transaction it observes the
// uncommitted writes of that transaction.
func (m *Manager) View(ctx context.Context, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if m.txFrom(ctx) != nil || m.inView(ctx) {
		return fn(ctx)
	}
	if err := m.checkCallback(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(context.WithValue(ctx, viewKey{}, m))
}

// Now returns the timestamp of the running transaction, or the current clock
// reading outside of one. All calls within a transaction observe the same
// instant.
func (m *Manager) Now(ctx context.Context) uint64 {
	if tx := m.txFrom(ctx); tx != nil {
		return tx.now
	}
	return m.clock()
}

// OnCommit schedules fn to run after the outermost transaction commits. Hooks
// registered by a nested call that is later rolled back are dropped.
// Outside a transaction fn runs immediately.
func (m *Manager) OnCommit(ctx context.Context, fn func()) {
	if fn == nil {
		return
	}
	if m.txFrom(ctx) == nil {
		fn()
		return
	}
	m.hooks = append(m.hooks, fn)
}

func (m *Manager) snapshot() snapshot {
	return snapshot{journal: len(m.journal), hooks: len(m.hooks)}
}

func (m *Manager) revertTo(s snapshot) {
	for i := len(m.journal) - 1; i >= s.journal; i-- {
		entry := m.journal[i]
		if entry.existed {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	m.journal = m.journal[:s.journal]
	m.hooks = m.hooks[:s.hooks]
}

func (m *Manager) discard() {
	m.dirty = make(map[string][]byte)
	m.journal = nil
	m.hooks = nil
}

func (m *Manager) commit() ([]func(), error) {
	hooks := m.hooks
	if len(m.dirty) > 0 {
		batch := m.db.NewBatch()
		for key, value := range m.dirty {
			if value == nil {
				batch.Delete([]byte(key))
				continue
			}
			batch.Put([]byte(key), value)
		}
		if err := batch.Write(); err != nil {
			m.discard()
			return nil, fmt.Errorf("state: commit: %w", err)
		}
	}
	m.discard()
	return hooks, nil
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) read(hashed []byte) ([]byte, error) {
	if value, ok := m.dirty[string(hashed)]; ok {
		return value, nil
	}
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (m *Manager) write(hashed []byte, value []byte) {
	key := string(hashed)
	prev, existed := m.dirty[key]
	m.journal = append(m.journal, journalEntry{key: key, prev: prev, existed: existed})
	m.dirty[key] = value
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is automatically hashed with keccak256.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.write(kvKey(key), encoded)
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.write(kvKey(key), nil)
	return nil
}

// NextSequence increments the counter stored under key and returns the new
// value. The first call returns 1.
func (m *Manager) NextSequence(key []byte) (uint64, error) {
	var current uint64
	if _, err := m.KVGet(key, &current); err != nil {
		return 0, err
	}
	current++
	if err := m.KVPut(key, current); err != nil {
		return 0, err
	}
	return current, nil
}
