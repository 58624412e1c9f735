package storage

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Keys of the persisted launch state.
const (
	KeyToken   = "token"
	KeyExitURL = "exit_url"
	KeyDevice  = "device"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("key not found")

// Store is the durable, scope-local key/value store holding the session
// token and launch parameters.
type Store interface {
	Get(key string) (string, error)
	Put(key, value string) error
	Delete(key string) error

	// Clear removes every key of the scope. Used on explicit re-launch.
	Clear() error

	Close() error
}

// SpinEntry is one settled spin as recorded in the local journal.
type SpinEntry struct {
	Kind      string
	Bet       decimal.Decimal
	Win       decimal.Decimal
	Balance   decimal.Decimal
	CreatedAt time.Time
}

// Journal keeps a local record of settled spins.
type Journal interface {
	AppendSpin(e SpinEntry) error
	RecentSpins(limit int) ([]SpinEntry, error)
}

// MemStore is an in-memory Store and Journal.
type MemStore struct {
	mtx   sync.Mutex
	kv    map[string]string
	spins []SpinEntry
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{kv: make(map[string]string)}
}

func (m *MemStore) Get(key string) (string, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	v, ok := m.kv[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemStore) Put(key, value string) error {
	m.mtx.Lock()
	m.kv[key] = value
	m.mtx.Unlock()
	return nil
}

func (m *MemStore) Delete(key string) error {
	m.mtx.Lock()
	delete(m.kv, key)
	m.mtx.Unlock()
	return nil
}

func (m *MemStore) Clear() error {
	m.mtx.Lock()
	m.kv = make(map[string]string)
	m.mtx.Unlock()
	return nil
}

func (m *MemStore) Close() error { return nil }

func (m *MemStore) AppendSpin(e SpinEntry) error {
	m.mtx.Lock()
	m.spins = append(m.spins, e)
	m.mtx.Unlock()
	return nil
}

// RecentSpins returns up to limit entries, newest first.
func (m *MemStore) RecentSpins(limit int) ([]SpinEntry, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	res := make([]SpinEntry, 0, limit)
	for i := len(m.spins) - 1; i >= 0 && len(res) < limit; i-- {
		res = append(res, m.spins[i])
	}
	return res, nil
}
