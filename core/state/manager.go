package state

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	coreerrors "voucherchain/core/errors"
	"voucherchain/core/types"
	"voucherchain/storage"
)

// ErrInsufficientFunds is returned when an account cannot cover a transfer.
var ErrInsufficientFunds = fmt.Errorf("%w: insufficient funds", coreerrors.ErrCapacityViolation)

var balancePrefix = []byte("balance/")

type pendingWrite struct {
	value   []byte
	deleted bool
}

// Manager reads and writes module state. Writes are staged in memory until
// Commit flushes them to the database in a single batch; Discard drops them.
// Reads observe staged writes first.
type Manager struct {
	mu      sync.RWMutex
	db      storage.Database
	pending map[string]pendingWrite
}

// NewManager creates a state manager backed by db.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, pending: make(map[string]pendingWrite)}
}

func (m *Manager) get(key []byte) ([]byte, error) {
	m.mu.RLock()
	write, ok := m.pending[string(key)]
	m.mu.RUnlock()
	if ok {
		if write.deleted {
			return nil, nil
		}
		return write.value, nil
	}
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (m *Manager) put(key, value []byte) {
	m.mu.Lock()
	m.pending[string(key)] = pendingWrite{value: append([]byte(nil), value...)}
	m.mu.Unlock()
}

// Delete stages the removal of key.
func (m *Manager) Delete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.mu.Lock()
	m.pending[string(key)] = pendingWrite{deleted: true}
	m.mu.Unlock()
	return nil
}

// Dirty reports whether any writes are staged.
func (m *Manager) Dirty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending) > 0
}

// Commit writes every staged change atomically.
func (m *Manager) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m.pending))
	for key := range m.pending {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	batch := new(storage.Batch)
	for _, key := range keys {
		write := m.pending[key]
		if write.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), write.value)
	}
	if err := m.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.pending = make(map[string]pendingWrite)
	return nil
}

// Discard drops every staged change.
func (m *Manager) Discard() {
	m.mu.Lock()
	m.pending = make(map[string]pendingWrite)
	m.mu.Unlock()
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.put(key, encoded)
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.get(key)
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

// KVIterate calls fn for each committed entry under prefix. Staged writes are
// not visited; callers iterate outside of a running operation.
func (m *Manager) KVIterate(prefix []byte, fn func(key, value []byte) bool) error {
	return m.db.Iterate(prefix, fn)
}

func (m *Manager) getBigInt(key []byte) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.KVGet(key, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

func (m *Manager) putBigInt(key []byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	if amount.Sign() == 0 {
		return m.Delete(key)
	}
	return m.KVPut(key, amount)
}

func balanceKey(addr [20]byte, asset types.Asset) []byte {
	return joinKey(balancePrefix, asset[:], addr[:])
}

// Balance returns the spendable balance of addr in asset.
func (m *Manager) Balance(addr [20]byte, asset types.Asset) (*big.Int, error) {
	return m.getBigInt(balanceKey(addr, asset))
}

// SetBalance overwrites the balance of addr in asset.
func (m *Manager) SetBalance(addr [20]byte, asset types.Asset, amount *big.Int) error {
	if addr == ([20]byte{}) {
		return fmt.Errorf("address must not be empty")
	}
	return m.putBigInt(balanceKey(addr, asset), amount)
}

// Credit adds amount to the balance of addr in asset.
func (m *Manager) Credit(addr [20]byte, asset types.Asset, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("credit amount must be positive")
	}
	current, err := m.Balance(addr, asset)
	if err != nil {
		return err
	}
	return m.SetBalance(addr, asset, current.Add(current, amount))
}

// Transfer moves amount of asset between accounts.
func (m *Manager) Transfer(from, to [20]byte, asset types.Asset, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("transfer amount must be positive")
	}
	if from == to {
		return nil
	}
	fromBalance, err := m.Balance(from, asset)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s %s, need %s", ErrInsufficientFunds, fromBalance, asset, amount)
	}
	toBalance, err := m.Balance(to, asset)
	if err != nil {
		return err
	}
	if err := m.SetBalance(from, asset, fromBalance.Sub(fromBalance, amount)); err != nil {
		return err
	}
	return m.SetBalance(to, asset, toBalance.Add(toBalance, amount))
}

func joinKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, part := range parts {
		size += len(part)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, part := range parts {
		buf = append(buf, part...)
	}
	return buf
}

func toUnix(ts int64) uint64 {
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func fromUnix(ts uint64) int64 {
	return int64(ts)
}
