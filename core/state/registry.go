package state

import (
	"voucherchain/native/gate"
	"voucherchain/native/system"
)

var (
	inventoryBalancePrefix = []byte("inventory/balance/")
	inventorySupplyPrefix  = []byte("inventory/supply/")
	gateBindingPrefix      = []byte("gate/binding/")
	gateUsedPrefix         = []byte("gate/used/")
	relayNoncePrefix       = []byte("relay/nonce/")
	systemSettingsKey      = []byte("system/settings")
)

type storedBinding struct {
	SetID      [32]byte
	TokenID    [32]byte
	Generation uint64
}

type storedSettings struct {
	Mode       uint8
	Owner      [20]byte
	EscrowPool [20]byte
	UpdatedAt  uint64
}

func (m *Manager) getUint64(key []byte) (uint64, error) {
	var v uint64
	if _, err := m.KVGet(key, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func (m *Manager) putUint64(key []byte, v uint64) error {
	if v == 0 {
		return m.Delete(key)
	}
	return m.KVPut(key, v)
}

// InventoryBalance returns holder's units of token id.
func (m *Manager) InventoryBalance(id [32]byte, holder [20]byte) (uint64, error) {
	return m.getUint64(joinKey(inventoryBalancePrefix, id[:], holder[:]))
}

// InventorySetBalance overwrites holder's units of token id.
func (m *Manager) InventorySetBalance(id [32]byte, holder [20]byte, amount uint64) error {
	return m.putUint64(joinKey(inventoryBalancePrefix, id[:], holder[:]), amount)
}

// InventorySupply returns the outstanding units of token id.
func (m *Manager) InventorySupply(id [32]byte) (uint64, error) {
	return m.getUint64(joinKey(inventorySupplyPrefix, id[:]))
}

// InventorySetSupply overwrites the outstanding units of token id.
func (m *Manager) InventorySetSupply(id [32]byte, amount uint64) error {
	return m.putUint64(joinKey(inventorySupplyPrefix, id[:]), amount)
}

// GateBindingGet loads the credential binding of a set.
func (m *Manager) GateBindingGet(setID [32]byte) (*gate.Binding, bool, error) {
	var stored storedBinding
	ok, err := m.KVGet(joinKey(gateBindingPrefix, setID[:]), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &gate.Binding{SetID: stored.SetID, TokenID: stored.TokenID, Generation: stored.Generation}, true, nil
}

// GateBindingPut persists a credential binding.
func (m *Manager) GateBindingPut(b *gate.Binding) error {
	return m.KVPut(joinKey(gateBindingPrefix, b.SetID[:]), storedBinding{
		SetID:      b.SetID,
		TokenID:    b.TokenID,
		Generation: b.Generation,
	})
}

func gateUsedKey(buyer [20]byte, setID [32]byte, generation uint64) []byte {
	return joinKey(gateUsedPrefix, setID[:], uint64Bytes(generation), buyer[:])
}

// GateUsed reports whether buyer spent its eligibility for the binding
// generation.
func (m *Manager) GateUsed(buyer [20]byte, setID [32]byte, generation uint64) (bool, error) {
	var used bool
	ok, err := m.KVGet(gateUsedKey(buyer, setID, generation), &used)
	return ok && used, err
}

// GateMarkUsed records that buyer spent its eligibility.
func (m *Manager) GateMarkUsed(buyer [20]byte, setID [32]byte, generation uint64) error {
	return m.KVPut(gateUsedKey(buyer, setID, generation), true)
}

// SystemSettingsGet loads the coordinator settings.
func (m *Manager) SystemSettingsGet() (*system.Settings, bool, error) {
	var stored storedSettings
	ok, err := m.KVGet(systemSettingsKey, &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &system.Settings{
		Mode:       system.Mode(stored.Mode),
		Owner:      stored.Owner,
		EscrowPool: stored.EscrowPool,
		UpdatedAt:  fromUnix(stored.UpdatedAt),
	}, true, nil
}

// SystemSettingsPut persists the coordinator settings.
func (m *Manager) SystemSettingsPut(s *system.Settings) error {
	return m.KVPut(systemSettingsKey, storedSettings{
		Mode:       uint8(s.Mode),
		Owner:      s.Owner,
		EscrowPool: s.EscrowPool,
		UpdatedAt:  toUnix(s.UpdatedAt),
	})
}

// RelayNonceUsed reports whether signer already consumed nonce.
func (m *Manager) RelayNonceUsed(signer [20]byte, nonce uint64) (bool, error) {
	var used bool
	ok, err := m.KVGet(joinKey(relayNoncePrefix, signer[:], uint64Bytes(nonce)), &used)
	return ok && used, err
}

// MarkRelayNonce records nonce as consumed by signer. Entries are never
// removed.
func (m *Manager) MarkRelayNonce(signer [20]byte, nonce uint64) error {
	return m.KVPut(joinKey(relayNoncePrefix, signer[:], uint64Bytes(nonce)), true)
}
