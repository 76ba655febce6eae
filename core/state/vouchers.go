package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"voucherchain/core/types"
	"voucherchain/native/voucher"
)

var (
	voucherSetPrefix   = []byte("voucher/set/")
	voucherItemPrefix  = []byte("voucher/item/")
	voucherNoncePrefix = []byte("voucher/nonce/")
	voucherParamsKey   = []byte("voucher/params")
)

type storedVoucherSet struct {
	ID            [32]byte
	Seller        [20]byte
	Nonce         uint64
	ValidFrom     uint64
	ValidTo       uint64
	Price         *big.Int
	SellerDeposit *big.Int
	BuyerDeposit  *big.Int
	PriceAsset    [20]byte
	DepositAsset  [20]byte
	Quantity      uint64
	Remaining     uint64
	Cancelled     bool
	CreatedAt     uint64
}

type storedVoucher struct {
	ID                     [32]byte
	SetID                  [32]byte
	Serial                 uint64
	Holder                 [20]byte
	Issuer                 [20]byte
	Status                 uint8
	CommittedAt            uint64
	ComplainPeriodStart    uint64
	CancelFaultPeriodStart uint64
	PaymentReleased        bool
	DepositsReleased       bool
}

type storedVoucherParams struct {
	ComplainPeriod    uint64
	CancelFaultPeriod uint64
}

func voucherSetKey(id [32]byte) []byte  { return joinKey(voucherSetPrefix, id[:]) }
func voucherItemKey(id [32]byte) []byte { return joinKey(voucherItemPrefix, id[:]) }
func voucherNonceKey(seller [20]byte) []byte {
	return joinKey(voucherNoncePrefix, seller[:])
}

func newStoredVoucherSet(set *voucher.VoucherSet) *storedVoucherSet {
	return &storedVoucherSet{
		ID:            set.ID,
		Seller:        set.Seller,
		Nonce:         set.Nonce,
		ValidFrom:     toUnix(set.Terms.ValidFrom),
		ValidTo:       toUnix(set.Terms.ValidTo),
		Price:         nonNil(set.Terms.Price),
		SellerDeposit: nonNil(set.Terms.SellerDeposit),
		BuyerDeposit:  nonNil(set.Terms.BuyerDeposit),
		PriceAsset:    set.Terms.PriceAsset,
		DepositAsset:  set.Terms.DepositAsset,
		Quantity:      set.Terms.Quantity,
		Remaining:     set.Remaining,
		Cancelled:     set.Cancelled,
		CreatedAt:     toUnix(set.CreatedAt),
	}
}

func (s *storedVoucherSet) toVoucherSet() *voucher.VoucherSet {
	return &voucher.VoucherSet{
		ID:     s.ID,
		Seller: s.Seller,
		Nonce:  s.Nonce,
		Terms: voucher.Terms{
			ValidFrom:     fromUnix(s.ValidFrom),
			ValidTo:       fromUnix(s.ValidTo),
			Price:         nonNil(s.Price),
			SellerDeposit: nonNil(s.SellerDeposit),
			BuyerDeposit:  nonNil(s.BuyerDeposit),
			PriceAsset:    types.Asset(s.PriceAsset),
			DepositAsset:  types.Asset(s.DepositAsset),
			Quantity:      s.Quantity,
		},
		Remaining: s.Remaining,
		Cancelled: s.Cancelled,
		CreatedAt: fromUnix(s.CreatedAt),
	}
}

func newStoredVoucher(v *voucher.Voucher) *storedVoucher {
	return &storedVoucher{
		ID:                     v.ID,
		SetID:                  v.SetID,
		Serial:                 v.Serial,
		Holder:                 v.Holder,
		Issuer:                 v.Issuer,
		Status:                 uint8(v.Status),
		CommittedAt:            toUnix(v.CommittedAt),
		ComplainPeriodStart:    toUnix(v.ComplainPeriodStart),
		CancelFaultPeriodStart: toUnix(v.CancelFaultPeriodStart),
		PaymentReleased:        v.PaymentReleased,
		DepositsReleased:       v.DepositsReleased,
	}
}

func (s *storedVoucher) toVoucher() *voucher.Voucher {
	return &voucher.Voucher{
		ID:                     s.ID,
		SetID:                  s.SetID,
		Serial:                 s.Serial,
		Holder:                 s.Holder,
		Issuer:                 s.Issuer,
		Status:                 voucher.Status(s.Status),
		CommittedAt:            fromUnix(s.CommittedAt),
		ComplainPeriodStart:    fromUnix(s.ComplainPeriodStart),
		CancelFaultPeriodStart: fromUnix(s.CancelFaultPeriodStart),
		PaymentReleased:        s.PaymentReleased,
		DepositsReleased:       s.DepositsReleased,
	}
}

// VoucherSetPut persists a voucher set.
func (m *Manager) VoucherSetPut(set *voucher.VoucherSet) error {
	if set == nil {
		return fmt.Errorf("voucher: nil set")
	}
	return m.KVPut(voucherSetKey(set.ID), newStoredVoucherSet(set))
}

// VoucherSetGet loads a voucher set.
func (m *Manager) VoucherSetGet(id [32]byte) (*voucher.VoucherSet, bool, error) {
	var stored storedVoucherSet
	ok, err := m.KVGet(voucherSetKey(id), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return stored.toVoucherSet(), true, nil
}

// VoucherPut persists a voucher.
func (m *Manager) VoucherPut(v *voucher.Voucher) error {
	if v == nil {
		return fmt.Errorf("voucher: nil voucher")
	}
	if !v.Status.Valid() {
		return fmt.Errorf("voucher: refusing to store invalid status %s", v.Status)
	}
	return m.KVPut(voucherItemKey(v.ID), newStoredVoucher(v))
}

// VoucherGet loads a voucher.
func (m *Manager) VoucherGet(id [32]byte) (*voucher.Voucher, bool, error) {
	var stored storedVoucher
	ok, err := m.KVGet(voucherItemKey(id), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return stored.toVoucher(), true, nil
}

// VoucherSetNextNonce returns the seller's next set nonce and advances it.
func (m *Manager) VoucherSetNextNonce(seller [20]byte) (uint64, error) {
	key := voucherNonceKey(seller)
	var nonce uint64
	if _, err := m.KVGet(key, &nonce); err != nil {
		return 0, err
	}
	if err := m.KVPut(key, nonce+1); err != nil {
		return 0, err
	}
	return nonce, nil
}

// VoucherParamsGet loads the lifecycle windows if they were ever set.
func (m *Manager) VoucherParamsGet() (voucher.Params, bool, error) {
	var stored storedVoucherParams
	ok, err := m.KVGet(voucherParamsKey, &stored)
	if err != nil || !ok {
		return voucher.Params{}, ok, err
	}
	return voucher.Params{
		ComplainPeriod:    int64(stored.ComplainPeriod),
		CancelFaultPeriod: int64(stored.CancelFaultPeriod),
	}, true, nil
}

// VoucherParamsPut persists the lifecycle windows.
func (m *Manager) VoucherParamsPut(p voucher.Params) error {
	return m.KVPut(voucherParamsKey, storedVoucherParams{
		ComplainPeriod:    toUnix(p.ComplainPeriod),
		CancelFaultPeriod: toUnix(p.CancelFaultPeriod),
	})
}

// VoucherSets visits every committed voucher set in key order.
func (m *Manager) VoucherSets(fn func(*voucher.VoucherSet) bool) error {
	var decodeErr error
	err := m.KVIterate(voucherSetPrefix, func(_, value []byte) bool {
		var stored storedVoucherSet
		if err := rlp.DecodeBytes(value, &stored); err != nil {
			decodeErr = err
			return false
		}
		return fn(stored.toVoucherSet())
	})
	if err != nil {
		return err
	}
	return decodeErr
}

// Vouchers visits every committed voucher in key order.
func (m *Manager) Vouchers(fn func(*voucher.Voucher) bool) error {
	var decodeErr error
	err := m.KVIterate(voucherItemPrefix, func(_, value []byte) bool {
		var stored storedVoucher
		if err := rlp.DecodeBytes(value, &stored); err != nil {
			decodeErr = err
			return false
		}
		return fn(stored.toVoucher())
	})
	if err != nil {
		return err
	}
	return decodeErr
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func uint64Bytes(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}
