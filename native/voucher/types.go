package voucher

import (
	"encoding/binary"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"voucherchain/core/types"
)

// Terms are the per-unit promises a seller makes when issuing a voucher set.
type Terms struct {
	ValidFrom     int64
	ValidTo       int64
	Price         *big.Int
	SellerDeposit *big.Int
	BuyerDeposit  *big.Int
	PriceAsset    types.Asset
	DepositAsset  types.Asset
	Quantity      uint64
}

// VoucherSet captures the immutable terms of a seller's batch offer together
// with the number of vouchers that can still be committed.
type VoucherSet struct {
	ID        [32]byte
	Seller    [20]byte
	Nonce     uint64
	Terms     Terms
	Remaining uint64
	Cancelled bool
	CreatedAt int64
}

// Voucher is a single committed unit drawn from a set. The ID is the keccak256
// hash of the set identifier and the serial number assigned at commit.
type Voucher struct {
	ID                     [32]byte
	SetID                  [32]byte
	Serial                 uint64
	Holder                 [20]byte
	Issuer                 [20]byte
	Status                 Status
	CommittedAt            int64
	ComplainPeriodStart    int64
	CancelFaultPeriodStart int64
	PaymentReleased        bool
	DepositsReleased       bool
}

// Payment is the amount a caller attached to a commit or set creation, split
// by the asset class it is destined for.
type Payment struct {
	Price   *big.Int
	Deposit *big.Int
}

// Params are the lifecycle windows shared by every voucher.
type Params struct {
	ComplainPeriod    int64
	CancelFaultPeriod int64
}

// MaxPeriod caps both lifecycle windows at ten years.
const MaxPeriod = int64(10 * 365 * 24 * 3600)

// DefaultParams mirrors a week-long complaint window and a week-long
// cancel-or-fault window.
func DefaultParams() Params {
	return Params{ComplainPeriod: 7 * 24 * 3600, CancelFaultPeriod: 7 * 24 * 3600}
}

// Validate checks both windows against [minPeriod, MaxPeriod].
func (p Params) Validate(minPeriod int64) error {
	if err := checkPeriod("complain", p.ComplainPeriod, minPeriod); err != nil {
		return err
	}
	return checkPeriod("cancel or fault", p.CancelFaultPeriod, minPeriod)
}

func checkPeriod(name string, seconds, minPeriod int64) error {
	if seconds < minPeriod || seconds <= 0 {
		return fmt.Errorf("%w: %s period %ds < %ds", ErrPeriodTooShort, name, seconds, minPeriod)
	}
	if seconds > MaxPeriod {
		return fmt.Errorf("%w: %s period %ds > %ds", ErrPeriodTooLong, name, seconds, MaxPeriod)
	}
	return nil
}

// elapsed reports whether period seconds have passed since start. It compares
// the difference rather than start+period so large periods cannot wrap.
func elapsed(start, period, now int64) bool {
	return now-start >= period
}

// SetID derives the identifier of the seller's nonce-th voucher set.
func SetID(seller [20]byte, nonce uint64) [32]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	return ethcrypto.Keccak256Hash([]byte("voucher-set"), seller[:], buf[:])
}

// VoucherID derives the identifier of the serial-th voucher committed from a
// set.
func VoucherID(setID [32]byte, serial uint64) [32]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], serial)
	return ethcrypto.Keccak256Hash([]byte("voucher"), setID[:], buf[:])
}

// Total returns price plus both deposits.
func (t Terms) Total() *big.Int {
	sum := new(big.Int).Set(amountOrZero(t.Price))
	sum.Add(sum, amountOrZero(t.SellerDeposit))
	return sum.Add(sum, amountOrZero(t.BuyerDeposit))
}

// Clone returns a deep copy of the terms.
func (t Terms) Clone() Terms {
	clone := t
	clone.Price = cloneBigInt(t.Price)
	clone.SellerDeposit = cloneBigInt(t.SellerDeposit)
	clone.BuyerDeposit = cloneBigInt(t.BuyerDeposit)
	return clone
}

// Validate checks the structural constraints on newly issued terms.
func (t Terms) Validate() error {
	if t.Quantity == 0 {
		return fmt.Errorf("voucher: quantity must be positive")
	}
	if t.ValidFrom < 0 {
		return fmt.Errorf("voucher: validity window must not start before the epoch")
	}
	if t.ValidTo <= t.ValidFrom {
		return fmt.Errorf("voucher: validity window must end after it starts")
	}
	amounts := []struct {
		name  string
		value *big.Int
	}{
		{"price", t.Price},
		{"seller deposit", t.SellerDeposit},
		{"buyer deposit", t.BuyerDeposit},
	}
	for _, a := range amounts {
		if a.value == nil {
			return fmt.Errorf("voucher: %s required", a.name)
		}
		if a.value.Sign() < 0 {
			return fmt.Errorf("voucher: %s must be non-negative", a.name)
		}
	}
	return nil
}

// Clone returns a deep copy of the set so callers can mutate it freely.
func (s *VoucherSet) Clone() *VoucherSet {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Terms = s.Terms.Clone()
	return &clone
}

// Open reports whether the validity window contains now.
func (s *VoucherSet) Open(now int64) bool {
	return s != nil && now >= s.Terms.ValidFrom && now < s.Terms.ValidTo
}

// Clone returns a copy of the voucher.
func (v *Voucher) Clone() *Voucher {
	if v == nil {
		return nil
	}
	clone := *v
	return &clone
}

// Outcome classifies the voucher's status.
func (v *Voucher) Outcome() Outcome {
	if v == nil {
		return OutcomeUnsettled
	}
	return v.Status.Outcome()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func amountOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
