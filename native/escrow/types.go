package escrow

import (
	"fmt"
	"math/big"

	"voucherchain/core/types"
	"voucherchain/native/voucher"
)

// Class distinguishes the two independently denominated parts of a voucher's
// escrow: the price and the pair of deposits.
type Class string

const (
	ClassPayment Class = "payment"
	ClassDeposit Class = "deposit"
)

// Split is a three-way division of one asset class between buyer, seller and
// the neutral escrow pool.
type Split struct {
	Asset  types.Asset
	Buyer  *big.Int
	Seller *big.Int
	Pool   *big.Int
}

// Total returns the sum of the three shares.
func (s Split) Total() *big.Int {
	sum := new(big.Int).Set(amountOrZero(s.Buyer))
	sum.Add(sum, amountOrZero(s.Seller))
	return sum.Add(sum, amountOrZero(s.Pool))
}

// Clone returns a deep copy of the split.
func (s Split) Clone() Split {
	return Split{
		Asset:  s.Asset,
		Buyer:  cloneBigInt(s.Buyer),
		Seller: cloneBigInt(s.Seller),
		Pool:   cloneBigInt(s.Pool),
	}
}

func zeroSplit(asset types.Asset) Split {
	return Split{Asset: asset, Buyer: big.NewInt(0), Seller: big.NewInt(0), Pool: big.NewInt(0)}
}

// Settlement is the payout owed for a single voucher.
type Settlement struct {
	VoucherID [32]byte
	Outcome   voucher.Outcome
	Buyer     [20]byte
	Seller    [20]byte
	Payment   Split
	Deposits  Split
	// Final is set once the split has been credited to the ledger.
	Final     bool
	SettledAt int64
}

// Clone returns a deep copy of the settlement.
func (s *Settlement) Clone() *Settlement {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Payment = s.Payment.Clone()
	clone.Deposits = s.Deposits.Clone()
	return &clone
}

// BuyerTotal returns what the buyer receives across both classes. The sum is
// only meaningful to callers when both classes share an asset.
func (s *Settlement) BuyerTotal() *big.Int {
	return new(big.Int).Add(amountOrZero(s.Payment.Buyer), amountOrZero(s.Deposits.Buyer))
}

// SellerTotal returns what the seller receives across both classes.
func (s *Settlement) SellerTotal() *big.Int {
	return new(big.Int).Add(amountOrZero(s.Payment.Seller), amountOrZero(s.Deposits.Seller))
}

// PoolTotal returns what the escrow pool receives across both classes.
func (s *Settlement) PoolTotal() *big.Int {
	return new(big.Int).Add(amountOrZero(s.Payment.Pool), amountOrZero(s.Deposits.Pool))
}

// Validate checks that every share is non-negative and that each class adds
// up to what was escrowed for it.
func (s *Settlement) Validate(terms voucher.Terms) error {
	if s == nil {
		return fmt.Errorf("escrow: nil settlement")
	}
	for _, split := range []Split{s.Payment, s.Deposits} {
		for _, share := range []*big.Int{split.Buyer, split.Seller, split.Pool} {
			if share == nil || share.Sign() < 0 {
				return fmt.Errorf("escrow: settlement share must be non-negative")
			}
		}
	}
	if s.Payment.Total().Cmp(amountOrZero(terms.Price)) != 0 {
		return fmt.Errorf("escrow: payment split %s does not match price %s", s.Payment.Total(), terms.Price)
	}
	deposits := new(big.Int).Add(amountOrZero(terms.BuyerDeposit), amountOrZero(terms.SellerDeposit))
	if s.Deposits.Total().Cmp(deposits) != 0 {
		return fmt.Errorf("escrow: deposit split %s does not match deposits %s", s.Deposits.Total(), deposits)
	}
	return nil
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
