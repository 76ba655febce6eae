package escrow

import (
	"errors"
	"math/big"
	"testing"

	"voucherchain/core/types"
	"voucherchain/native/voucher"
)

func ether(frac string) *big.Int {
	v, ok := new(big.Rat).SetString(frac)
	if !ok {
		panic("bad amount " + frac)
	}
	v.Mul(v, new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)))
	if !v.IsInt() {
		panic("fractional wei " + frac)
	}
	return new(big.Int).Set(v.Num())
}

func scenarioTerms() voucher.Terms {
	return voucher.Terms{
		ValidFrom:     1,
		ValidTo:       2,
		Price:         ether("0.3"),
		SellerDeposit: ether("0.05"),
		BuyerDeposit:  ether("0.04"),
		PriceAsset:    types.NativeAsset,
		DepositAsset:  types.NativeAsset,
		Quantity:      1,
	}
}

func TestComputeTable(t *testing.T) {
	terms := scenarioTerms()
	cases := []struct {
		outcome voucher.Outcome
		buyer   string
		seller  string
		pool    string
	}{
		{voucher.OutcomeRedeemed, "0.04", "0.35", "0"},
		{voucher.OutcomeRedeemedComplained, "0.04", "0.3", "0.05"},
		{voucher.OutcomeRedeemedFaulted, "0.065", "0.325", "0"},
		{voucher.OutcomeRedeemedComplainedFaulted, "0.065", "0.3125", "0.0125"},
		{voucher.OutcomeReturned, "0.3", "0.05", "0.04"},
		{voucher.OutcomeReturnedComplained, "0.3", "0", "0.09"},
		{voucher.OutcomeReturnedFaulted, "0.365", "0.025", "0"},
		{voucher.OutcomeReturnedComplainedFaulted, "0.365", "0.0125", "0.0125"},
		{voucher.OutcomeCancelled, "0.365", "0.025", "0"},
		{voucher.OutcomeCancelledComplained, "0.365", "0.0125", "0.0125"},
	}
	for _, tc := range cases {
		t.Run(tc.outcome.String(), func(t *testing.T) {
			payment, deposits, err := Compute(tc.outcome, terms)
			if err != nil {
				t.Fatalf("compute: %v", err)
			}
			buyer := new(big.Int).Add(payment.Buyer, deposits.Buyer)
			seller := new(big.Int).Add(payment.Seller, deposits.Seller)
			pool := new(big.Int).Add(payment.Pool, deposits.Pool)
			if buyer.Cmp(ether(tc.buyer)) != 0 {
				t.Errorf("buyer: expected %s, got %s", ether(tc.buyer), buyer)
			}
			if seller.Cmp(ether(tc.seller)) != 0 {
				t.Errorf("seller: expected %s, got %s", ether(tc.seller), seller)
			}
			if pool.Cmp(ether(tc.pool)) != 0 {
				t.Errorf("pool: expected %s, got %s", ether(tc.pool), pool)
			}
		})
	}
}

func TestComputeUnsettled(t *testing.T) {
	if _, _, err := Compute(voucher.OutcomeUnsettled, scenarioTerms()); !errors.Is(err, ErrNotSettled) {
		t.Fatalf("expected ErrNotSettled, got %v", err)
	}
}

func TestComputeOddDepositConserves(t *testing.T) {
	terms := scenarioTerms()
	terms.SellerDeposit = big.NewInt(7)
	terms.BuyerDeposit = big.NewInt(3)
	terms.Price = big.NewInt(11)
	for o := voucher.OutcomeRedeemed; o <= voucher.OutcomeCancelledComplained; o++ {
		payment, deposits, err := Compute(o, terms)
		if err != nil {
			t.Fatalf("%s: %v", o, err)
		}
		s := &Settlement{Payment: payment, Deposits: deposits}
		if err := s.Validate(terms); err != nil {
			t.Fatalf("%s: %v", o, err)
		}
	}
	_, deposits, _ := Compute(voucher.OutcomeRedeemedComplainedFaulted, terms)
	// 7/2 = 3 to the buyer, 7/4 = 1 to the seller, remainder 3 to the pool.
	if deposits.Buyer.Int64() != 6 || deposits.Seller.Int64() != 1 || deposits.Pool.Int64() != 3 {
		t.Fatalf("unexpected three-way split %s/%s/%s", deposits.Buyer, deposits.Seller, deposits.Pool)
	}
	_, deposits, _ = Compute(voucher.OutcomeCancelled, terms)
	if deposits.Buyer.Int64() != 6 || deposits.Seller.Int64() != 3 || deposits.Pool.Int64() != 1 {
		t.Fatalf("unexpected halved split %s/%s/%s", deposits.Buyer, deposits.Seller, deposits.Pool)
	}
}

func TestComputeKeepsAssetsApart(t *testing.T) {
	terms := scenarioTerms()
	terms.DepositAsset = types.Asset{0xDD}
	payment, deposits, err := Compute(voucher.OutcomeRedeemed, terms)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if payment.Asset != types.NativeAsset || deposits.Asset != terms.DepositAsset {
		t.Fatalf("asset classes mixed: %s/%s", payment.Asset, deposits.Asset)
	}
}
