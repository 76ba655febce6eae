package escrow

import (
	"fmt"
	"math/big"

	"voucherchain/native/voucher"
)

// sellerDepositRule describes how the seller's deposit is divided.
type sellerDepositRule uint8

const (
	// sellerKeeps returns the deposit to the seller: nobody is at fault.
	sellerKeeps sellerDepositRule = iota
	// sellerSlashed sends the deposit to the pool: the buyer complained and
	// the seller never answered.
	sellerSlashed
	// sellerHalved gives half to the buyer and half back to the seller: the
	// seller admitted fault without a complaint.
	sellerHalved
	// sellerThreeWay gives half to the buyer and a quarter each to seller and
	// pool: complaint and admitted fault share the blame.
	sellerThreeWay
)

type payoutRule struct {
	priceToSeller       bool
	sellerDeposit       sellerDepositRule
	buyerDepositToBuyer bool
}

// ruleFor is the payout table. Each outcome appears exactly once.
func ruleFor(o voucher.Outcome) (payoutRule, error) {
	switch o {
	case voucher.OutcomeRedeemed:
		return payoutRule{priceToSeller: true, sellerDeposit: sellerKeeps, buyerDepositToBuyer: true}, nil
	case voucher.OutcomeRedeemedComplained:
		return payoutRule{priceToSeller: true, sellerDeposit: sellerSlashed, buyerDepositToBuyer: true}, nil
	case voucher.OutcomeRedeemedFaulted:
		return payoutRule{priceToSeller: true, sellerDeposit: sellerHalved, buyerDepositToBuyer: true}, nil
	case voucher.OutcomeRedeemedComplainedFaulted:
		return payoutRule{priceToSeller: true, sellerDeposit: sellerThreeWay, buyerDepositToBuyer: true}, nil
	case voucher.OutcomeReturned:
		return payoutRule{sellerDeposit: sellerKeeps}, nil
	case voucher.OutcomeReturnedComplained:
		return payoutRule{sellerDeposit: sellerSlashed}, nil
	case voucher.OutcomeReturnedFaulted:
		return payoutRule{sellerDeposit: sellerHalved, buyerDepositToBuyer: true}, nil
	case voucher.OutcomeReturnedComplainedFaulted:
		return payoutRule{sellerDeposit: sellerThreeWay, buyerDepositToBuyer: true}, nil
	case voucher.OutcomeCancelled:
		return payoutRule{sellerDeposit: sellerHalved, buyerDepositToBuyer: true}, nil
	case voucher.OutcomeCancelledComplained:
		return payoutRule{sellerDeposit: sellerThreeWay, buyerDepositToBuyer: true}, nil
	default:
		return payoutRule{}, fmt.Errorf("%w: outcome %s", ErrNotSettled, o)
	}
}

// Compute divides a voucher's escrow according to its outcome. Integer
// division truncates and every remainder is assigned to the pool, so each
// class always sums to exactly what was escrowed for it.
func Compute(outcome voucher.Outcome, terms voucher.Terms) (payment Split, deposits Split, err error) {
	rule, err := ruleFor(outcome)
	if err != nil {
		return Split{}, Split{}, err
	}
	price := amountOrZero(terms.Price)
	payment = zeroSplit(terms.PriceAsset)
	if rule.priceToSeller {
		payment.Seller.Set(price)
	} else {
		payment.Buyer.Set(price)
	}

	deposits = zeroSplit(terms.DepositAsset)
	sd := amountOrZero(terms.SellerDeposit)
	switch rule.sellerDeposit {
	case sellerKeeps:
		deposits.Seller.Add(deposits.Seller, sd)
	case sellerSlashed:
		deposits.Pool.Add(deposits.Pool, sd)
	case sellerHalved:
		half := new(big.Int).Quo(sd, big.NewInt(2))
		deposits.Buyer.Add(deposits.Buyer, half)
		deposits.Seller.Add(deposits.Seller, half)
		deposits.Pool.Add(deposits.Pool, new(big.Int).Sub(sd, new(big.Int).Mul(half, big.NewInt(2))))
	case sellerThreeWay:
		half := new(big.Int).Quo(sd, big.NewInt(2))
		quarter := new(big.Int).Quo(sd, big.NewInt(4))
		rest := new(big.Int).Sub(sd, half)
		rest.Sub(rest, quarter)
		deposits.Buyer.Add(deposits.Buyer, half)
		deposits.Seller.Add(deposits.Seller, quarter)
		deposits.Pool.Add(deposits.Pool, rest)
	}

	bd := amountOrZero(terms.BuyerDeposit)
	if rule.buyerDepositToBuyer {
		deposits.Buyer.Add(deposits.Buyer, bd)
	} else {
		deposits.Pool.Add(deposits.Pool, bd)
	}
	return payment, deposits, nil
}
