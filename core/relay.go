package core

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"

	"github.com/google/uuid"

	coreerrors "voucherchain/core/errors"
	"voucherchain/core/metatx"
	"voucherchain/core/types"
	"voucherchain/native/system"
	"voucherchain/native/voucher"
)

// ErrInvalidPayload is returned when a relayed payload cannot be decoded.
var ErrInvalidPayload = fmt.Errorf("%w: invalid payload", coreerrors.ErrGuardViolation)

// RelayReceipt describes an applied relayed call.
type RelayReceipt struct {
	ID     string
	Method string
	Signer [20]byte
	Nonce  uint64
	Result interface{}
}

// WithdrawResult is the receipt body of the withdraw methods.
type WithdrawResult struct {
	Asset  types.Asset
	Amount *big.Int
}

type relayHandler func(n *Node, signer [20]byte, payload json.RawMessage) (interface{}, error)

var relayHandlers = map[string]relayHandler{
	metatx.MethodCreateVoucherSet:   relayCreateVoucherSet,
	metatx.MethodCancelVoucherSet:   relayCancelVoucherSet,
	metatx.MethodCommit:             relayCommit,
	metatx.MethodRedeem:             relayVoucherCall((*voucher.Engine).Redeem),
	metatx.MethodRefund:             relayVoucherCall((*voucher.Engine).Refund),
	metatx.MethodComplain:           relayVoucherCall((*voucher.Engine).Complain),
	metatx.MethodCancelOrFault:      relayVoucherCall((*voucher.Engine).CancelOrFault),
	metatx.MethodTransferVoucher:    relayTransferVoucher,
	metatx.MethodTriggerExpiration:  relayPoke((*voucher.Engine).TriggerExpiration),
	metatx.MethodTriggerFinalize:    relayPoke((*voucher.Engine).TriggerFinalize),
	metatx.MethodWithdraw:           relayWithdraw(false),
	metatx.MethodWithdrawOnDisaster: relayWithdraw(true),
	metatx.MethodPause:              relayModeCall((*system.Coordinator).Pause),
	metatx.MethodUnpause:            relayModeCall((*system.Coordinator).Unpause),
	metatx.MethodTriggerDisaster:    relayModeCall((*system.Coordinator).TriggerDisaster),
	metatx.MethodRotateEscrowPool:   relayRotateEscrowPool,
	metatx.MethodSetComplainPeriod:  relaySetPeriod(system.PeriodComplain),
	metatx.MethodSetCancelPeriod:    relaySetPeriod(system.PeriodCancelFault),
	metatx.MethodBindGate:           relayBindGate,
}

// RelayMethods lists every method the relayer routes.
func RelayMethods() []string {
	methods := make([]string, 0, len(relayHandlers))
	for method := range relayHandlers {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return methods
}

// Relay verifies a signed envelope and applies the call on behalf of its
// signer. Nonce consumption and the call share one state transaction, so a
// rejected call leaves the nonce unused.
func (n *Node) Relay(ctx context.Context, env *metatx.Envelope) (*RelayReceipt, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: missing envelope", ErrInvalidPayload)
	}
	handler, ok := relayHandlers[env.Method]
	if !ok {
		n.metrics.RecordRelay(env.Method, coreerrors.Kind(metatx.ErrUnknownMethod))
		return nil, fmt.Errorf("%w: %q", metatx.ErrUnknownMethod, env.Method)
	}
	var result interface{}
	err := n.exec(ctx, "relay."+env.Method, func() error {
		if err := metatx.Consume(n.domain, n.state, env); err != nil {
			return err
		}
		var err error
		result, err = handler(n, env.Signer, env.Payload)
		return err
	})
	n.metrics.RecordRelay(env.Method, coreerrors.Kind(err))
	if err != nil {
		return nil, err
	}
	return &RelayReceipt{
		ID:     uuid.NewString(),
		Method: env.Method,
		Signer: env.Signer,
		Nonce:  env.Nonce,
		Result: result,
	}, nil
}

func decodePayload(raw json.RawMessage, out interface{}) error {
	if err := metatx.Decode(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func payloadAmount(value string) (*big.Int, error) {
	amount, err := metatx.ParseAmount(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return amount, nil
}

func payloadID(value string) ([32]byte, error) {
	id, err := metatx.ParseID(value)
	if err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return id, nil
}

func payloadAsset(value string) (types.Asset, error) {
	asset, err := types.ParseAsset(value)
	if err != nil {
		return asset, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return asset, nil
}

func relayCreateVoucherSet(n *Node, signer [20]byte, raw json.RawMessage) (interface{}, error) {
	var payload metatx.CreateVoucherSetPayload
	if err := decodePayload(raw, &payload); err != nil {
		return nil, err
	}
	terms := voucher.Terms{
		ValidFrom: payload.ValidFrom,
		ValidTo:   payload.ValidTo,
		Quantity:  payload.Quantity,
	}
	var err error
	if terms.Price, err = payloadAmount(payload.Price); err != nil {
		return nil, err
	}
	if terms.SellerDeposit, err = payloadAmount(payload.SellerDeposit); err != nil {
		return nil, err
	}
	if terms.BuyerDeposit, err = payloadAmount(payload.BuyerDeposit); err != nil {
		return nil, err
	}
	if terms.PriceAsset, err = payloadAsset(payload.PriceAsset); err != nil {
		return nil, err
	}
	if terms.DepositAsset, err = payloadAsset(payload.DepositAsset); err != nil {
		return nil, err
	}
	deposit, err := payloadAmount(payload.Deposit)
	if err != nil {
		return nil, err
	}
	return n.vouchers.CreateVoucherSet(signer, terms, voucher.Payment{Deposit: deposit})
}

func relayCancelVoucherSet(n *Node, signer [20]byte, raw json.RawMessage) (interface{}, error) {
	var payload metatx.SetPayload
	if err := decodePayload(raw, &payload); err != nil {
		return nil, err
	}
	setID, err := payloadID(payload.SetID)
	if err != nil {
		return nil, err
	}
	return n.vouchers.CancelVoucherSet(setID, signer)
}

func relayCommit(n *Node, signer [20]byte, raw json.RawMessage) (interface{}, error) {
	var payload metatx.CommitPayload
	if err := decodePayload(raw, &payload); err != nil {
		return nil, err
	}
	setID, err := payloadID(payload.SetID)
	if err != nil {
		return nil, err
	}
	price, err := payloadAmount(payload.Price)
	if err != nil {
		return nil, err
	}
	deposit, err := payloadAmount(payload.Deposit)
	if err != nil {
		return nil, err
	}
	return n.vouchers.Commit(setID, signer, voucher.Payment{Price: price, Deposit: deposit})
}

func relayVoucherCall(call func(*voucher.Engine, [32]byte, [20]byte) (*voucher.Voucher, error)) relayHandler {
	return func(n *Node, signer [20]byte, raw json.RawMessage) (interface{}, error) {
		var payload metatx.VoucherPayload
		if err := decodePayload(raw, &payload); err != nil {
			return nil, err
		}
		id, err := payloadID(payload.VoucherID)
		if err != nil {
			return nil, err
		}
		return call(n.vouchers, id, signer)
	}
}

func relayPoke(call func(*voucher.Engine, [32]byte) (*voucher.Voucher, error)) relayHandler {
	return func(n *Node, _ [20]byte, raw json.RawMessage) (interface{}, error) {
		var payload metatx.VoucherPayload
		if err := decodePayload(raw, &payload); err != nil {
			return nil, err
		}
		id, err := payloadID(payload.VoucherID)
		if err != nil {
			return nil, err
		}
		return call(n.vouchers, id)
	}
}

func relayTransferVoucher(n *Node, signer [20]byte, raw json.RawMessage) (interface{}, error) {
	var payload metatx.TransferPayload
	if err := decodePayload(raw, &payload); err != nil {
		return nil, err
	}
	id, err := payloadID(payload.VoucherID)
	if err != nil {
		return nil, err
	}
	to, err := metatx.ParseAddress(payload.To)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return n.vouchers.TransferVoucher(id, signer, to)
}

func relayWithdraw(disaster bool) relayHandler {
	return func(n *Node, signer [20]byte, raw json.RawMessage) (interface{}, error) {
		var payload metatx.WithdrawPayload
		if err := decodePayload(raw, &payload); err != nil {
			return nil, err
		}
		asset, err := payloadAsset(payload.Asset)
		if err != nil {
			return nil, err
		}
		var paid *big.Int
		if disaster {
			paid, err = n.escrow.WithdrawOnDisaster(signer, asset)
		} else {
			paid, err = n.escrow.Withdraw(signer, asset)
		}
		if err != nil {
			return nil, err
		}
		return &WithdrawResult{Asset: asset, Amount: paid}, nil
	}
}

func relayModeCall(call func(*system.Coordinator, [20]byte) error) relayHandler {
	return func(n *Node, signer [20]byte, raw json.RawMessage) (interface{}, error) {
		if err := decodePayload(raw, &struct{}{}); err != nil {
			return nil, err
		}
		if err := call(n.system, signer); err != nil {
			return nil, err
		}
		return n.system.Settings()
	}
}

func relayRotateEscrowPool(n *Node, signer [20]byte, raw json.RawMessage) (interface{}, error) {
	var payload metatx.PoolPayload
	if err := decodePayload(raw, &payload); err != nil {
		return nil, err
	}
	pool, err := metatx.ParseAddress(payload.Pool)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := n.system.RotateEscrowPool(signer, pool); err != nil {
		return nil, err
	}
	return n.system.Settings()
}

func relaySetPeriod(period string) relayHandler {
	return func(n *Node, signer [20]byte, raw json.RawMessage) (interface{}, error) {
		var payload metatx.PeriodPayload
		if err := decodePayload(raw, &payload); err != nil {
			return nil, err
		}
		if err := n.system.SetPeriod(signer, n.vouchers, period, payload.Seconds); err != nil {
			return nil, err
		}
		return n.vouchers.Params()
	}
}

func relayBindGate(n *Node, signer [20]byte, raw json.RawMessage) (interface{}, error) {
	var payload metatx.BindGatePayload
	if err := decodePayload(raw, &payload); err != nil {
		return nil, err
	}
	setID, err := payloadID(payload.SetID)
	if err != nil {
		return nil, err
	}
	tokenID, err := payloadID(payload.TokenID)
	if err != nil {
		return nil, err
	}
	return n.bindGate(signer, setID, tokenID)
}
