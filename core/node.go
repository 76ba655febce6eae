package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	coreerrors "voucherchain/core/errors"
	"voucherchain/core/events"
	"voucherchain/core/state"
	"voucherchain/core/types"
	"voucherchain/native/escrow"
	"voucherchain/native/gate"
	"voucherchain/native/inventory"
	"voucherchain/native/system"
	"voucherchain/native/voucher"
	"voucherchain/observability"
	"voucherchain/storage"
)

// DefaultRelayDomain separates relay signatures of this deployment from any
// other network signing the same payloads.
const DefaultRelayDomain = "voucherchain/relay/v1"

var (
	errNilNode = errors.New("node not initialised")
	// ErrNotSeller is returned when an operation reserved to a set's seller is
	// attempted by someone else.
	ErrNotSeller = fmt.Errorf("%w: caller is not the seller", coreerrors.ErrGuardViolation)
)

// Config carries the deployment constants the node is wired with.
type Config struct {
	Owner      [20]byte
	EscrowPool [20]byte
	// Vault is the account that custodies every escrowed amount.
	Vault [20]byte
	// MinPeriod bounds the lifecycle windows from below, in seconds.
	MinPeriod int64
	// Params seed the lifecycle windows on first start.
	Params      voucher.Params
	RelayDomain string
	Logger      *slog.Logger
}

// Node is the central controller, wiring the lifecycle, escrow and
// coordinator engines to a single state manager. Every operation runs under
// stateMu inside a staged transaction that is committed on success and
// discarded on failure. Events are held back until the commit succeeded.
type Node struct {
	db      storage.Database
	state   *state.Manager
	stateMu sync.Mutex

	buffer *events.Buffer
	sinks  events.Fanout
	sinkMu sync.RWMutex

	system    *system.Coordinator
	inventory *inventory.Ledger
	gate      *gate.Gate
	escrow    *escrow.Engine
	vouchers  *voucher.Engine

	domain  string
	logger  *slog.Logger
	metrics interface {
		RecordOperation(op, outcome string, duration time.Duration)
		RecordRelay(method, outcome string)
	}
	tracer trace.Tracer
	nowFn  func() int64

	stream eventStream
}

// NewNode opens the node on top of db. Lifecycle windows from cfg are
// persisted the first time the node starts against an empty database.
func NewNode(db storage.Database, cfg Config) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("node: database required")
	}
	if cfg.Vault == ([20]byte{}) {
		return nil, fmt.Errorf("node: vault address required")
	}
	if cfg.Owner == ([20]byte{}) {
		return nil, fmt.Errorf("node: owner address required")
	}
	if cfg.EscrowPool == cfg.Vault {
		return nil, fmt.Errorf("node: escrow pool must differ from vault")
	}
	if cfg.Params != (voucher.Params{}) {
		if err := cfg.Params.Validate(cfg.MinPeriod); err != nil {
			return nil, fmt.Errorf("node: %w", err)
		}
	}
	domain := cfg.RelayDomain
	if domain == "" {
		domain = DefaultRelayDomain
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	manager := state.NewManager(db)
	buffer := new(events.Buffer)

	coordinator := system.NewCoordinator(manager, system.Settings{
		Mode:       system.ModeActive,
		Owner:      cfg.Owner,
		EscrowPool: cfg.EscrowPool,
	})
	coordinator.SetEmitter(buffer)
	coordinator.SetVault(cfg.Vault)

	ledger := inventory.NewLedger(manager)
	ledger.SetEmitter(buffer)

	gating := gate.New(manager, ledger)
	gating.SetEmitter(buffer)

	escrowEngine := escrow.NewEngine(manager, cfg.Vault, coordinator, coordinator)
	escrowEngine.SetEmitter(buffer)

	voucherEngine := voucher.NewEngine(voucher.Deps{
		State:       manager,
		Distributor: escrowEngine,
		Inventory:   ledger,
		Gate:        gating,
		Pause:       coordinator,
		Emitter:     buffer,
		MinPeriod:   cfg.MinPeriod,
	})

	n := &Node{
		db:        db,
		state:     manager,
		buffer:    buffer,
		system:    coordinator,
		inventory: ledger,
		gate:      gating,
		escrow:    escrowEngine,
		vouchers:  voucherEngine,
		domain:    domain,
		logger:    logger.With(slog.String("component", "node")),
		metrics:   observability.Vouchers(),
		tracer:    otel.Tracer("voucherchain/core"),
		nowFn:     func() int64 { return time.Now().Unix() },
	}
	n.AddSink(observability.Events())

	if err := n.seedParams(cfg.Params); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Node) seedParams(params voucher.Params) error {
	if params.ComplainPeriod == 0 && params.CancelFaultPeriod == 0 {
		return nil
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	_, ok, err := n.state.VoucherParamsGet()
	if err != nil || ok {
		return err
	}
	if err := n.state.VoucherParamsPut(params); err != nil {
		n.state.Discard()
		return err
	}
	return n.state.Commit()
}

// SetNowFunc overrides the clock of every engine. Intended for tests and
// simulations that need deterministic timestamps.
func (n *Node) SetNowFunc(now func() int64) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	n.nowFn = now
	n.system.SetNowFunc(now)
	n.escrow.SetNowFunc(now)
	n.vouchers.SetNowFunc(now)
}

// AddSink registers an emitter that receives every committed event.
func (n *Node) AddSink(sink events.Emitter) {
	if n == nil || sink == nil {
		return
	}
	n.sinkMu.Lock()
	n.sinks = append(n.sinks, sink)
	n.sinkMu.Unlock()
}

// RelayDomain returns the domain separator relayed signatures must commit to.
func (n *Node) RelayDomain() string { return n.domain }

// Vault returns the custody account.
func (n *Node) Vault() [20]byte { return n.escrow.Vault() }

// exec runs fn as one atomic operation.
func (n *Node) exec(ctx context.Context, op string, fn func() error) error {
	if n == nil || n.state == nil {
		return errNilNode
	}
	if ctx == nil {
		ctx = context.Background()
	}
	_, span := n.tracer.Start(ctx, "voucher."+op, trace.WithAttributes(attribute.String("voucher.op", op)))
	defer span.End()

	start := time.Now()
	n.stateMu.Lock()
	err := fn()
	if err == nil {
		err = n.state.Commit()
	}
	var committed []events.Event
	if err != nil {
		n.state.Discard()
		n.buffer.Reset()
	} else {
		// Published under the lock so sinks observe operations in commit order.
		committed = n.buffer.Drain()
		n.publish(committed, n.now())
	}
	n.stateMu.Unlock()

	kind := coreerrors.Kind(err)
	n.metrics.RecordOperation(op, kind, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		n.logger.Debug("operation rejected", slog.String("op", op), slog.String("kind", kind), slog.Any("error", err))
		return err
	}
	n.logger.Debug("operation applied", slog.String("op", op), slog.Int("events", len(committed)))
	return nil
}

func (n *Node) publish(committed []events.Event, at int64) {
	if len(committed) == 0 {
		return
	}
	n.sinkMu.RLock()
	sinks := append(events.Fanout(nil), n.sinks...)
	n.sinkMu.RUnlock()
	for _, evt := range committed {
		sinks.Emit(evt)
		n.stream.publish(evt, at)
	}
}

func (n *Node) now() int64 {
	if n.nowFn == nil {
		return time.Now().Unix()
	}
	return n.nowFn()
}

// CreateVoucherSet opens a new set on behalf of seller. deposit must equal
// the seller deposit times the quantity.
func (n *Node) CreateVoucherSet(ctx context.Context, seller [20]byte, terms voucher.Terms, deposit *big.Int) (*voucher.VoucherSet, error) {
	var set *voucher.VoucherSet
	err := n.exec(ctx, "create_voucher_set", func() error {
		var err error
		set, err = n.vouchers.CreateVoucherSet(seller, terms, voucher.Payment{Deposit: deposit})
		return err
	})
	return set, err
}

// CancelVoucherSet withdraws the unsold supply of a set.
func (n *Node) CancelVoucherSet(ctx context.Context, setID [32]byte, caller [20]byte) (*voucher.VoucherSet, error) {
	var set *voucher.VoucherSet
	err := n.exec(ctx, "cancel_voucher_set", func() error {
		var err error
		set, err = n.vouchers.CancelVoucherSet(setID, caller)
		return err
	})
	return set, err
}

// Commit draws one voucher from the set for buyer.
func (n *Node) Commit(ctx context.Context, setID [32]byte, buyer [20]byte, payment voucher.Payment) (*voucher.Voucher, error) {
	return n.voucherOp(ctx, "commit", func() (*voucher.Voucher, error) {
		return n.vouchers.Commit(setID, buyer, payment)
	})
}

// Redeem marks the voucher as redeemed by its holder.
func (n *Node) Redeem(ctx context.Context, id [32]byte, caller [20]byte) (*voucher.Voucher, error) {
	return n.voucherOp(ctx, "redeem", func() (*voucher.Voucher, error) {
		return n.vouchers.Redeem(id, caller)
	})
}

// Refund returns the voucher to the seller before it expires.
func (n *Node) Refund(ctx context.Context, id [32]byte, caller [20]byte) (*voucher.Voucher, error) {
	return n.voucherOp(ctx, "refund", func() (*voucher.Voucher, error) {
		return n.vouchers.Refund(id, caller)
	})
}

// Complain records the holder's complaint.
func (n *Node) Complain(ctx context.Context, id [32]byte, caller [20]byte) (*voucher.Voucher, error) {
	return n.voucherOp(ctx, "complain", func() (*voucher.Voucher, error) {
		return n.vouchers.Complain(id, caller)
	})
}

// CancelOrFault records the seller's admission of fault.
func (n *Node) CancelOrFault(ctx context.Context, id [32]byte, caller [20]byte) (*voucher.Voucher, error) {
	return n.voucherOp(ctx, "cancel_or_fault", func() (*voucher.Voucher, error) {
		return n.vouchers.CancelOrFault(id, caller)
	})
}

// TransferVoucher moves a committed voucher and its escrowed holdings.
func (n *Node) TransferVoucher(ctx context.Context, id [32]byte, from, to [20]byte) (*voucher.Voucher, error) {
	return n.voucherOp(ctx, "transfer_voucher", func() (*voucher.Voucher, error) {
		return n.vouchers.TransferVoucher(id, from, to)
	})
}

// TriggerExpiration is the permissionless expiry poke.
func (n *Node) TriggerExpiration(ctx context.Context, id [32]byte) (*voucher.Voucher, error) {
	return n.voucherOp(ctx, "trigger_expiration", func() (*voucher.Voucher, error) {
		return n.vouchers.TriggerExpiration(id)
	})
}

// TriggerFinalize is the permissionless finalization poke.
func (n *Node) TriggerFinalize(ctx context.Context, id [32]byte) (*voucher.Voucher, error) {
	return n.voucherOp(ctx, "trigger_finalize", func() (*voucher.Voucher, error) {
		return n.vouchers.TriggerFinalize(id)
	})
}

func (n *Node) voucherOp(ctx context.Context, op string, fn func() (*voucher.Voucher, error)) (*voucher.Voucher, error) {
	var out *voucher.Voucher
	err := n.exec(ctx, op, func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}

// Withdraw pays out party's ledger balance of asset.
func (n *Node) Withdraw(ctx context.Context, party [20]byte, asset types.Asset) (*big.Int, error) {
	var paid *big.Int
	err := n.exec(ctx, "withdraw", func() error {
		var err error
		paid, err = n.escrow.Withdraw(party, asset)
		return err
	})
	return paid, err
}

// WithdrawOnDisaster pays out everything attributed to party, held or owed.
func (n *Node) WithdrawOnDisaster(ctx context.Context, party [20]byte, asset types.Asset) (*big.Int, error) {
	var paid *big.Int
	err := n.exec(ctx, "withdraw_on_disaster", func() error {
		var err error
		paid, err = n.escrow.WithdrawOnDisaster(party, asset)
		return err
	})
	return paid, err
}

// Pause halts every lifecycle operation.
func (n *Node) Pause(ctx context.Context, caller [20]byte) error {
	return n.exec(ctx, "pause", func() error { return n.system.Pause(caller) })
}

// Unpause resumes normal operation.
func (n *Node) Unpause(ctx context.Context, caller [20]byte) error {
	return n.exec(ctx, "unpause", func() error { return n.system.Unpause(caller) })
}

// TriggerDisaster enters the irreversible disaster mode.
func (n *Node) TriggerDisaster(ctx context.Context, caller [20]byte) error {
	return n.exec(ctx, "trigger_disaster", func() error { return n.system.TriggerDisaster(caller) })
}

// RotateEscrowPool replaces the pool address while paused.
func (n *Node) RotateEscrowPool(ctx context.Context, caller, pool [20]byte) error {
	return n.exec(ctx, "rotate_escrow_pool", func() error { return n.system.RotateEscrowPool(caller, pool) })
}

// SetComplainPeriod updates the complaint window on behalf of the owner.
func (n *Node) SetComplainPeriod(ctx context.Context, caller [20]byte, seconds int64) error {
	return n.exec(ctx, "set_complain_period", func() error {
		return n.system.SetPeriod(caller, n.vouchers, system.PeriodComplain, seconds)
	})
}

// SetCancelFaultPeriod updates the cancel-or-fault window on behalf of the
// owner.
func (n *Node) SetCancelFaultPeriod(ctx context.Context, caller [20]byte, seconds int64) error {
	return n.exec(ctx, "set_cancel_fault_period", func() error {
		return n.system.SetPeriod(caller, n.vouchers, system.PeriodCancelFault, seconds)
	})
}

// BindGate restricts commits on a set to holders of tokenID. Only the set's
// seller may bind it; binding again starts a new generation so every holder
// may commit once more.
func (n *Node) BindGate(ctx context.Context, caller [20]byte, setID, tokenID [32]byte) (*gate.Binding, error) {
	var binding *gate.Binding
	err := n.exec(ctx, "bind_gate", func() error {
		var err error
		binding, err = n.bindGate(caller, setID, tokenID)
		return err
	})
	return binding, err
}

func (n *Node) bindGate(caller [20]byte, setID, tokenID [32]byte) (*gate.Binding, error) {
	if err := n.system.Guard(); err != nil {
		return nil, err
	}
	set, err := n.vouchers.VoucherSet(setID)
	if err != nil {
		return nil, err
	}
	if set.Seller != caller {
		return nil, ErrNotSeller
	}
	return n.gate.Bind(setID, tokenID)
}

// Fund credits amount of asset to addr. It backs the development faucet and
// is only reachable through the authenticated admin surface.
func (n *Node) Fund(ctx context.Context, addr [20]byte, asset types.Asset, amount *big.Int) error {
	return n.exec(ctx, "fund", func() error {
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("%w: fund amount must be positive", coreerrors.ErrGuardViolation)
		}
		return n.state.Credit(addr, asset, amount)
	})
}

// MintCredential issues amount units of a gating credential to holder.
func (n *Node) MintCredential(ctx context.Context, tokenID [32]byte, holder [20]byte, amount uint64) error {
	return n.exec(ctx, "mint_credential", func() error {
		return n.inventory.Mint(tokenID, holder, amount)
	})
}
