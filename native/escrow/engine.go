package escrow

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "github.com/nickbax/ump-auction-test/core/errors"
	"github.com/nickbax/ump-auction-test/core/events"
	"github.com/nickbax/ump-auction-test/core/state"
	"github.com/nickbax/ump-auction-test/core/types"
	"github.com/nickbax/ump-auction-test/native/bank"
	nativecommon "github.com/nickbax/ump-auction-test/native/common"
)

// Engine is the escrow factory and the state machine of every escrow it
// deploys. Each escrow is addressed by the custody address derived from the
// factory address and its sequence number.
type Engine struct {
	state   *state.Manager
	bank    *bank.Ledger
	factory common.Address
	emitter events.Emitter
	pauses  nativecommon.PauseView
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine(manager *state.Manager, ledger *bank.Ledger, factory common.Address) *Engine {
	return &Engine{
		state:   manager,
		bank:    ledger,
		factory: factory,
		emitter: events.NoopEmitter{},
	}
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses configures the pause view consulted before every mutation.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// Factory returns the deployer address escrow addresses are derived from.
func (e *Engine) Factory() common.Address { return e.factory }

func (e *Engine) emit(ctx context.Context, event *types.Event) {
	if event == nil {
		return
	}
	emitter := e.emitter
	e.state.OnCommit(ctx, func() { emitter.Emit(event) })
}

func guardName(addr common.Address) string {
	return "escrow/" + addr.Hex()
}

// mutate loads the escrow at addr under its reentrancy guard, applies fn and
// persists the result. Any failure reverts the whole call.
func (e *Engine) mutate(ctx context.Context, addr common.Address, fn func(ctx context.Context, esc *Escrow) error) error {
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleEscrow); err != nil {
		return err
	}
	return e.state.Atomic(ctx, guardName(addr), func(ctx context.Context) error {
		esc, err := e.load(addr)
		if err != nil {
			return err
		}
		if !esc.Initialized {
			return coreerrors.Wrap(coreerrors.ErrNotInitialized, "escrow %s", addr.Hex())
		}
		if err := fn(ctx, esc); err != nil {
			return err
		}
		return e.store(esc)
	})
}

// Allocate reserves the next escrow address without binding any parties, the
// way a factory clones a fresh instance before initialising it.
func (e *Engine) Allocate(ctx context.Context) (*Escrow, error) {
	var out *Escrow
	err := e.state.Atomic(ctx, "", func(ctx context.Context) error {
		id, err := e.state.NextSequence(sequenceKey)
		if err != nil {
			return err
		}
		esc := &Escrow{ID: id, Address: DeriveAddress(e.factory, id), CreatedAt: e.state.Now(ctx)}
		if err := e.store(esc); err != nil {
			return err
		}
		out = esc.Clone()
		return nil
	})
	return out, err
}

// Initialize binds the immutable parties of an allocated escrow. It can only
// succeed once per escrow.
func (e *Engine) Initialize(ctx context.Context, addr, payee, storefront, arbiter common.Address) error {
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleEscrow); err != nil {
		return err
	}
	return e.state.Atomic(ctx, guardName(addr), func(ctx context.Context) error {
		esc, err := e.load(addr)
		if err != nil {
			return err
		}
		if esc.Initialized {
			return coreerrors.Wrap(coreerrors.ErrAlreadyInitialized, "escrow %s", addr.Hex())
		}
		zero := common.Address{}
		if payee == zero || storefront == zero || arbiter == zero {
			return coreerrors.Wrap(coreerrors.ErrInvalidAddress, "payee, storefront and arbiter are required")
		}
		esc.Payee = payee
		esc.Storefront = storefront
		esc.Arbiter = arbiter
		esc.Initialized = true
		if err := e.store(esc); err != nil {
			return err
		}
		e.emit(ctx, NewCreatedEvent(esc))
		return nil
	})
}

// Create deploys and initialises a fresh escrow in one step.
func (e *Engine) Create(ctx context.Context, payee, storefront, arbiter common.Address) (*Escrow, error) {
	var out *Escrow
	err := e.state.Atomic(ctx, "", func(ctx context.Context) error {
		esc, err := e.Allocate(ctx)
		if err != nil {
			return err
		}
		if err := e.Initialize(ctx, esc.Address, payee, storefront, arbiter); err != nil {
			return err
		}
		out, err = e.load(esc.Address)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns a copy of the escrow stored at addr.
func (e *Engine) Get(ctx context.Context, addr common.Address) (*Escrow, error) {
	var out *Escrow
	err := e.state.View(ctx, func(context.Context) error {
		esc, err := e.load(addr)
		if err != nil {
			return err
		}
		out = esc
		return nil
	})
	return out, err
}

// SetPayer binds the buyer and starts the settlement clock. Only the owning
// storefront may call it, and only once.
func (e *Engine) SetPayer(ctx context.Context, caller, addr, payer common.Address, settleDelay uint64) error {
	return e.mutate(ctx, addr, func(ctx context.Context, esc *Escrow) error {
		if caller != esc.Storefront {
			return coreerrors.Wrap(coreerrors.ErrUnauthorized, "only the storefront may set the payer")
		}
		if payer == (common.Address{}) {
			return coreerrors.Wrap(coreerrors.ErrInvalidAddress, "payer is required")
		}
		if err := esc.Payer.Bind("payer", payer); err != nil {
			return err
		}
		esc.SettleTime = e.state.Now(ctx) + settleDelay
		e.emit(ctx, newPayerSetEvent(esc))
		return nil
	})
}

// SetAffiliate binds the referral share exactly once. A zero affiliate
// consumes the binding with a zero share.
func (e *Engine) SetAffiliate(ctx context.Context, caller, addr, affiliate common.Address, shareBps uint64) error {
	return e.mutate(ctx, addr, func(ctx context.Context, esc *Escrow) error {
		if caller != esc.Storefront {
			return coreerrors.Wrap(coreerrors.ErrUnauthorized, "only the storefront may set the affiliate")
		}
		if esc.Affiliate.Bound {
			return coreerrors.Wrap(coreerrors.ErrInvalidState, "affiliate already set")
		}
		if affiliate == (common.Address{}) {
			shareBps = 0
		} else if err := nativecommon.ValidateBps("affiliate share", shareBps); err != nil {
			return err
		}
		if err := esc.Affiliate.Bind("affiliate", AffiliateBinding{Address: affiliate, ShareBps: shareBps}); err != nil {
			return err
		}
		e.emit(ctx, newAffiliateSetEvent(esc))
		return nil
	})
}

// Settle releases amount of currency to the payee, less the affiliate share.
// The payer may settle at any time and doing so records the authorisation.
// The payee may settle once that authorisation exists or the settlement time
// has passed.
func (e *Engine) Settle(ctx context.Context, caller, addr, currency common.Address, amount *uint256.Int) error {
	return e.mutate(ctx, addr, func(ctx context.Context, esc *Escrow) error {
		if esc.IsDisputed {
			return coreerrors.Wrap(coreerrors.ErrInvalidState, "escrow is disputed")
		}
		payer, bound := esc.Payer.Get()
		if !bound {
			return coreerrors.Wrap(coreerrors.ErrInvalidState, "payer not set")
		}
		switch caller {
		case payer:
			esc.IsSettled = true
		case esc.Payee:
			if !esc.IsSettled && e.state.Now(ctx) < esc.SettleTime {
				return coreerrors.Wrap(coreerrors.ErrInvalidState, "settlement opens at %d", esc.SettleTime)
			}
		default:
			return coreerrors.Wrap(coreerrors.ErrUnauthorized, "only the payer or payee may settle")
		}
		if err := e.store(esc); err != nil {
			return err
		}
		payeeAmount, affiliateAmount, err := e.release(ctx, esc, currency, amount)
		if err != nil {
			return err
		}
		e.emit(ctx, NewSettledEvent(esc, caller, currency, payeeAmount, affiliateAmount))
		return nil
	})
}

// Refund returns amount of currency to the payer. Only the payee may refund,
// and may do so at any time.
func (e *Engine) Refund(ctx context.Context, caller, addr, currency common.Address, amount *uint256.Int) error {
	return e.mutate(ctx, addr, func(ctx context.Context, esc *Escrow) error {
		if caller != esc.Payee {
			return coreerrors.Wrap(coreerrors.ErrUnauthorized, "only the payee may refund")
		}
		payer, bound := esc.Payer.Get()
		if !bound {
			return coreerrors.Wrap(coreerrors.ErrInvalidState, "payer not set")
		}
		if err := e.pay(ctx, esc, currency, payer, amount); err != nil {
			return err
		}
		e.emit(ctx, newRefundedEvent(esc, currency, amount))
		return nil
	})
}

// Dispute blocks settlement until the arbiter resolves it or the payer
// withdraws the dispute.
func (e *Engine) Dispute(ctx context.Context, caller, addr common.Address) error {
	return e.mutate(ctx, addr, func(ctx context.Context, esc *Escrow) error {
		if err := requirePayer(esc, caller); err != nil {
			return err
		}
		if esc.IsSettled {
			return coreerrors.Wrap(coreerrors.ErrInvalidState, "escrow already settled")
		}
		if esc.IsDisputed {
			return nil
		}
		esc.IsDisputed = true
		e.emit(ctx, newDisputeEvent(EventTypeDisputed, esc))
		return nil
	})
}

// RemoveDispute clears the dispute flag. Clearing an undisputed escrow is a
// no-op.
func (e *Engine) RemoveDispute(ctx context.Context, caller, addr common.Address) error {
	return e.mutate(ctx, addr, func(ctx context.Context, esc *Escrow) error {
		if err := requirePayer(esc, caller); err != nil {
			return err
		}
		if !esc.IsDisputed {
			return nil
		}
		esc.IsDisputed = false
		e.emit(ctx, newDisputeEvent(EventTypeDisputeRemoved, esc))
		return nil
	})
}

// ResolveDispute lets the arbiter either settle amount through the usual
// split or refund it to the payer, and clears the dispute.
func (e *Engine) ResolveDispute(ctx context.Context, caller, addr common.Address, shouldSettle bool, currency common.Address, amount *uint256.Int) error {
	return e.mutate(ctx, addr, func(ctx context.Context, esc *Escrow) error {
		if caller != esc.Arbiter {
			return coreerrors.Wrap(coreerrors.ErrUnauthorized, "only the arbiter may resolve disputes")
		}
		if !esc.IsDisputed {
			return coreerrors.Wrap(coreerrors.ErrInvalidState, "escrow is not disputed")
		}
		esc.IsDisputed = false
		esc.Resolved = true
		if shouldSettle {
			esc.IsSettled = true
		}
		if err := e.store(esc); err != nil {
			return err
		}
		if shouldSettle {
			if _, _, err := e.release(ctx, esc, currency, amount); err != nil {
				return err
			}
		} else if err := e.pay(ctx, esc, currency, esc.PayerAddress(), amount); err != nil {
			return err
		}
		e.emit(ctx, newDisputeResolvedEvent(esc, shouldSettle, currency, amount))
		return nil
	})
}

// SetEscapeAddress records the arbiter-approved emergency payout target.
func (e *Engine) SetEscapeAddress(ctx context.Context, caller, addr, escapeAddr common.Address) error {
	return e.mutate(ctx, addr, func(ctx context.Context, esc *Escrow) error {
		if caller != esc.Arbiter {
			return coreerrors.Wrap(coreerrors.ErrUnauthorized, "only the arbiter may set the escape address")
		}
		if escapeAddr == (common.Address{}) {
			return coreerrors.Wrap(coreerrors.ErrInvalidAddress, "escape address is required")
		}
		esc.EscapeAddress = escapeAddr
		e.emit(ctx, newEscapeAddressSetEvent(esc))
		return nil
	})
}

// Escape moves amount to the escape address regardless of dispute state. The
// caller must name the address the arbiter approved.
func (e *Engine) Escape(ctx context.Context, caller, addr, currency common.Address, amount *uint256.Int, to common.Address) error {
	return e.mutate(ctx, addr, func(ctx context.Context, esc *Escrow) error {
		if caller == (common.Address{}) || (caller != esc.PayerAddress() && caller != esc.Payee) {
			return coreerrors.Wrap(coreerrors.ErrUnauthorized, "only the payer or payee may escape")
		}
		if esc.EscapeAddress == (common.Address{}) || to != esc.EscapeAddress {
			return coreerrors.Wrap(coreerrors.ErrInvalidParameters, "escape address mismatch")
		}
		esc.Escaped = true
		if err := e.store(esc); err != nil {
			return err
		}
		if err := e.pay(ctx, esc, currency, to, amount); err != nil {
			return err
		}
		e.emit(ctx, newEscapedEvent(esc, caller, currency, amount))
		return nil
	})
}

// ChangeArbiter records the payee's proposal for a new arbiter.
func (e *Engine) ChangeArbiter(ctx context.Context, caller, addr, proposed common.Address) error {
	return e.mutate(ctx, addr, func(ctx context.Context, esc *Escrow) error {
		if caller != esc.Payee {
			return coreerrors.Wrap(coreerrors.ErrUnauthorized, "only the payee may propose an arbiter")
		}
		if proposed == (common.Address{}) {
			return coreerrors.Wrap(coreerrors.ErrInvalidAddress, "proposed arbiter is required")
		}
		esc.ProposedArbiter = proposed
		e.emit(ctx, newArbiterEvent(EventTypeArbiterProposed, esc, proposed))
		return nil
	})
}

// ApproveArbiter lets the payer accept the pending proposal.
func (e *Engine) ApproveArbiter(ctx context.Context, caller, addr, proposed common.Address) error {
	return e.mutate(ctx, addr, func(ctx context.Context, esc *Escrow) error {
		if err := requirePayer(esc, caller); err != nil {
			return err
		}
		if esc.ProposedArbiter == (common.Address{}) || proposed != esc.ProposedArbiter {
			return coreerrors.Wrap(coreerrors.ErrInvalidParameters, "proposal mismatch")
		}
		esc.Arbiter = proposed
		esc.ProposedArbiter = common.Address{}
		e.emit(ctx, newArbiterEvent(EventTypeArbiterChanged, esc, proposed))
		return nil
	})
}

func requirePayer(esc *Escrow, caller common.Address) error {
	payer, bound := esc.Payer.Get()
	if !bound || caller != payer {
		return coreerrors.Wrap(coreerrors.ErrUnauthorized, "only the payer may call this")
	}
	return nil
}

// release pays amount out split between payee and affiliate.
func (e *Engine) release(ctx context.Context, esc *Escrow, currency common.Address, amount *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	affiliate, share := esc.AffiliateAddress()
	if affiliate == (common.Address{}) {
		share = 0
	}
	payeeAmount, affiliateAmount := nativecommon.Split(amount, share)
	if err := e.pay(ctx, esc, currency, esc.Payee, payeeAmount); err != nil {
		return nil, nil, err
	}
	if !affiliateAmount.IsZero() {
		if err := e.pay(ctx, esc, currency, affiliate, affiliateAmount); err != nil {
			return nil, nil, err
		}
	}
	return payeeAmount, affiliateAmount, nil
}

// pay transfers amount of currency out of the escrow's custody. The zero
// currency denotes native value.
func (e *Engine) pay(ctx context.Context, esc *Escrow, currency, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	if currency == (common.Address{}) {
		return e.bank.TransferNative(ctx, esc.Address, to, amount)
	}
	ok, err := e.bank.TransferToken(ctx, currency, esc.Address, to, amount)
	if err != nil {
		return fmt.Errorf("escrow: token transfer: %w", err)
	}
	if !ok {
		return coreerrors.Wrap(coreerrors.ErrTokenTransferFailed, "%s of %s to %s", amount.Dec(), currency.Hex(), to.Hex())
	}
	return nil
}
