package escrow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "github.com/nickbax/ump-auction-test/core/errors"
	"github.com/nickbax/ump-auction-test/core/events"
	"github.com/nickbax/ump-auction-test/core/state"
	"github.com/nickbax/ump-auction-test/native/bank"
	nativecommon "github.com/nickbax/ump-auction-test/native/common"
	"github.com/nickbax/ump-auction-test/storage"
)

func newTestAddress(fill byte) common.Address {
	var addr common.Address
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

var (
	factoryAddr    = newTestAddress(0xFA)
	payeeAddr      = newTestAddress(0x01)
	storefrontAddr = newTestAddress(0x02)
	arbiterAddr    = newTestAddress(0x03)
	payerAddr      = newTestAddress(0x04)
	affiliateAddr  = newTestAddress(0x05)
	strangerAddr   = newTestAddress(0x06)
	escapeAddr     = newTestAddress(0x07)
	tokenAddr      = newTestAddress(0x70)
)

type harness struct {
	t        *testing.T
	ctx      context.Context
	now      int64
	state    *state.Manager
	bank     *bank.Ledger
	engine   *Engine
	recorder *events.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	h := &harness{t: t, ctx: context.Background(), now: 1_000}
	h.state = state.NewManager(db)
	h.state.SetNowFunc(func() int64 { return h.now })
	h.bank = bank.NewLedger(h.state)
	h.recorder = &events.Recorder{}
	h.engine = NewEngine(h.state, h.bank, factoryAddr)
	h.engine.SetEmitter(h.recorder)
	return h
}

// funded creates an escrow with payer bound and amount of native value in
// custody.
func (h *harness) funded(amount uint64, settleDelay uint64) *Escrow {
	h.t.Helper()
	esc, err := h.engine.Create(h.ctx, payeeAddr, storefrontAddr, arbiterAddr)
	if err != nil {
		h.t.Fatalf("create: %v", err)
	}
	if err := h.engine.SetPayer(h.ctx, storefrontAddr, esc.Address, payerAddr, settleDelay); err != nil {
		h.t.Fatalf("set payer: %v", err)
	}
	h.credit(esc.Address, amount)
	return esc
}

func (h *harness) credit(addr common.Address, amount uint64) {
	h.t.Helper()
	err := h.state.Atomic(h.ctx, "", func(context.Context) error {
		return h.bank.Credit(addr, uint256.NewInt(amount))
	})
	if err != nil {
		h.t.Fatalf("credit: %v", err)
	}
}

func (h *harness) native(addr common.Address) uint64 {
	h.t.Helper()
	var out uint64
	_ = h.state.View(h.ctx, func(context.Context) error {
		bal, err := h.bank.NativeBalance(addr)
		if err != nil {
			h.t.Fatalf("balance: %v", err)
		}
		out = bal.Uint64()
		return nil
	})
	return out
}

func (h *harness) get(addr common.Address) *Escrow {
	h.t.Helper()
	esc, err := h.engine.Get(h.ctx, addr)
	if err != nil {
		h.t.Fatalf("get: %v", err)
	}
	return esc
}

func TestCreateDerivesSequentialAddresses(t *testing.T) {
	h := newHarness(t)
	first, err := h.engine.Create(h.ctx, payeeAddr, storefrontAddr, arbiterAddr)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := h.engine.Create(h.ctx, payeeAddr, storefrontAddr, arbiterAddr)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Address != DeriveAddress(factoryAddr, 1) || second.Address != DeriveAddress(factoryAddr, 2) {
		t.Fatalf("unexpected escrow addresses %s %s", first.Address.Hex(), second.Address.Hex())
	}
	if first.Status() != StatusCreated {
		t.Fatalf("expected created status, got %s", first.Status())
	}
	if got := len(h.recorder.OfType(EventTypeCreated)); got != 2 {
		t.Fatalf("expected two created events, got %d", got)
	}
}

func TestInitializeValidation(t *testing.T) {
	h := newHarness(t)
	esc, err := h.engine.Allocate(h.ctx)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := h.engine.SetPayer(h.ctx, storefrontAddr, esc.Address, payerAddr, 0); !errors.Is(err, coreerrors.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := h.engine.Initialize(h.ctx, esc.Address, payeeAddr, common.Address{}, arbiterAddr); !errors.Is(err, coreerrors.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	if err := h.engine.Initialize(h.ctx, esc.Address, payeeAddr, storefrontAddr, arbiterAddr); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := h.engine.Initialize(h.ctx, esc.Address, payeeAddr, storefrontAddr, arbiterAddr); !errors.Is(err, coreerrors.ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestSetPayerExactlyOnce(t *testing.T) {
	h := newHarness(t)
	esc, err := h.engine.Create(h.ctx, payeeAddr, storefrontAddr, arbiterAddr)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.engine.SetPayer(h.ctx, strangerAddr, esc.Address, payerAddr, 10); !errors.Is(err, coreerrors.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := h.engine.SetPayer(h.ctx, storefrontAddr, esc.Address, payerAddr, 10); err != nil {
		t.Fatalf("set payer: %v", err)
	}
	if err := h.engine.SetPayer(h.ctx, storefrontAddr, esc.Address, strangerAddr, 10); !errors.Is(err, coreerrors.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second payer, got %v", err)
	}
	got := h.get(esc.Address)
	if got.PayerAddress() != payerAddr || got.SettleTime != 1_010 {
		t.Fatalf("unexpected payer binding %s settle=%d", got.PayerAddress().Hex(), got.SettleTime)
	}
	if got.Status() != StatusPayerSet {
		t.Fatalf("expected payer_set status, got %s", got.Status())
	}
}

func TestSetAffiliateRules(t *testing.T) {
	h := newHarness(t)
	esc := h.funded(0, 0)
	if err := h.engine.SetAffiliate(h.ctx, storefrontAddr, esc.Address, affiliateAddr, 10_001); !errors.Is(err, coreerrors.ErrInvalidParameters) {
		t.Fatalf("expected ErrInvalidParameters, got %v", err)
	}
	if err := h.engine.SetAffiliate(h.ctx, storefrontAddr, esc.Address, common.Address{}, 5_000); err != nil {
		t.Fatalf("null affiliate: %v", err)
	}
	affiliate, share := h.get(esc.Address).AffiliateAddress()
	if affiliate != (common.Address{}) || share != 0 {
		t.Fatalf("null affiliate must force zero share, got %s/%d", affiliate.Hex(), share)
	}
	if err := h.engine.SetAffiliate(h.ctx, storefrontAddr, esc.Address, affiliateAddr, 100); !errors.Is(err, coreerrors.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on rebinding, got %v", err)
	}
}

func TestSettleSplitsWithAffiliate(t *testing.T) {
	h := newHarness(t)
	esc := h.funded(1_000, 100)
	if err := h.engine.SetAffiliate(h.ctx, storefrontAddr, esc.Address, affiliateAddr, 2_000); err != nil {
		t.Fatalf("set affiliate: %v", err)
	}
	if err := h.engine.Settle(h.ctx, payerAddr, esc.Address, common.Address{}, uint256.NewInt(1_000)); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if got := h.native(payeeAddr); got != 800 {
		t.Fatalf("payee received %d, want 800", got)
	}
	if got := h.native(affiliateAddr); got != 200 {
		t.Fatalf("affiliate received %d, want 200", got)
	}
	if got := h.get(esc.Address); !got.IsSettled || got.Status() != StatusSettled {
		t.Fatalf("expected settled escrow, got %+v", got)
	}
	settled := h.recorder.OfType(EventTypeSettled)
	if len(settled) != 1 || settled[0].Attributes["payeeAmount"] != "800" || settled[0].Attributes["affiliateAmount"] != "200" {
		t.Fatalf("unexpected settled events %+v", settled)
	}
}

func TestPayeeSettleWindow(t *testing.T) {
	h := newHarness(t)
	esc := h.funded(500, 100)
	if err := h.engine.Settle(h.ctx, payeeAddr, esc.Address, common.Address{}, uint256.NewInt(500)); !errors.Is(err, coreerrors.ErrInvalidState) {
		t.Fatalf("expected payee to wait for settle time, got %v", err)
	}
	if err := h.engine.Settle(h.ctx, strangerAddr, esc.Address, common.Address{}, uint256.NewInt(500)); !errors.Is(err, coreerrors.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	h.now += 100
	if err := h.engine.Settle(h.ctx, payeeAddr, esc.Address, common.Address{}, uint256.NewInt(500)); err != nil {
		t.Fatalf("payee settle after deadline: %v", err)
	}
	if got := h.native(payeeAddr); got != 500 {
		t.Fatalf("payee received %d, want 500", got)
	}
}

func TestPayerAuthorisationUnblocksPayee(t *testing.T) {
	h := newHarness(t)
	esc := h.funded(500, 1_000)
	if err := h.engine.Settle(h.ctx, payerAddr, esc.Address, common.Address{}, uint256.NewInt(200)); err != nil {
		t.Fatalf("payer settle: %v", err)
	}
	if err := h.engine.Settle(h.ctx, payeeAddr, esc.Address, common.Address{}, uint256.NewInt(300)); err != nil {
		t.Fatalf("payee settle after authorisation: %v", err)
	}
	if got := h.native(payeeAddr); got != 500 {
		t.Fatalf("payee received %d, want 500", got)
	}
}

func TestDisputeBlocksSettlement(t *testing.T) {
	h := newHarness(t)
	esc := h.funded(500, 0)
	if err := h.engine.Dispute(h.ctx, payeeAddr, esc.Address); !errors.Is(err, coreerrors.ErrUnauthorized) {
		t.Fatalf("expected only payer to dispute, got %v", err)
	}
	if err := h.engine.Dispute(h.ctx, payerAddr, esc.Address); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	for _, caller := range []common.Address{payerAddr, payeeAddr} {
		if err := h.engine.Settle(h.ctx, caller, esc.Address, common.Address{}, uint256.NewInt(500)); !errors.Is(err, coreerrors.ErrInvalidState) {
			t.Fatalf("settle by %s during dispute: expected ErrInvalidState, got %v", caller.Hex(), err)
		}
	}
	if err := h.engine.RemoveDispute(h.ctx, payerAddr, esc.Address); err != nil {
		t.Fatalf("remove dispute: %v", err)
	}
	if err := h.engine.RemoveDispute(h.ctx, payerAddr, esc.Address); err != nil {
		t.Fatalf("remove dispute must be idempotent: %v", err)
	}
	if err := h.engine.Settle(h.ctx, payerAddr, esc.Address, common.Address{}, uint256.NewInt(500)); err != nil {
		t.Fatalf("settle after dispute removal: %v", err)
	}
	if err := h.engine.Dispute(h.ctx, payerAddr, esc.Address); !errors.Is(err, coreerrors.ErrInvalidState) {
		t.Fatalf("expected dispute after settlement to fail, got %v", err)
	}
}

func TestResolveDispute(t *testing.T) {
	t.Run("refund", func(t *testing.T) {
		h := newHarness(t)
		esc := h.funded(400, 0)
		if err := h.engine.ResolveDispute(h.ctx, arbiterAddr, esc.Address, false, common.Address{}, uint256.NewInt(400)); !errors.Is(err, coreerrors.ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState without dispute, got %v", err)
		}
		if err := h.engine.Dispute(h.ctx, payerAddr, esc.Address); err != nil {
			t.Fatalf("dispute: %v", err)
		}
		if err := h.engine.ResolveDispute(h.ctx, payeeAddr, esc.Address, false, common.Address{}, uint256.NewInt(400)); !errors.Is(err, coreerrors.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
		if err := h.engine.ResolveDispute(h.ctx, arbiterAddr, esc.Address, false, common.Address{}, uint256.NewInt(400)); err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if got := h.native(payerAddr); got != 400 {
			t.Fatalf("payer refunded %d, want 400", got)
		}
		got := h.get(esc.Address)
		if got.IsDisputed || got.Status() != StatusResolved {
			t.Fatalf("expected resolved escrow, got status %s", got.Status())
		}
	})
	t.Run("settle", func(t *testing.T) {
		h := newHarness(t)
		esc := h.funded(1_000, 0)
		if err := h.engine.SetAffiliate(h.ctx, storefrontAddr, esc.Address, affiliateAddr, 2_000); err != nil {
			t.Fatalf("set affiliate: %v", err)
		}
		if err := h.engine.Dispute(h.ctx, payerAddr, esc.Address); err != nil {
			t.Fatalf("dispute: %v", err)
		}
		if err := h.engine.ResolveDispute(h.ctx, arbiterAddr, esc.Address, true, common.Address{}, uint256.NewInt(1_000)); err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if h.native(payeeAddr) != 800 || h.native(affiliateAddr) != 200 {
			t.Fatalf("unexpected split payee=%d affiliate=%d", h.native(payeeAddr), h.native(affiliateAddr))
		}
		if !h.get(esc.Address).IsSettled {
			t.Fatalf("settling resolution must mark the escrow settled")
		}
	})
}

func TestRefundIsPayeeOnly(t *testing.T) {
	h := newHarness(t)
	esc := h.funded(300, 0)
	if err := h.engine.Refund(h.ctx, payerAddr, esc.Address, common.Address{}, uint256.NewInt(300)); !errors.Is(err, coreerrors.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := h.engine.Dispute(h.ctx, payerAddr, esc.Address); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if err := h.engine.Refund(h.ctx, payeeAddr, esc.Address, common.Address{}, uint256.NewInt(300)); err != nil {
		t.Fatalf("refund during dispute: %v", err)
	}
	if got := h.native(payerAddr); got != 300 {
		t.Fatalf("payer refunded %d, want 300", got)
	}
}

func TestEscape(t *testing.T) {
	h := newHarness(t)
	esc := h.funded(250, 0)
	if err := h.engine.Escape(h.ctx, payerAddr, esc.Address, common.Address{}, uint256.NewInt(250), escapeAddr); !errors.Is(err, coreerrors.ErrInvalidParameters) {
		t.Fatalf("expected ErrInvalidParameters before escape address set, got %v", err)
	}
	if err := h.engine.SetEscapeAddress(h.ctx, payeeAddr, esc.Address, escapeAddr); !errors.Is(err, coreerrors.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := h.engine.SetEscapeAddress(h.ctx, arbiterAddr, esc.Address, common.Address{}); !errors.Is(err, coreerrors.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	if err := h.engine.SetEscapeAddress(h.ctx, arbiterAddr, esc.Address, escapeAddr); err != nil {
		t.Fatalf("set escape address: %v", err)
	}
	if err := h.engine.Dispute(h.ctx, payerAddr, esc.Address); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if err := h.engine.Escape(h.ctx, payeeAddr, esc.Address, common.Address{}, uint256.NewInt(250), strangerAddr); !errors.Is(err, coreerrors.ErrInvalidParameters) {
		t.Fatalf("expected mismatch error, got %v", err)
	}
	if err := h.engine.Escape(h.ctx, payeeAddr, esc.Address, common.Address{}, uint256.NewInt(250), escapeAddr); err != nil {
		t.Fatalf("escape: %v", err)
	}
	if got := h.native(escapeAddr); got != 250 {
		t.Fatalf("escape address received %d, want 250", got)
	}
	if h.get(esc.Address).Status() != StatusEscaped {
		t.Fatalf("expected escaped status")
	}
}

func TestArbiterChangeRequiresBothParties(t *testing.T) {
	h := newHarness(t)
	esc := h.funded(0, 0)
	newArbiter := newTestAddress(0x08)
	if err := h.engine.ChangeArbiter(h.ctx, payerAddr, esc.Address, newArbiter); !errors.Is(err, coreerrors.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := h.engine.ChangeArbiter(h.ctx, payeeAddr, esc.Address, newArbiter); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := h.engine.ApproveArbiter(h.ctx, payerAddr, esc.Address, strangerAddr); !errors.Is(err, coreerrors.ErrInvalidParameters) {
		t.Fatalf("expected ErrInvalidParameters, got %v", err)
	}
	if err := h.engine.ApproveArbiter(h.ctx, payerAddr, esc.Address, newArbiter); err != nil {
		t.Fatalf("approve: %v", err)
	}
	got := h.get(esc.Address)
	if got.Arbiter != newArbiter || got.ProposedArbiter != (common.Address{}) {
		t.Fatalf("arbiter not rotated: %s pending=%s", got.Arbiter.Hex(), got.ProposedArbiter.Hex())
	}
}

func TestTokenSettlementFailurePropagates(t *testing.T) {
	h := newHarness(t)
	esc := h.funded(0, 0)
	err := h.state.Atomic(h.ctx, "", func(context.Context) error {
		return h.bank.MintToken(tokenAddr, esc.Address, uint256.NewInt(100))
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	h.bank.SetTokenFrozen(tokenAddr, true)
	if err := h.engine.Settle(h.ctx, payerAddr, esc.Address, tokenAddr, uint256.NewInt(100)); !errors.Is(err, coreerrors.ErrTokenTransferFailed) {
		t.Fatalf("expected ErrTokenTransferFailed, got %v", err)
	}
	if h.get(esc.Address).IsSettled {
		t.Fatalf("failed settlement must not record authorisation")
	}
	h.bank.SetTokenFrozen(tokenAddr, false)
	if err := h.engine.Settle(h.ctx, payerAddr, esc.Address, tokenAddr, uint256.NewInt(100)); err != nil {
		t.Fatalf("settle: %v", err)
	}
}

func TestSettleIsNotReentrant(t *testing.T) {
	h := newHarness(t)
	esc := h.funded(1_000, 0)
	var reentryErr error
	h.bank.RegisterReceiver(payeeAddr, bank.ReceiverFunc(func(ctx context.Context, _ common.Address, _ *uint256.Int) error {
		reentryErr = h.engine.Settle(ctx, payeeAddr, esc.Address, common.Address{}, uint256.NewInt(500))
		return nil
	}))
	if err := h.engine.Settle(h.ctx, payerAddr, esc.Address, common.Address{}, uint256.NewInt(500)); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !errors.Is(reentryErr, coreerrors.ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall from nested settle, got %v", reentryErr)
	}
	if got := h.native(payeeAddr); got != 500 {
		t.Fatalf("payee received %d, want exactly one payout of 500", got)
	}
}

func TestReceiverOnFreshContextIsRejected(t *testing.T) {
	h := newHarness(t)
	esc := h.funded(1_000, 0)
	var settleErr, getErr error
	h.bank.RegisterReceiver(payeeAddr, bank.ReceiverFunc(func(context.Context, common.Address, *uint256.Int) error {
		settleErr = h.engine.Settle(context.Background(), payeeAddr, esc.Address, common.Address{}, uint256.NewInt(500))
		_, getErr = h.engine.Get(context.Background(), esc.Address)
		return nil
	}))

	done := make(chan error, 1)
	go func() {
		done <- h.engine.Settle(h.ctx, payerAddr, esc.Address, common.Address{}, uint256.NewInt(500))
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("settle: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("settle hung on a callback that opened its own transaction")
	}
	if !errors.Is(settleErr, coreerrors.ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall from callback settle, got %v", settleErr)
	}
	if !errors.Is(getErr, coreerrors.ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall from callback read, got %v", getErr)
	}
	if got := h.native(payeeAddr); got != 500 {
		t.Fatalf("payee received %d, want exactly one payout of 500", got)
	}
	// the guard is released once the callback returns
	if err := h.engine.Settle(h.ctx, payerAddr, esc.Address, common.Address{}, uint256.NewInt(100)); err != nil {
		t.Fatalf("settle after callback: %v", err)
	}
}

func TestPausedEscrowRejectsMutations(t *testing.T) {
	h := newHarness(t)
	esc := h.funded(10, 0)
	pauses := nativecommon.NewPauses(map[string]bool{nativecommon.ModuleEscrow: true})
	h.engine.SetPauses(pauses)
	if err := h.engine.Settle(h.ctx, payerAddr, esc.Address, common.Address{}, uint256.NewInt(10)); !errors.Is(err, coreerrors.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
}

func TestFailedOperationEmitsNothing(t *testing.T) {
	h := newHarness(t)
	esc := h.funded(10, 0)
	h.recorder.Reset()
	if err := h.engine.Settle(h.ctx, payerAddr, esc.Address, common.Address{}, uint256.NewInt(11)); !errors.Is(err, coreerrors.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if len(h.recorder.Events()) != 0 {
		t.Fatalf("reverted settlement leaked events: %+v", h.recorder.Events())
	}
}
