package auction

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "github.com/nickbax/ump-auction-test/core/errors"
	"github.com/nickbax/ump-auction-test/core/events"
)

// withRescue gates emergency withdrawals on the house owner and on no
// auction holding custody.
func (e *Engine) withRescue(ctx context.Context, caller, addr common.Address, fn func(ctx context.Context, h *House) error) error {
	return e.withHouse(ctx, addr, func(ctx context.Context, h *House) error {
		if caller != h.Owner {
			return coreerrors.Wrap(coreerrors.ErrUnauthorized, "only the house owner may rescue funds")
		}
		if h.ActiveAuctions > 0 {
			return coreerrors.Wrap(coreerrors.ErrAuctionsActive, "%d auctions active", h.ActiveAuctions)
		}
		return fn(ctx, h)
	})
}

// RescueNative withdraws native value stranded at the house address.
func (e *Engine) RescueNative(ctx context.Context, caller, addr, to common.Address, amount *uint256.Int) error {
	return e.withRescue(ctx, caller, addr, func(ctx context.Context, h *House) error {
		bal, err := e.bank.NativeBalance(h.Address)
		if err != nil {
			return err
		}
		if bal.Lt(amount) {
			return coreerrors.Wrap(coreerrors.ErrInsufficientBalance, "holding %s, requested %s", bal.Dec(), amount.Dec())
		}
		if err := e.bank.TransferNative(ctx, h.Address, to, amount); err != nil {
			return err
		}
		e.emitRescue(ctx, h, "native", common.Address{}, to, amount)
		return nil
	})
}

// RescueFungible withdraws fungible tokens held by the house.
func (e *Engine) RescueFungible(ctx context.Context, caller, addr, token, to common.Address, amount *uint256.Int) error {
	return e.withRescue(ctx, caller, addr, func(ctx context.Context, h *House) error {
		bal, err := e.bank.TokenBalance(token, h.Address)
		if err != nil {
			return err
		}
		if bal.Lt(amount) {
			return coreerrors.Wrap(coreerrors.ErrInsufficientBalance, "holding %s, requested %s", bal.Dec(), amount.Dec())
		}
		if err := e.payOut(ctx, h, token, to, amount); err != nil {
			return err
		}
		e.emitRescue(ctx, h, "fungible", token, to, amount)
		return nil
	})
}

// RescueNFT withdraws item units held by the house.
func (e *Engine) RescueNFT(ctx context.Context, caller, addr, contract common.Address, itemID uint64, to common.Address, amount uint64) error {
	return e.withRescue(ctx, caller, addr, func(ctx context.Context, h *House) error {
		held, err := e.bank.ItemBalance(contract, itemID, h.Address)
		if err != nil {
			return err
		}
		if held < amount {
			return coreerrors.Wrap(coreerrors.ErrInsufficientBalance, "holding %d of item %d, requested %d", held, itemID, amount)
		}
		if err := e.bank.TransferItem(ctx, contract, itemID, h.Address, to, amount); err != nil {
			return err
		}
		e.emitRescue(ctx, h, "nft", contract, to, uint256.NewInt(amount))
		return nil
	})
}

func (e *Engine) emitRescue(ctx context.Context, h *House, kind string, asset, to common.Address, amount *uint256.Int) {
	e.emit(ctx, events.Attrs{}.
		Address("house", h.Address).
		String("kind", kind).
		Address("asset", asset).
		Address("to", to).
		Amount("amount", amount).
		Event(EventTypeRescued))
}
