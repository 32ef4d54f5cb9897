package storefront

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "github.com/nickbax/ump-auction-test/core/errors"
	"github.com/nickbax/ump-auction-test/core/events"
)

// RescueNative withdraws native value stranded at the storefront address.
func (e *Engine) RescueNative(ctx context.Context, caller, addr, to common.Address, amount *uint256.Int) error {
	return e.mutate(ctx, addr, func(ctx context.Context, sf *Storefront) error {
		if err := requireOwner(sf, caller); err != nil {
			return err
		}
		bal, err := e.bank.NativeBalance(sf.Address)
		if err != nil {
			return err
		}
		if bal.Lt(amount) {
			return coreerrors.Wrap(coreerrors.ErrInsufficientBalance, "holding %s, requested %s", bal.Dec(), amount.Dec())
		}
		if err := e.bank.TransferNative(ctx, sf.Address, to, amount); err != nil {
			return err
		}
		e.emitRescue(ctx, sf, "native", common.Address{}, to, amount)
		return nil
	})
}

// RescueFungible withdraws fungible tokens held by the storefront.
func (e *Engine) RescueFungible(ctx context.Context, caller, addr, token, to common.Address, amount *uint256.Int) error {
	return e.mutate(ctx, addr, func(ctx context.Context, sf *Storefront) error {
		if err := requireOwner(sf, caller); err != nil {
			return err
		}
		bal, err := e.bank.TokenBalance(token, sf.Address)
		if err != nil {
			return err
		}
		if bal.Lt(amount) {
			return coreerrors.Wrap(coreerrors.ErrInsufficientBalance, "holding %s, requested %s", bal.Dec(), amount.Dec())
		}
		ok, err := e.bank.TransferToken(ctx, token, sf.Address, to, amount)
		if err != nil {
			return err
		}
		if !ok {
			return coreerrors.Wrap(coreerrors.ErrTokenTransferFailed, "rescue of %s", token.Hex())
		}
		e.emitRescue(ctx, sf, "fungible", token, to, amount)
		return nil
	})
}

// RescueNFT withdraws item units held by the storefront.
func (e *Engine) RescueNFT(ctx context.Context, caller, addr, contract common.Address, itemID uint64, to common.Address, amount uint64) error {
	return e.mutate(ctx, addr, func(ctx context.Context, sf *Storefront) error {
		if err := requireOwner(sf, caller); err != nil {
			return err
		}
		held, err := e.bank.ItemBalance(contract, itemID, sf.Address)
		if err != nil {
			return err
		}
		if held < amount {
			return coreerrors.Wrap(coreerrors.ErrInsufficientBalance, "holding %d of item %d, requested %d", held, itemID, amount)
		}
		if err := e.bank.TransferItem(ctx, contract, itemID, sf.Address, to, amount); err != nil {
			return err
		}
		e.emitRescue(ctx, sf, "nft", contract, to, uint256.NewInt(amount))
		return nil
	})
}

func (e *Engine) emitRescue(ctx context.Context, sf *Storefront, kind string, asset, to common.Address, amount *uint256.Int) {
	e.emit(ctx, events.Attrs{}.
		Address("storefront", sf.Address).
		String("kind", kind).
		Address("asset", asset).
		Address("to", to).
		Amount("amount", amount).
		Event(EventTypeRescued))
}
