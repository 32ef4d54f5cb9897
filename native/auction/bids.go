package auction

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "github.com/nickbax/ump-auction-test/core/errors"
	"github.com/nickbax/ump-auction-test/core/types"
	nativecommon "github.com/nickbax/ump-auction-test/native/common"
)

// MinimumBid returns the smallest bid the auction currently accepts:
// highestBid + floor(highestBid * increment / 10000), and never less than
// the reserve price before the first bid.
func MinimumBid(a *Auction) *uint256.Int {
	required := new(uint256.Int).Add(a.HighestBid, nativecommon.BpsOf(a.HighestBid, a.MinBidIncrementBps))
	if a.BidCount == 0 && required.Lt(a.ReservePrice) {
		return nativecommon.Clone(a.ReservePrice)
	}
	return required
}

// Premium returns the compensation owed to a bidder outbid at previousBid:
// floor(floor(previousBid * increment / 10000) * premiumBps / 10000). It is
// zero for auctions without premiums.
func Premium(a *Auction, previousBid *uint256.Int) *uint256.Int {
	if !a.IsPremium || a.PremiumBps == 0 {
		return new(uint256.Int)
	}
	return nativecommon.BpsOf(nativecommon.BpsOf(previousBid, a.MinBidIncrementBps), a.PremiumBps)
}

// CreateBid places bidAmount on an open auction. For native auctions value is
// the native amount attached to the call and must equal bidAmount; it is
// debited from the bidder. For token auctions the bidder must have approved
// the house for at least bidAmount. The previous bidder, if any, is refunded
// in the same transaction together with any premium owed. A bidder raising
// their own bid is refunded without a premium.
func (e *Engine) CreateBid(ctx context.Context, caller, addr common.Address, auctionID uint64, affiliate common.Address, msg types.EncryptedMessage, bidAmount, value *uint256.Int) (*Auction, error) {
	var out *Auction
	err := e.withHouse(ctx, addr, func(ctx context.Context, h *House) error {
		a, err := e.loadAuction(h.Address, auctionID)
		if err != nil {
			return err
		}
		if !a.Live() {
			return coreerrors.Wrap(coreerrors.ErrAuctionNotActive, "auction %d", a.ID)
		}
		now := e.state.Now(ctx)
		if now < a.StartTime {
			return coreerrors.Wrap(coreerrors.ErrNotStarted, "auction %d starts at %d", a.ID, a.StartTime)
		}
		if now >= a.EndTime {
			return coreerrors.Wrap(coreerrors.ErrExpired, "auction %d ended at %d", a.ID, a.EndTime)
		}
		bid := nativecommon.Clone(bidAmount)
		if required := MinimumBid(a); bid.Lt(required) {
			return coreerrors.Wrap(coreerrors.ErrBidTooLow, "bid %s below minimum %s", bid.Dec(), required.Dec())
		}
		if err := e.collectBid(ctx, h, a, caller, bid, value); err != nil {
			return err
		}

		previousBidder := a.CurrentBidder
		previousBid := nativecommon.Clone(a.HighestBid)
		hadBid := a.BidCount > 0

		a.HighestBid = bid
		a.CurrentBidder = caller
		a.Affiliate = affiliate
		a.Message = msg
		a.BidCount++
		extended := false
		if a.EndTime-now < a.TimeExtension {
			a.EndTime = now + a.TimeExtension
			extended = true
		}
		if hadBid {
			// raising your own bid earns no premium
			premium := new(uint256.Int)
			if previousBidder != caller {
				premium = Premium(a, previousBid)
			}
			a.PremiumsPaid = new(uint256.Int).Add(a.PremiumsPaid, premium)
			if err := e.storeAuction(a); err != nil {
				return err
			}
			refund := new(uint256.Int).Add(previousBid, premium)
			if err := e.payOut(ctx, h, a.Currency, previousBidder, refund); err != nil {
				return err
			}
			e.emit(ctx, auctionAttrs(a).
				Address("bidder", previousBidder).
				Amount("refund", refund).
				Amount("premium", premium).
				Event(EventTypeOutbid))
		} else if err := e.storeAuction(a); err != nil {
			return err
		}
		e.emit(ctx, auctionAttrs(a).
			Address("bidder", caller).
			Amount("amount", bid).
			Address("affiliate", affiliate).
			Uint("endTime", a.EndTime).
			Event(EventTypeBid))
		if extended {
			e.emit(ctx, auctionAttrs(a).Uint("endTime", a.EndTime).Event(EventTypeExtended))
		}
		out = a
		return nil
	})
	return out, err
}

// collectBid moves the bid into the house's custody.
func (e *Engine) collectBid(ctx context.Context, h *House, a *Auction, bidder common.Address, bid, value *uint256.Int) error {
	if a.Currency == (common.Address{}) {
		if value == nil || !value.Eq(bid) {
			return coreerrors.Wrap(coreerrors.ErrInsufficientAmount, "attached value must equal bid %s", bid.Dec())
		}
		return e.bank.TransferNative(ctx, bidder, h.Address, bid)
	}
	allowance, err := e.bank.Allowance(a.Currency, bidder, h.Address)
	if err != nil {
		return err
	}
	if allowance.Lt(bid) {
		return coreerrors.Wrap(coreerrors.ErrInsufficientAllowance, "allowance %s below bid %s", allowance.Dec(), bid.Dec())
	}
	ok, err := e.bank.TransferTokenFrom(ctx, a.Currency, h.Address, bidder, h.Address, bid)
	if err != nil {
		return err
	}
	if !ok {
		return coreerrors.Wrap(coreerrors.ErrTokenTransferFailed, "bid of %s %s", bid.Dec(), a.Currency.Hex())
	}
	return nil
}

// payOut transfers currency held by the house.
func (e *Engine) payOut(ctx context.Context, h *House, currency, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	if currency == (common.Address{}) {
		return e.bank.TransferNative(ctx, h.Address, to, amount)
	}
	ok, err := e.bank.TransferToken(ctx, currency, h.Address, to, amount)
	if err != nil {
		return err
	}
	if !ok {
		return coreerrors.Wrap(coreerrors.ErrTokenTransferFailed, "%s of %s to %s", amount.Dec(), currency.Hex(), to.Hex())
	}
	return nil
}
