package auction

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "github.com/nickbax/ump-auction-test/core/errors"
	"github.com/nickbax/ump-auction-test/core/types"
	nativecommon "github.com/nickbax/ump-auction-test/native/common"
)

// EndAuction finalises an auction whose end time has passed. The item goes
// straight to the winner while the proceeds, net of premiums paid to outbid
// bidders, are forwarded to the auction's escrow with the winner bound as
// payer.
func (e *Engine) EndAuction(ctx context.Context, addr common.Address, auctionID uint64) (*Auction, error) {
	var out *Auction
	err := e.withHouse(ctx, addr, func(ctx context.Context, h *House) error {
		a, err := e.loadAuction(h.Address, auctionID)
		if err != nil {
			return err
		}
		if !a.Live() {
			return coreerrors.Wrap(coreerrors.ErrAuctionNotActive, "auction %d", a.ID)
		}
		if e.state.Now(ctx) < a.EndTime {
			return coreerrors.Wrap(coreerrors.ErrNotYetComplete, "auction %d ends at %d", a.ID, a.EndTime)
		}
		if a.BidCount == 0 {
			return coreerrors.Wrap(coreerrors.ErrNoBids, "auction %d", a.ID)
		}
		if a.Affiliate != (common.Address{}) {
			if err := e.escrows.SetAffiliate(ctx, h.Address, a.Escrow, a.Affiliate, a.AffiliateFeeBps); err != nil {
				return err
			}
		}
		if err := e.escrows.SetPayer(ctx, h.Address, a.Escrow, a.CurrentBidder, h.SettleDelay); err != nil {
			return err
		}
		a.PaymentAmount = new(uint256.Int).Sub(a.HighestBid, a.PremiumsPaid)
		a.Ended = true
		if err := e.release(h, a); err != nil {
			return err
		}
		if err := e.storeAuction(a); err != nil {
			return err
		}
		if err := e.bank.TransferItem(ctx, a.ItemContract, a.ItemID, h.Address, a.CurrentBidder, 1); err != nil {
			return err
		}
		if err := e.payOut(ctx, h, a.Currency, a.Escrow, a.PaymentAmount); err != nil {
			return err
		}
		e.emit(ctx, auctionAttrs(a).
			Address("winner", a.CurrentBidder).
			Amount("highestBid", a.HighestBid).
			Amount("paymentAmount", a.PaymentAmount).
			Amount("premiumsPaid", a.PremiumsPaid).
			Address("affiliate", a.Affiliate).
			Event(EventTypeEnded))
		out = a
		return nil
	})
	return out, err
}

// CancelAuction withdraws an auction that has received no bids and returns
// the item to its owner.
func (e *Engine) CancelAuction(ctx context.Context, caller, addr common.Address, auctionID uint64) (*Auction, error) {
	var out *Auction
	err := e.withHouse(ctx, addr, func(ctx context.Context, h *House) error {
		a, err := e.loadAuction(h.Address, auctionID)
		if err != nil {
			return err
		}
		if caller != a.Owner {
			return coreerrors.Wrap(coreerrors.ErrUnauthorized, "only the auction owner may cancel")
		}
		if !a.Live() {
			return coreerrors.Wrap(coreerrors.ErrAuctionNotActive, "auction %d", a.ID)
		}
		if a.BidCount > 0 {
			return coreerrors.Wrap(coreerrors.ErrBidsAlreadyPlaced, "auction %d has %d bids", a.ID, a.BidCount)
		}
		a.Cancelled = true
		if err := e.release(h, a); err != nil {
			return err
		}
		if err := e.storeAuction(a); err != nil {
			return err
		}
		if err := e.bank.TransferItem(ctx, a.ItemContract, a.ItemID, h.Address, a.Owner, 1); err != nil {
			return err
		}
		e.emit(ctx, auctionAttrs(a).Event(EventTypeCancelled))
		out = a
		return nil
	})
	return out, err
}

// release frees the item slot held by a finished auction.
func (e *Engine) release(h *House, a *Auction) error {
	if h.ActiveAuctions > 0 {
		h.ActiveAuctions--
	}
	if err := e.state.KVDelete(liveKey(h.Address, a.ItemContract, a.ItemID)); err != nil {
		return err
	}
	return e.state.KVDelete(depositorKey(h.Address, a.ItemContract, a.ItemID))
}

// BatchEndExpiredAuctions ends every listed auction that is ready to end.
// Entries that are missing, still running, already finished or without bids
// are skipped. An entry that fails is rolled back on its own and reported
// without affecting the others.
func (e *Engine) BatchEndExpiredAuctions(ctx context.Context, addr common.Address, ids []uint64) ([]BatchResult, error) {
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleAuction); err != nil {
		return nil, err
	}
	results := make([]BatchResult, 0, len(ids))
	err := e.state.Atomic(ctx, "", func(ctx context.Context) error {
		results = results[:0]
		now := e.state.Now(ctx)
		for _, id := range ids {
			a, err := e.loadAuction(addr, id)
			switch {
			case coreerrors.IsNotFound(err):
				results = append(results, BatchResult{AuctionID: id, Outcome: OutcomeSkipped, Reason: "not found"})
				continue
			case err != nil:
				results = append(results, BatchResult{AuctionID: id, Outcome: OutcomeFailed, Err: err})
				continue
			case !a.Live():
				results = append(results, BatchResult{AuctionID: id, Outcome: OutcomeSkipped, Reason: "not active"})
				continue
			case now < a.EndTime:
				results = append(results, BatchResult{AuctionID: id, Outcome: OutcomeSkipped, Reason: "not yet complete"})
				continue
			case a.BidCount == 0:
				results = append(results, BatchResult{AuctionID: id, Outcome: OutcomeSkipped, Reason: "no bids"})
				continue
			}
			if _, err := e.EndAuction(ctx, addr, id); err != nil {
				results = append(results, BatchResult{AuctionID: id, Outcome: OutcomeFailed, Err: err})
				continue
			}
			results = append(results, BatchResult{AuctionID: id, Outcome: OutcomeEnded})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// UpdateFinalMessage attaches a closing note to an ended auction. Only the
// winner may write it.
func (e *Engine) UpdateFinalMessage(ctx context.Context, caller, addr common.Address, auctionID uint64, msg types.EncryptedMessage) error {
	return e.withHouse(ctx, addr, func(ctx context.Context, h *House) error {
		a, err := e.loadAuction(h.Address, auctionID)
		if err != nil {
			return err
		}
		if !a.Ended {
			return coreerrors.Wrap(coreerrors.ErrInvalidState, "auction %d has not ended", a.ID)
		}
		if caller != a.CurrentBidder {
			return coreerrors.Wrap(coreerrors.ErrUnauthorized, "only the winner may update the final message")
		}
		a.FinalMessage = msg
		if err := e.storeAuction(a); err != nil {
			return err
		}
		e.emit(ctx, auctionAttrs(a).Address("winner", caller).Event(EventTypeFinalMessage))
		return nil
	})
}
