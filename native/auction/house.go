// Package auction implements English auctions with anti-sniping extension,
// optional outbid premiums and escrowed settlement.
package auction

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "github.com/nickbax/ump-auction-test/core/errors"
	"github.com/nickbax/ump-auction-test/core/events"
	"github.com/nickbax/ump-auction-test/core/state"
	"github.com/nickbax/ump-auction-test/core/types"
	"github.com/nickbax/ump-auction-test/native/bank"
	nativecommon "github.com/nickbax/ump-auction-test/native/common"
	"github.com/nickbax/ump-auction-test/native/escrow"
)

// EscrowFactory provisions and binds per-auction escrows.
type EscrowFactory interface {
	Create(ctx context.Context, payee, storefront, arbiter common.Address) (*escrow.Escrow, error)
	SetPayer(ctx context.Context, caller, addr, payer common.Address, settleDelay uint64) error
	SetAffiliate(ctx context.Context, caller, addr, affiliate common.Address, shareBps uint64) error
}

// Engine runs every deployed auction house. Items and bids in flight are
// custodied by the ledger under the house address.
type Engine struct {
	state   *state.Manager
	bank    *bank.Ledger
	escrows EscrowFactory
	emitter events.Emitter
	pauses  nativecommon.PauseView
}

func NewEngine(manager *state.Manager, ledger *bank.Ledger, escrows EscrowFactory) *Engine {
	return &Engine{state: manager, bank: ledger, escrows: escrows, emitter: events.NoopEmitter{}}
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

func (e *Engine) emit(ctx context.Context, event *types.Event) {
	emitter := e.emitter
	e.state.OnCommit(ctx, func() { emitter.Emit(event) })
}

func houseKey(house common.Address) []byte {
	return append([]byte("auction/house/"), house.Bytes()...)
}

func auctionKey(house common.Address, id uint64) []byte {
	key := append([]byte("auction/record/"), house.Bytes()...)
	return binary.BigEndian.AppendUint64(key, id)
}

func itemKey(prefix string, house, contract common.Address, itemID uint64) []byte {
	key := append([]byte(prefix), house.Bytes()...)
	key = append(key, contract.Bytes()...)
	return binary.BigEndian.AppendUint64(key, itemID)
}

func liveKey(house, contract common.Address, itemID uint64) []byte {
	return itemKey("auction/live/", house, contract, itemID)
}

func depositorKey(house, contract common.Address, itemID uint64) []byte {
	return itemKey("auction/depositor/", house, contract, itemID)
}

func guardName(house common.Address) string { return "auction/" + house.Hex() }

func (e *Engine) loadHouse(addr common.Address) (*House, error) {
	var h House
	ok, err := e.state.KVGet(houseKey(addr), &h)
	if err != nil {
		return nil, fmt.Errorf("auction: load house %s: %w", addr.Hex(), err)
	}
	if !ok {
		return nil, coreerrors.Wrap(coreerrors.ErrNotInitialized, "auction house %s", addr.Hex())
	}
	return &h, nil
}

func (e *Engine) storeHouse(h *House) error {
	return e.state.KVPut(houseKey(h.Address), h)
}

func (e *Engine) loadAuction(house common.Address, id uint64) (*Auction, error) {
	var a Auction
	ok, err := e.state.KVGet(auctionKey(house, id), &a)
	if err != nil {
		return nil, fmt.Errorf("auction: load %d: %w", id, err)
	}
	if !ok {
		return nil, coreerrors.Wrap(coreerrors.ErrAuctionNotFound, "auction %d", id)
	}
	a.normalize()
	return &a, nil
}

func (e *Engine) storeAuction(a *Auction) error {
	a.normalize()
	return e.state.KVPut(auctionKey(a.House, a.ID), a)
}

// withHouse runs fn under the house guard with the house record loaded and
// persists the record afterwards.
func (e *Engine) withHouse(ctx context.Context, addr common.Address, fn func(ctx context.Context, h *House) error) error {
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleAuction); err != nil {
		return err
	}
	return e.state.Atomic(ctx, guardName(addr), func(ctx context.Context) error {
		h, err := e.loadHouse(addr)
		if err != nil {
			return err
		}
		if err := fn(ctx, h); err != nil {
			return err
		}
		return e.storeHouse(h)
	})
}

// Deploy registers an auction house.
func (e *Engine) Deploy(ctx context.Context, cfg HouseConfig) (*House, error) {
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleAuction); err != nil {
		return nil, err
	}
	zero := common.Address{}
	if cfg.Address == zero || cfg.Owner == zero || cfg.Arbiter == zero {
		return nil, coreerrors.Wrap(coreerrors.ErrInvalidAddress, "house, owner and arbiter are required")
	}
	var out *House
	err := e.state.Atomic(ctx, guardName(cfg.Address), func(ctx context.Context) error {
		if _, err := e.loadHouse(cfg.Address); err == nil {
			return coreerrors.Wrap(coreerrors.ErrAlreadyInitialized, "auction house %s", cfg.Address.Hex())
		}
		h := &House{HouseConfig: cfg}
		if err := e.storeHouse(h); err != nil {
			return err
		}
		e.emit(ctx, events.Attrs{}.
			Address("house", h.Address).
			Address("owner", h.Owner).
			Address("arbiter", h.Arbiter).
			Event(EventTypeHouseDeployed))
		out = h
		return nil
	})
	return out, err
}

// GetHouse returns the house record.
func (e *Engine) GetHouse(ctx context.Context, addr common.Address) (*House, error) {
	var out *House
	err := e.state.View(ctx, func(context.Context) error {
		h, err := e.loadHouse(addr)
		out = h
		return err
	})
	return out, err
}

// ActiveAuctions returns how many auctions of the house are neither ended
// nor cancelled.
func (e *Engine) ActiveAuctions(ctx context.Context, addr common.Address) (uint64, error) {
	h, err := e.GetHouse(ctx, addr)
	if err != nil {
		return 0, err
	}
	return h.ActiveAuctions, nil
}

// LockItem moves one unit of an item from the seller into the house's
// custody and records the seller as its depositor.
func (e *Engine) LockItem(ctx context.Context, caller, addr, contract common.Address, itemID uint64) error {
	return e.withHouse(ctx, addr, func(ctx context.Context, h *House) error {
		if err := e.bank.TransferItem(ctx, contract, itemID, caller, h.Address, 1); err != nil {
			return err
		}
		if err := e.state.KVPut(depositorKey(h.Address, contract, itemID), caller); err != nil {
			return err
		}
		e.emit(ctx, events.Attrs{}.
			Address("house", h.Address).
			Address("itemContract", contract).
			Uint("itemId", itemID).
			Address("depositor", caller).
			Event(EventTypeItemLocked))
		return nil
	})
}

func (e *Engine) depositor(house, contract common.Address, itemID uint64) (common.Address, error) {
	var out common.Address
	if _, err := e.state.KVGet(depositorKey(house, contract, itemID), &out); err != nil {
		return common.Address{}, err
	}
	return out, nil
}

func validateParams(p *Params, now uint64) error {
	if p.IsPremium && p.PremiumBps > nativecommon.BpsDenominator {
		return coreerrors.Wrap(coreerrors.ErrInvalidPremiumPercentage, "premium %d bps", p.PremiumBps)
	}
	if err := nativecommon.ValidateBps("affiliate fee", p.AffiliateFeeBps); err != nil {
		return err
	}
	if err := nativecommon.ValidateBps("minimum bid increment", p.MinBidIncrementBps); err != nil {
		return err
	}
	if p.ReservePrice == nil || p.ReservePrice.IsZero() {
		return coreerrors.Wrap(coreerrors.ErrInvalidParameters, "reserve price must be at least 1")
	}
	if p.StartTime <= now {
		return coreerrors.Wrap(coreerrors.ErrInvalidParameters, "start time %d is not in the future", p.StartTime)
	}
	if p.EndTime <= p.StartTime {
		return coreerrors.Wrap(coreerrors.ErrInvalidParameters, "end time %d must follow start time %d", p.EndTime, p.StartTime)
	}
	return nil
}

// CreateAuction opens an auction over an item the house custodies. The
// caller must be the item's depositor or the house owner; the depositor, when
// known, becomes the auction owner and escrow payee.
func (e *Engine) CreateAuction(ctx context.Context, caller, addr common.Address, p Params) (*Auction, error) {
	var out *Auction
	err := e.withHouse(ctx, addr, func(ctx context.Context, h *House) error {
		now := e.state.Now(ctx)
		if err := validateParams(&p, now); err != nil {
			return err
		}
		if ok, err := e.state.KVGet(liveKey(h.Address, p.ItemContract, p.ItemID), nil); err != nil {
			return err
		} else if ok {
			return coreerrors.Wrap(coreerrors.ErrDuplicateAuction, "item %d of %s", p.ItemID, p.ItemContract.Hex())
		}
		held, err := e.bank.ItemBalance(p.ItemContract, p.ItemID, h.Address)
		if err != nil {
			return err
		}
		if held == 0 {
			return coreerrors.Wrap(coreerrors.ErrItemNotHeld, "item %d of %s", p.ItemID, p.ItemContract.Hex())
		}
		seller, err := e.depositor(h.Address, p.ItemContract, p.ItemID)
		if err != nil {
			return err
		}
		if caller != h.Owner && (seller == (common.Address{}) || caller != seller) {
			return coreerrors.Wrap(coreerrors.ErrUnauthorized, "only the depositor or house owner may auction this item")
		}
		if seller == (common.Address{}) {
			seller = h.Owner
		}
		esc, err := e.escrows.Create(ctx, seller, h.Address, h.Arbiter)
		if err != nil {
			return err
		}
		h.NextAuctionID++
		h.ActiveAuctions++
		reserve := nativecommon.Clone(p.ReservePrice)
		a := &Auction{
			ID:                 h.NextAuctionID,
			House:              h.Address,
			ItemContract:       p.ItemContract,
			ItemID:             p.ItemID,
			HighestBid:         new(uint256.Int).Sub(reserve, nativecommon.BpsOf(reserve, p.MinBidIncrementBps)),
			StartTime:          p.StartTime,
			EndTime:            p.EndTime,
			ReservePrice:       reserve,
			AffiliateFeeBps:    p.AffiliateFeeBps,
			Owner:              seller,
			Arbiter:            h.Arbiter,
			Escrow:             esc.Address,
			Currency:           p.Currency,
			MinBidIncrementBps: p.MinBidIncrementBps,
			IsPremium:          p.IsPremium,
			TimeExtension:      p.TimeExtension,
			CreatedAt:          now,
		}
		if p.IsPremium {
			a.PremiumBps = p.PremiumBps
		}
		if err := e.storeAuction(a); err != nil {
			return err
		}
		if err := e.state.KVPut(liveKey(h.Address, a.ItemContract, a.ItemID), a.ID); err != nil {
			return err
		}
		e.emit(ctx, auctionAttrs(a).
			Amount("reservePrice", a.ReservePrice).
			Uint("startTime", a.StartTime).
			Uint("endTime", a.EndTime).
			Bool("premium", a.IsPremium).
			Event(EventTypeCreated))
		out = a
		return nil
	})
	return out, err
}

// GetAuction returns the auction record.
func (e *Engine) GetAuction(ctx context.Context, addr common.Address, id uint64) (*Auction, error) {
	var out *Auction
	err := e.state.View(ctx, func(context.Context) error {
		a, err := e.loadAuction(addr, id)
		out = a
		return err
	})
	return out, err
}

// AuctionForItem returns the live auction over an item.
func (e *Engine) AuctionForItem(ctx context.Context, addr, contract common.Address, itemID uint64) (*Auction, error) {
	var out *Auction
	err := e.state.View(ctx, func(context.Context) error {
		var id uint64
		ok, err := e.state.KVGet(liveKey(addr, contract, itemID), &id)
		if err != nil {
			return err
		}
		if !ok {
			return coreerrors.Wrap(coreerrors.ErrAuctionNotFound, "no live auction for item %d", itemID)
		}
		out, err = e.loadAuction(addr, id)
		return err
	})
	return out, err
}

// Now exposes the clock the engine evaluates deadlines against.
func (e *Engine) Now(ctx context.Context) uint64 { return e.state.Now(ctx) }
