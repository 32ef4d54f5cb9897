package storefront

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
	"github.com/nickbax/ump-auction-test/native/listing"
)

// EscrowFactory provisions and binds per-sale escrows.
type EscrowFactory interface {
	Create(ctx context.Context, payee, storefront, arbiter common.Address) (*escrow.Escrow, error)
	SetPayer(ctx context.Context, caller, addr, payer common.Address, settleDelay uint64) error
	SetAffiliate(ctx context.Context, caller, addr, affiliate common.Address, shareBps uint64) error
}

// Engine runs every deployed storefront. Items for sale are custodied by the
// ledger under the storefront's address.
type Engine struct {
	state    *state.Manager
	bank     *bank.Ledger
	escrows  EscrowFactory
	listings *listing.Registry
	verifier AffiliateVerifier
	emitter  events.Emitter
	pauses   nativecommon.PauseView
}

func NewEngine(manager *state.Manager, ledger *bank.Ledger, escrows EscrowFactory, listings *listing.Registry, verifier AffiliateVerifier) *Engine {
	if verifier == nil {
		verifier = NewStaticVerifier()
	}
	return &Engine{
		state:    manager,
		bank:     ledger,
		escrows:  escrows,
		listings: listings,
		verifier: verifier,
		emitter:  events.NoopEmitter{},
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

func (e *Engine) emit(ctx context.Context, event *types.Event) {
	emitter := e.emitter
	e.state.OnCommit(ctx, func() { emitter.Emit(event) })
}

func recordKey(addr common.Address) []byte {
	return append([]byte("storefront/record/"), addr.Bytes()...)
}

func saleKey(addr common.Address, id uint64) []byte {
	key := append([]byte("storefront/sale/"), addr.Bytes()...)
	return binary.BigEndian.AppendUint64(key, id)
}

func guardName(addr common.Address) string { return "storefront/" + addr.Hex() }

func (e *Engine) load(addr common.Address) (*Storefront, error) {
	var sf Storefront
	ok, err := e.state.KVGet(recordKey(addr), &sf)
	if err != nil {
		return nil, fmt.Errorf("storefront: load %s: %w", addr.Hex(), err)
	}
	if !ok {
		return nil, coreerrors.Wrap(coreerrors.ErrNotInitialized, "storefront %s", addr.Hex())
	}
	return &sf, nil
}

func (e *Engine) store(sf *Storefront) error {
	if sf.Pending.Price == nil {
		sf.Pending.Price = new(uint256.Int)
	}
	return e.state.KVPut(recordKey(sf.Address), sf)
}

// mutate runs fn against the storefront at addr under its guard and persists
// the record afterwards.
func (e *Engine) mutate(ctx context.Context, addr common.Address, fn func(ctx context.Context, sf *Storefront) error) error {
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleStorefront); err != nil {
		return err
	}
	return e.state.Atomic(ctx, guardName(addr), func(ctx context.Context) error {
		sf, err := e.load(addr)
		if err != nil {
			return err
		}
		if err := fn(ctx, sf); err != nil {
			return err
		}
		return e.store(sf)
	})
}

func requireOwner(sf *Storefront, caller common.Address) error {
	if caller != sf.Owner {
		return coreerrors.Wrap(coreerrors.ErrUnauthorized, "only the storefront owner may call this")
	}
	return nil
}

// Deploy registers a storefront and provisions the escrow for its first sale.
func (e *Engine) Deploy(ctx context.Context, cfg Config) (*Storefront, error) {
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleStorefront); err != nil {
		return nil, err
	}
	zero := common.Address{}
	if cfg.Address == zero || cfg.Owner == zero || cfg.ItemContract == zero || cfg.Protocol == zero || cfg.Arbiter == zero {
		return nil, coreerrors.Wrap(coreerrors.ErrInvalidAddress, "storefront, owner, item contract, protocol and arbiter are required")
	}
	var out *Storefront
	err := e.state.Atomic(ctx, guardName(cfg.Address), func(ctx context.Context) error {
		if _, err := e.load(cfg.Address); err == nil {
			return coreerrors.Wrap(coreerrors.ErrAlreadyInitialized, "storefront %s", cfg.Address.Hex())
		}
		sf := &Storefront{Config: cfg}
		esc, err := e.escrows.Create(ctx, cfg.Owner, cfg.Address, cfg.Arbiter)
		if err != nil {
			return err
		}
		sf.CurrentEscrow = esc.Address
		if err := e.store(sf); err != nil {
			return err
		}
		e.emit(ctx, events.Attrs{}.
			Address("storefront", sf.Address).
			Address("owner", sf.Owner).
			Address("itemContract", sf.ItemContract).
			Address("escrow", sf.CurrentEscrow).
			Event(EventTypeDeployed))
		out = sf
		return nil
	})
	return out, err
}

// Get returns the storefront record.
func (e *Engine) Get(ctx context.Context, addr common.Address) (*Storefront, error) {
	var out *Storefront
	err := e.state.View(ctx, func(context.Context) error {
		sf, err := e.load(addr)
		out = sf
		return err
	})
	return out, err
}

// CurrentEscrow returns the escrow the next sale will pay into.
func (e *Engine) CurrentEscrow(ctx context.Context, addr common.Address) (common.Address, error) {
	sf, err := e.Get(ctx, addr)
	if err != nil {
		return common.Address{}, err
	}
	return sf.CurrentEscrow, nil
}

// SetReady toggles whether the storefront accepts orders.
func (e *Engine) SetReady(ctx context.Context, caller, addr common.Address, ready bool) error {
	return e.mutate(ctx, addr, func(ctx context.Context, sf *Storefront) error {
		if err := requireOwner(sf, caller); err != nil {
			return err
		}
		sf.Ready = ready
		e.emit(ctx, events.Attrs{}.Address("storefront", sf.Address).Bool("ready", ready).Event(EventTypeReadyChanged))
		return nil
	})
}

func (e *Engine) heldBalance(sf *Storefront, itemID uint64) (uint64, error) {
	return e.bank.ItemBalance(sf.ItemContract, itemID, sf.Address)
}

// ListItem offers an item the storefront holds at a fixed price.
func (e *Engine) ListItem(ctx context.Context, caller, addr common.Address, itemID uint64, price *uint256.Int, currency common.Address, affiliateFeeBps uint64) (*listing.Listing, error) {
	var out *listing.Listing
	err := e.mutate(ctx, addr, func(ctx context.Context, sf *Storefront) error {
		if err := requireOwner(sf, caller); err != nil {
			return err
		}
		if err := nativecommon.ValidateBps("affiliate fee", affiliateFeeBps); err != nil {
			return err
		}
		held, err := e.heldBalance(sf, itemID)
		if err != nil {
			return err
		}
		if held == 0 {
			return coreerrors.Wrap(coreerrors.ErrNoTokensAvailable, "storefront holds none of item %d", itemID)
		}
		out, err = e.listings.Create(ctx, sf.Address, &listing.Listing{
			ItemID:          itemID,
			Price:           nativecommon.Clone(price),
			PaymentToken:    currency,
			AffiliateFeeBps: affiliateFeeBps,
		})
		return err
	})
	return out, err
}

// UpdateListing replaces the terms of an existing listing.
func (e *Engine) UpdateListing(ctx context.Context, caller, addr common.Address, itemID uint64, price *uint256.Int, currency common.Address, affiliateFeeBps uint64) (*listing.Listing, error) {
	var out *listing.Listing
	err := e.mutate(ctx, addr, func(ctx context.Context, sf *Storefront) error {
		if err := requireOwner(sf, caller); err != nil {
			return err
		}
		var err error
		out, err = e.listings.Update(ctx, sf.Address, &listing.Listing{
			ItemID:          itemID,
			Price:           nativecommon.Clone(price),
			PaymentToken:    currency,
			AffiliateFeeBps: affiliateFeeBps,
		})
		return err
	})
	return out, err
}

// RemoveListing withdraws an item from sale.
func (e *Engine) RemoveListing(ctx context.Context, caller, addr common.Address, itemID uint64) error {
	return e.mutate(ctx, addr, func(ctx context.Context, sf *Storefront) error {
		if err := requireOwner(sf, caller); err != nil {
			return err
		}
		return e.listings.Remove(ctx, sf.Address, itemID)
	})
}

// Listings returns the storefront's active listings.
func (e *Engine) Listings(ctx context.Context, addr common.Address) ([]*listing.Listing, error) {
	return e.listings.List(ctx, addr)
}

func (e *Engine) loadSale(addr common.Address, id uint64) (*Sale, error) {
	var sale Sale
	ok, err := e.state.KVGet(saleKey(addr, id), &sale)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coreerrors.Wrap(coreerrors.ErrSaleNotFound, "sale %d", id)
	}
	return &sale, nil
}

// GetSale returns a ratified sale.
func (e *Engine) GetSale(ctx context.Context, addr common.Address, id uint64) (*Sale, error) {
	var out *Sale
	err := e.state.View(ctx, func(context.Context) error {
		sale, err := e.loadSale(addr, id)
		out = sale
		return err
	})
	return out, err
}

// UpdateFinalMessage attaches a closing note to a sale. Only its buyer may
// write it.
func (e *Engine) UpdateFinalMessage(ctx context.Context, caller, addr common.Address, saleID uint64, msg EncryptedMessage) error {
	return e.mutate(ctx, addr, func(ctx context.Context, sf *Storefront) error {
		sale, err := e.loadSale(sf.Address, saleID)
		if err != nil {
			return err
		}
		if caller != sale.Buyer {
			return coreerrors.Wrap(coreerrors.ErrUnauthorized, "only the buyer may update the final message")
		}
		sale.FinalMessage = msg
		if err := e.state.KVPut(saleKey(sf.Address, saleID), sale); err != nil {
			return err
		}
		e.emit(ctx, events.Attrs{}.
			Address("storefront", sf.Address).
			Uint("saleId", saleID).
			Address("buyer", sale.Buyer).
			Event(EventTypeFinalMessage))
		return nil
	})
}
