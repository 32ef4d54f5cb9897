// Package listing keeps the fixed-price sale terms of every storefront,
// keyed by item identifier within the storefront's namespace.
package listing

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "github.com/nickbax/ump-auction-test/core/errors"
	"github.com/nickbax/ump-auction-test/core/events"
	"github.com/nickbax/ump-auction-test/core/state"
	nativecommon "github.com/nickbax/ump-auction-test/native/common"
)

const (
	EventTypeCreated = "listing.created"
	EventTypeUpdated = "listing.updated"
	EventTypeRemoved = "listing.removed"
)

// Listing holds the sale terms for one item. A zero PaymentToken means the
// price is denominated in native value.
type Listing struct {
	ItemID          uint64
	Price           *uint256.Int
	PaymentToken    common.Address
	AffiliateFeeBps uint64
	ListingTime     uint64
}

// Clone returns a deep copy of the listing.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Price = nativecommon.Clone(l.Price)
	return &clone
}

// Registry stores listings for any number of storefronts. Callers enforce
// ownership; the registry only enforces uniqueness and parameter ranges.
type Registry struct {
	state   *state.Manager
	emitter events.Emitter
}

func NewRegistry(manager *state.Manager) *Registry {
	return &Registry{state: manager, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used by the registry.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

func listingKey(storefront common.Address, itemID uint64) []byte {
	key := append([]byte("listing/record/"), storefront.Bytes()...)
	return binary.BigEndian.AppendUint64(key, itemID)
}

func indexKey(storefront common.Address) []byte {
	return append([]byte("listing/index/"), storefront.Bytes()...)
}

func (r *Registry) load(storefront common.Address, itemID uint64) (*Listing, error) {
	var l Listing
	ok, err := r.state.KVGet(listingKey(storefront, itemID), &l)
	if err != nil {
		return nil, fmt.Errorf("listing: load %d: %w", itemID, err)
	}
	if !ok {
		return nil, coreerrors.Wrap(coreerrors.ErrListingNotFound, "item %d", itemID)
	}
	if l.Price == nil {
		l.Price = new(uint256.Int)
	}
	return &l, nil
}

func (r *Registry) index(storefront common.Address) ([]uint64, error) {
	var ids []uint64
	if _, err := r.state.KVGet(indexKey(storefront), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *Registry) writeIndex(storefront common.Address, ids []uint64) error {
	if len(ids) == 0 {
		return r.state.KVDelete(indexKey(storefront))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return r.state.KVPut(indexKey(storefront), ids)
}

func (r *Registry) emit(ctx context.Context, eventType string, storefront common.Address, l *Listing) {
	evt := events.Attrs{}.
		Address("storefront", storefront).
		Uint("itemId", l.ItemID).
		Amount("price", l.Price).
		Address("paymentToken", l.PaymentToken).
		Uint("affiliateFeeBps", l.AffiliateFeeBps).
		Event(eventType)
	emitter := r.emitter
	r.state.OnCommit(ctx, func() { emitter.Emit(evt) })
}

func validate(l *Listing) error {
	if l == nil {
		return coreerrors.Wrap(coreerrors.ErrInvalidParameters, "listing required")
	}
	return nativecommon.ValidateBps("affiliate fee", l.AffiliateFeeBps)
}

// Create stores a new listing. It fails with ErrDuplicateListing when the
// item is already listed by the storefront.
func (r *Registry) Create(ctx context.Context, storefront common.Address, l *Listing) (*Listing, error) {
	if err := validate(l); err != nil {
		return nil, err
	}
	var out *Listing
	err := r.state.Atomic(ctx, "", func(ctx context.Context) error {
		if _, err := r.load(storefront, l.ItemID); err == nil {
			return coreerrors.Wrap(coreerrors.ErrDuplicateListing, "item %d", l.ItemID)
		} else if !coreerrors.IsNotFound(err) {
			return err
		}
		record := l.Clone()
		record.ListingTime = r.state.Now(ctx)
		if err := r.state.KVPut(listingKey(storefront, record.ItemID), record); err != nil {
			return err
		}
		ids, err := r.index(storefront)
		if err != nil {
			return err
		}
		if err := r.writeIndex(storefront, append(ids, record.ItemID)); err != nil {
			return err
		}
		r.emit(ctx, EventTypeCreated, storefront, record)
		out = record
		return nil
	})
	return out, err
}

// Update replaces the terms of an existing listing, keeping its listing time.
func (r *Registry) Update(ctx context.Context, storefront common.Address, l *Listing) (*Listing, error) {
	if err := validate(l); err != nil {
		return nil, err
	}
	var out *Listing
	err := r.state.Atomic(ctx, "", func(ctx context.Context) error {
		existing, err := r.load(storefront, l.ItemID)
		if err != nil {
			return err
		}
		record := l.Clone()
		record.ListingTime = existing.ListingTime
		if err := r.state.KVPut(listingKey(storefront, record.ItemID), record); err != nil {
			return err
		}
		r.emit(ctx, EventTypeUpdated, storefront, record)
		out = record
		return nil
	})
	return out, err
}

// Remove deletes the listing for itemID.
func (r *Registry) Remove(ctx context.Context, storefront common.Address, itemID uint64) error {
	return r.state.Atomic(ctx, "", func(ctx context.Context) error {
		existing, err := r.load(storefront, itemID)
		if err != nil {
			return err
		}
		if err := r.state.KVDelete(listingKey(storefront, itemID)); err != nil {
			return err
		}
		ids, err := r.index(storefront)
		if err != nil {
			return err
		}
		kept := ids[:0]
		for _, id := range ids {
			if id != itemID {
				kept = append(kept, id)
			}
		}
		if err := r.writeIndex(storefront, kept); err != nil {
			return err
		}
		r.emit(ctx, EventTypeRemoved, storefront, existing)
		return nil
	})
}

// Get returns the listing for itemID.
func (r *Registry) Get(ctx context.Context, storefront common.Address, itemID uint64) (*Listing, error) {
	var out *Listing
	err := r.state.View(ctx, func(context.Context) error {
		l, err := r.load(storefront, itemID)
		out = l
		return err
	})
	return out, err
}

// List returns every listing of the storefront ordered by item identifier.
func (r *Registry) List(ctx context.Context, storefront common.Address) ([]*Listing, error) {
	var out []*Listing
	err := r.state.View(ctx, func(context.Context) error {
		ids, err := r.index(storefront)
		if err != nil {
			return err
		}
		for _, id := range ids {
			l, err := r.load(storefront, id)
			if err != nil {
				return err
			}
			out = append(out, l)
		}
		return nil
	})
	return out, err
}
