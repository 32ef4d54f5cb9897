package storefront

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "github.com/nickbax/ump-auction-test/core/errors"
	"github.com/nickbax/ump-auction-test/core/events"
	nativecommon "github.com/nickbax/ump-auction-test/native/common"
	"github.com/nickbax/ump-auction-test/native/listing"
)

// ContractOfferer is the callback surface an order protocol drives when it
// fulfils an order against a contract-held inventory.
type ContractOfferer interface {
	Address() common.Address
	PreviewOrder(ctx context.Context, caller, fulfiller common.Address, minimumReceived, maximumSpent []SpentItem, orderContext []byte) ([]SpentItem, []ReceivedItem, error)
	GenerateOrder(ctx context.Context, caller, fulfiller common.Address, minimumReceived, maximumSpent []SpentItem, orderContext []byte) ([]SpentItem, []ReceivedItem, error)
	RatifyOrder(ctx context.Context, caller common.Address, offer []SpentItem, consideration []ReceivedItem, orderContext []byte, orderHashes []common.Hash, contractNonce uint64) error
}

// Offerer binds the engine to a single storefront.
type Offerer struct {
	engine *Engine
	addr   common.Address
}

var _ ContractOfferer = (*Offerer)(nil)

// Offerer returns the order-protocol handle of the storefront at addr.
func (e *Engine) Offerer(addr common.Address) *Offerer {
	return &Offerer{engine: e, addr: addr}
}

func (o *Offerer) Address() common.Address { return o.addr }

func (o *Offerer) PreviewOrder(ctx context.Context, _, fulfiller common.Address, minimumReceived, _ []SpentItem, _ []byte) ([]SpentItem, []ReceivedItem, error) {
	return o.engine.PreviewOrder(ctx, o.addr, fulfiller, minimumReceived)
}

func (o *Offerer) GenerateOrder(ctx context.Context, caller, fulfiller common.Address, minimumReceived, _ []SpentItem, orderContext []byte) ([]SpentItem, []ReceivedItem, error) {
	return o.engine.GenerateOrder(ctx, caller, o.addr, fulfiller, minimumReceived, orderContext)
}

func (o *Offerer) RatifyOrder(ctx context.Context, caller common.Address, offer []SpentItem, consideration []ReceivedItem, _ []byte, orderHashes []common.Hash, contractNonce uint64) error {
	return o.engine.RatifyOrder(ctx, caller, o.addr, offer, consideration, orderHashes, contractNonce)
}

func requestedItem(minimumReceived []SpentItem) (uint64, error) {
	if len(minimumReceived) == 0 {
		return 0, coreerrors.Wrap(coreerrors.ErrInvalidParameters, "order must request an item")
	}
	return minimumReceived[0].Identifier, nil
}

// quote validates the storefront can sell itemID and builds the order legs.
func (e *Engine) quote(ctx context.Context, sf *Storefront, itemID uint64) (*listing.Listing, []SpentItem, []ReceivedItem, error) {
	if !sf.Ready {
		return nil, nil, nil, coreerrors.Wrap(coreerrors.ErrNotReady, "storefront %s", sf.Address.Hex())
	}
	held, err := e.heldBalance(sf, itemID)
	if err != nil {
		return nil, nil, nil, err
	}
	if held == 0 {
		return nil, nil, nil, coreerrors.Wrap(coreerrors.ErrNoTokensAvailable, "item %d", itemID)
	}
	l, err := e.listings.Get(ctx, sf.Address, itemID)
	if err != nil {
		return nil, nil, nil, err
	}
	offer := []SpentItem{{
		ItemType:   ItemMultiToken,
		Token:      sf.ItemContract,
		Identifier: itemID,
		Amount:     uint256.NewInt(1),
	}}
	paymentType := ItemNative
	if l.PaymentToken != (common.Address{}) {
		paymentType = ItemFungible
	}
	consideration := []ReceivedItem{{
		ItemType:  paymentType,
		Token:     l.PaymentToken,
		Amount:    nativecommon.Clone(l.Price),
		Recipient: sf.CurrentEscrow,
	}}
	return l, offer, consideration, nil
}

// PreviewOrder quotes the order a fulfiller would receive without changing
// state.
func (e *Engine) PreviewOrder(ctx context.Context, addr, _ common.Address, minimumReceived []SpentItem) ([]SpentItem, []ReceivedItem, error) {
	itemID, err := requestedItem(minimumReceived)
	if err != nil {
		return nil, nil, err
	}
	var (
		offer         []SpentItem
		consideration []ReceivedItem
	)
	err = e.state.View(ctx, func(ctx context.Context) error {
		sf, err := e.load(addr)
		if err != nil {
			return err
		}
		_, offer, consideration, err = e.quote(ctx, sf, itemID)
		return err
	})
	return offer, consideration, err
}

// EffectiveShare scales the listing's affiliate fee by the verifier
// multiplier: floor(feeBps * multiplierBps / 10000).
func EffectiveShare(feeBps, multiplierBps uint64) uint64 {
	share := nativecommon.BpsOf(uint256.NewInt(feeBps), multiplierBps).Uint64()
	if share > nativecommon.BpsDenominator {
		return nativecommon.BpsDenominator
	}
	return share
}

// GenerateOrder binds the sale to the current escrow. Only the configured
// protocol may call it.
func (e *Engine) GenerateOrder(ctx context.Context, caller, addr, fulfiller common.Address, minimumReceived []SpentItem, orderContext []byte) ([]SpentItem, []ReceivedItem, error) {
	itemID, err := requestedItem(minimumReceived)
	if err != nil {
		return nil, nil, err
	}
	var (
		offer         []SpentItem
		consideration []ReceivedItem
	)
	err = e.mutate(ctx, addr, func(ctx context.Context, sf *Storefront) error {
		if caller != sf.Protocol {
			return coreerrors.Wrap(coreerrors.ErrNotProtocolCaller, "caller %s", caller.Hex())
		}
		if fulfiller == (common.Address{}) {
			return coreerrors.Wrap(coreerrors.ErrInvalidAddress, "fulfiller is required")
		}
		l, o, c, err := e.quote(ctx, sf, itemID)
		if err != nil {
			return err
		}
		decoded, err := DecodeContext(orderContext)
		if err != nil {
			return err
		}
		affiliate := decoded.Affiliate
		var share uint64
		if affiliate != (common.Address{}) {
			multiplier, err := e.verifier.GetMultiplier(ctx, affiliate)
			if err != nil {
				return err
			}
			if multiplier == 0 {
				affiliate = common.Address{}
			} else {
				share = EffectiveShare(l.AffiliateFeeBps, multiplier)
			}
		}
		if err := e.escrows.SetAffiliate(ctx, sf.Address, sf.CurrentEscrow, affiliate, share); err != nil {
			return err
		}
		if err := e.escrows.SetPayer(ctx, sf.Address, sf.CurrentEscrow, fulfiller, sf.SettleDelay); err != nil {
			return err
		}
		sf.Pending = PendingOrder{
			Active:            true,
			Buyer:             fulfiller,
			ItemID:            itemID,
			Price:             nativecommon.Clone(l.Price),
			PaymentToken:      l.PaymentToken,
			Affiliate:         affiliate,
			AffiliateShareBps: share,
			Message:           decoded.Message,
		}
		e.emit(ctx, events.Attrs{}.
			Address("storefront", sf.Address).
			Uint("itemId", itemID).
			Address("buyer", fulfiller).
			Address("escrow", sf.CurrentEscrow).
			Address("affiliate", affiliate).
			Uint("affiliateShareBps", share).
			Event(EventTypeOrderGenerated))
		offer, consideration = o, c
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return offer, consideration, nil
}

// RatifyOrder records the completed sale and provisions a fresh escrow for
// the next one. Only the configured protocol may call it.
func (e *Engine) RatifyOrder(ctx context.Context, caller, addr common.Address, _ []SpentItem, _ []ReceivedItem, orderHashes []common.Hash, contractNonce uint64) error {
	return e.mutate(ctx, addr, func(ctx context.Context, sf *Storefront) error {
		if caller != sf.Protocol {
			return coreerrors.Wrap(coreerrors.ErrNotProtocolCaller, "caller %s", caller.Hex())
		}
		if !sf.Pending.Active {
			return coreerrors.Wrap(coreerrors.ErrInvalidState, "no generated order to ratify")
		}
		sf.SaleCount++
		sale := &Sale{
			ID:                sf.SaleCount,
			Storefront:        sf.Address,
			ItemID:            sf.Pending.ItemID,
			Buyer:             sf.Pending.Buyer,
			Escrow:            sf.CurrentEscrow,
			Price:             nativecommon.Clone(sf.Pending.Price),
			PaymentToken:      sf.Pending.PaymentToken,
			Affiliate:         sf.Pending.Affiliate,
			AffiliateShareBps: sf.Pending.AffiliateShareBps,
			Message:           sf.Pending.Message,
			Timestamp:         e.state.Now(ctx),
		}
		if err := e.state.KVPut(saleKey(sf.Address, sale.ID), sale); err != nil {
			return err
		}
		next, err := e.escrows.Create(ctx, sf.Owner, sf.Address, sf.Arbiter)
		if err != nil {
			return err
		}
		sf.CurrentEscrow = next.Address
		sf.Pending = PendingOrder{}
		attrs := events.Attrs{}.
			Address("storefront", sf.Address).
			Uint("saleId", sale.ID).
			Uint("itemId", sale.ItemID).
			Address("buyer", sale.Buyer).
			Address("escrow", sale.Escrow).
			Amount("price", sale.Price).
			Address("paymentToken", sale.PaymentToken).
			Address("affiliate", sale.Affiliate).
			Uint("affiliateShareBps", sale.AffiliateShareBps).
			Uint("contractNonce", contractNonce).
			Address("nextEscrow", next.Address)
		if len(orderHashes) > 0 {
			attrs.String("orderHash", orderHashes[0].Hex())
		}
		e.emit(ctx, attrs.Event(EventTypeSale))
		return nil
	})
}
