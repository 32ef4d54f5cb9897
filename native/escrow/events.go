package escrow

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/nickbax/ump-auction-test/core/events"
	"github.com/nickbax/ump-auction-test/core/types"
)

const (
	EventTypeCreated          = "escrow.created"
	EventTypePayerSet         = "escrow.payer_set"
	EventTypeAffiliateSet     = "escrow.affiliate_set"
	EventTypeSettled          = "escrow.settled"
	EventTypeRefunded         = "escrow.refunded"
	EventTypeDisputed         = "escrow.disputed"
	EventTypeDisputeRemoved   = "escrow.dispute_removed"
	EventTypeDisputeResolved  = "escrow.dispute_resolved"
	EventTypeEscapeAddressSet = "escrow.escape_address_set"
	EventTypeEscaped          = "escrow.escaped"
	EventTypeArbiterProposed  = "escrow.arbiter_proposed"
	EventTypeArbiterChanged   = "escrow.arbiter_changed"
)

func baseAttrs(esc *Escrow) events.Attrs {
	attrs := events.Attrs{}
	if esc == nil {
		return attrs
	}
	return attrs.
		Uint("id", esc.ID).
		Address("escrow", esc.Address).
		Address("payee", esc.Payee).
		Address("payer", esc.PayerAddress()).
		String("status", esc.Status().String())
}

// NewCreatedEvent returns the payload emitted once an escrow is initialised.
func NewCreatedEvent(esc *Escrow) *types.Event {
	return baseAttrs(esc).
		Address("storefront", esc.Storefront).
		Address("arbiter", esc.Arbiter).
		Event(EventTypeCreated)
}

func newPayerSetEvent(esc *Escrow) *types.Event {
	return baseAttrs(esc).Uint("settleTime", esc.SettleTime).Event(EventTypePayerSet)
}

func newAffiliateSetEvent(esc *Escrow) *types.Event {
	affiliate, share := esc.AffiliateAddress()
	return baseAttrs(esc).Address("affiliate", affiliate).Uint("shareBps", share).Event(EventTypeAffiliateSet)
}

// NewSettledEvent describes a release split between payee and affiliate.
func NewSettledEvent(esc *Escrow, caller, currency common.Address, payeeAmount, affiliateAmount *uint256.Int) *types.Event {
	affiliate, _ := esc.AffiliateAddress()
	return baseAttrs(esc).
		Address("caller", caller).
		Address("currency", currency).
		Amount("payeeAmount", payeeAmount).
		Address("affiliate", affiliate).
		Amount("affiliateAmount", affiliateAmount).
		Event(EventTypeSettled)
}

func newRefundedEvent(esc *Escrow, currency common.Address, amount *uint256.Int) *types.Event {
	return baseAttrs(esc).Address("currency", currency).Amount("amount", amount).Event(EventTypeRefunded)
}

func newDisputeEvent(eventType string, esc *Escrow) *types.Event {
	return baseAttrs(esc).Event(eventType)
}

func newDisputeResolvedEvent(esc *Escrow, settled bool, currency common.Address, amount *uint256.Int) *types.Event {
	return baseAttrs(esc).
		Address("arbiter", esc.Arbiter).
		Bool("settled", settled).
		Address("currency", currency).
		Amount("amount", amount).
		Event(EventTypeDisputeResolved)
}

func newEscapeAddressSetEvent(esc *Escrow) *types.Event {
	return baseAttrs(esc).Address("escapeAddress", esc.EscapeAddress).Event(EventTypeEscapeAddressSet)
}

func newEscapedEvent(esc *Escrow, caller, currency common.Address, amount *uint256.Int) *types.Event {
	return baseAttrs(esc).
		Address("caller", caller).
		Address("escapeAddress", esc.EscapeAddress).
		Address("currency", currency).
		Amount("amount", amount).
		Event(EventTypeEscaped)
}

func newArbiterEvent(eventType string, esc *Escrow, arbiter common.Address) *types.Event {
	return baseAttrs(esc).Address("arbiter", arbiter).Event(eventType)
}
