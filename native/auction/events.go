package auction

import (
	"github.com/nickbax/ump-auction-test/core/events"
)

const (
	EventTypeHouseDeployed = "auction.house_deployed"
	EventTypeItemLocked    = "auction.item_locked"
	EventTypeCreated       = "auction.created"
	EventTypeBid           = "auction.bid"
	EventTypeOutbid        = "auction.outbid"
	EventTypeExtended      = "auction.extended"
	EventTypeEnded         = "auction.ended"
	EventTypeCancelled     = "auction.cancelled"
	EventTypeFinalMessage  = "auction.final_message"
	EventTypeRescued       = "auction.rescued"
)

func auctionAttrs(a *Auction) events.Attrs {
	return events.Attrs{}.
		Address("house", a.House).
		Uint("auctionId", a.ID).
		Address("itemContract", a.ItemContract).
		Uint("itemId", a.ItemID).
		Address("owner", a.Owner).
		Address("escrow", a.Escrow).
		Address("currency", a.Currency)
}
