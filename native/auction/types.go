package auction

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/nickbax/ump-auction-test/core/types"
)

// EncryptedMessage is the opaque note a bidder attaches to a bid.
type EncryptedMessage = types.EncryptedMessage

// Status is the lifecycle phase of an auction at a given instant.
type Status uint8

const (
	StatusScheduled Status = iota
	StatusOpen
	StatusClosed
	StatusEnded
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusScheduled:
		return "scheduled"
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusEnded:
		return "ended"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// HouseConfig describes an auction house at deployment.
type HouseConfig struct {
	Address     common.Address
	Owner       common.Address
	Arbiter     common.Address
	SettleDelay uint64
}

// House is the persisted state of one auction house.
type House struct {
	HouseConfig
	NextAuctionID  uint64
	ActiveAuctions uint64
}

// Params are the seller-chosen terms of a new auction. A zero Currency means
// bids are placed in native value.
type Params struct {
	ItemContract       common.Address
	ItemID             uint64
	StartTime          uint64
	EndTime            uint64
	ReservePrice       *uint256.Int
	AffiliateFeeBps    uint64
	Currency           common.Address
	MinBidIncrementBps uint64
	IsPremium          bool
	PremiumBps         uint64
	TimeExtension      uint64
}

// Auction is the persisted state of one auction.
type Auction struct {
	ID                 uint64
	House              common.Address
	ItemContract       common.Address
	ItemID             uint64
	HighestBid         *uint256.Int
	StartTime          uint64
	EndTime            uint64
	ReservePrice       *uint256.Int
	AffiliateFeeBps    uint64
	Owner              common.Address
	CurrentBidder      common.Address
	Affiliate          common.Address
	Arbiter            common.Address
	Escrow             common.Address
	Currency           common.Address
	MinBidIncrementBps uint64
	IsPremium          bool
	PremiumBps         uint64
	TimeExtension      uint64
	PaymentAmount      *uint256.Int
	PremiumsPaid       *uint256.Int
	BidCount           uint64
	Message            types.EncryptedMessage
	FinalMessage       types.EncryptedMessage
	Ended              bool
	Cancelled          bool
	CreatedAt          uint64
}

// Status derives the lifecycle phase at now.
func (a *Auction) Status(now uint64) Status {
	switch {
	case a.Cancelled:
		return StatusCancelled
	case a.Ended:
		return StatusEnded
	case now < a.StartTime:
		return StatusScheduled
	case now < a.EndTime:
		return StatusOpen
	default:
		return StatusClosed
	}
}

// Live reports whether the auction still holds its item.
func (a *Auction) Live() bool {
	return !a.Ended && !a.Cancelled
}

func (a *Auction) normalize() {
	for _, v := range []**uint256.Int{&a.HighestBid, &a.ReservePrice, &a.PaymentAmount, &a.PremiumsPaid} {
		if *v == nil {
			*v = new(uint256.Int)
		}
	}
}

// BatchOutcome classifies the result of one entry in a batch sweep.
type BatchOutcome uint8

const (
	OutcomeEnded BatchOutcome = iota
	OutcomeSkipped
	OutcomeFailed
)

func (o BatchOutcome) String() string {
	switch o {
	case OutcomeEnded:
		return "ended"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// BatchResult reports what happened to one auction in a batch sweep.
type BatchResult struct {
	AuctionID uint64
	Outcome   BatchOutcome
	Reason    string
	Err       error
}
