package storefront

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/nickbax/ump-auction-test/core/types"
)

// ItemType mirrors the order protocol's asset classes.
type ItemType uint8

const (
	ItemNative ItemType = iota
	ItemFungible
	ItemNFT
	ItemMultiToken
)

func (t ItemType) String() string {
	switch t {
	case ItemNative:
		return "native"
	case ItemFungible:
		return "fungible"
	case ItemNFT:
		return "nft"
	case ItemMultiToken:
		return "multi_token"
	default:
		return "unknown"
	}
}

// SpentItem is an asset offered by one side of an order.
type SpentItem struct {
	ItemType   ItemType
	Token      common.Address
	Identifier uint64
	Amount     *uint256.Int
}

// ReceivedItem is an asset the order protocol must deliver to Recipient.
type ReceivedItem struct {
	ItemType   ItemType
	Token      common.Address
	Identifier uint64
	Amount     *uint256.Int
	Recipient  common.Address
}

// EncryptedMessage is an opaque note from the buyer to the seller.
type EncryptedMessage = types.EncryptedMessage

// OrderContext is the decoded form of the context blob passed through the
// order protocol.
type OrderContext struct {
	Affiliate common.Address
	Message   EncryptedMessage
}

// Config describes a storefront at deployment.
type Config struct {
	Address      common.Address
	Owner        common.Address
	ItemContract common.Address
	Protocol     common.Address
	Arbiter      common.Address
	SettleDelay  uint64
}

// PendingOrder carries a generated order from GenerateOrder to RatifyOrder.
type PendingOrder struct {
	Active            bool
	Buyer             common.Address
	ItemID            uint64
	Price             *uint256.Int
	PaymentToken      common.Address
	Affiliate         common.Address
	AffiliateShareBps uint64
	Message           EncryptedMessage
}

// Storefront is the persisted state of one storefront.
type Storefront struct {
	Config
	Ready         bool
	CurrentEscrow common.Address
	SaleCount     uint64
	Pending       PendingOrder
}

// Sale records a ratified purchase.
type Sale struct {
	ID                uint64
	Storefront        common.Address
	ItemID            uint64
	Buyer             common.Address
	Escrow            common.Address
	Price             *uint256.Int
	PaymentToken      common.Address
	Affiliate         common.Address
	AffiliateShareBps uint64
	Message           EncryptedMessage
	FinalMessage      EncryptedMessage
	Timestamp         uint64
}
