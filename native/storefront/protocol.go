package storefront

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	coreerrors "github.com/nickbax/ump-auction-test/core/errors"
	"github.com/nickbax/ump-auction-test/core/state"
	"github.com/nickbax/ump-auction-test/native/bank"
)

// Protocol is an in-process order protocol. It drives a ContractOfferer
// through generate and ratify and moves the assets in between, the way an
// external marketplace protocol fulfils contract orders.
type Protocol struct {
	address common.Address
	state   *state.Manager
	bank    *bank.Ledger
}

func NewProtocol(address common.Address, manager *state.Manager, ledger *bank.Ledger) *Protocol {
	return &Protocol{address: address, state: manager, bank: ledger}
}

// Address is the caller identity the protocol presents to offerers.
func (p *Protocol) Address() common.Address { return p.address }

// Fulfillment is the outcome of a fulfilled order.
type Fulfillment struct {
	OrderHash     common.Hash
	Nonce         uint64
	Offer         []SpentItem
	Consideration []ReceivedItem
}

func nonceKey(offerer common.Address) []byte {
	return append([]byte("protocol/nonce/"), offerer.Bytes()...)
}

// Fulfill executes a contract order for fulfiller. Fungible consideration is
// pulled with the allowance fulfiller granted to the protocol address; native
// consideration is paid from fulfiller's native balance.
func (p *Protocol) Fulfill(ctx context.Context, offerer ContractOfferer, fulfiller common.Address, minimumReceived, maximumSpent []SpentItem, orderContext []byte) (*Fulfillment, error) {
	var out *Fulfillment
	err := p.state.Atomic(ctx, "protocol", func(ctx context.Context) error {
		offer, consideration, err := offerer.GenerateOrder(ctx, p.address, fulfiller, minimumReceived, maximumSpent, orderContext)
		if err != nil {
			return err
		}
		if err := checkMaximumSpent(consideration, maximumSpent); err != nil {
			return err
		}
		for _, item := range offer {
			if err := p.deliver(ctx, offerer.Address(), fulfiller, item.ItemType, item.Token, item.Identifier, item.Amount); err != nil {
				return err
			}
		}
		for _, item := range consideration {
			if err := p.deliver(ctx, fulfiller, item.Recipient, item.ItemType, item.Token, item.Identifier, item.Amount); err != nil {
				return err
			}
		}
		nonce, err := p.state.NextSequence(nonceKey(offerer.Address()))
		if err != nil {
			return err
		}
		hash := orderHash(offerer.Address(), nonce)
		if err := offerer.RatifyOrder(ctx, p.address, offer, consideration, orderContext, []common.Hash{hash}, nonce); err != nil {
			return err
		}
		out = &Fulfillment{OrderHash: hash, Nonce: nonce, Offer: offer, Consideration: consideration}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func orderHash(offerer common.Address, nonce uint64) common.Hash {
	return ethcrypto.Keccak256Hash(offerer.Bytes(), uint256.NewInt(nonce).PaddedBytes(32))
}

// checkMaximumSpent rejects orders whose consideration exceeds what the
// fulfiller agreed to spend for the same asset. An empty bound accepts any
// consideration.
func checkMaximumSpent(consideration []ReceivedItem, maximumSpent []SpentItem) error {
	if len(maximumSpent) == 0 {
		return nil
	}
	type asset struct {
		kind  ItemType
		token common.Address
	}
	limits := make(map[asset]*uint256.Int)
	for _, item := range maximumSpent {
		key := asset{item.ItemType, item.Token}
		if limits[key] == nil {
			limits[key] = new(uint256.Int)
		}
		limits[key].Add(limits[key], amountOf(item.Amount))
	}
	for _, item := range consideration {
		limit := limits[asset{item.ItemType, item.Token}]
		if limit == nil || limit.Lt(amountOf(item.Amount)) {
			return coreerrors.Wrap(coreerrors.ErrInvalidParameters, "consideration of %s %s exceeds maximum spent", item.ItemType, item.Token.Hex())
		}
		limit.Sub(limit, amountOf(item.Amount))
	}
	return nil
}

func amountOf(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

func (p *Protocol) deliver(ctx context.Context, from, to common.Address, kind ItemType, token common.Address, id uint64, amount *uint256.Int) error {
	switch kind {
	case ItemNative:
		return p.bank.TransferNative(ctx, from, to, amountOf(amount))
	case ItemFungible:
		ok, err := p.bank.TransferTokenFrom(ctx, token, p.address, from, to, amountOf(amount))
		if err != nil {
			return err
		}
		if !ok {
			return coreerrors.Wrap(coreerrors.ErrTokenTransferFailed, "%s of %s from %s", amountOf(amount).Dec(), token.Hex(), from.Hex())
		}
		return nil
	case ItemNFT, ItemMultiToken:
		return p.bank.TransferItem(ctx, token, id, from, to, amountOf(amount).Uint64())
	default:
		return fmt.Errorf("protocol: unsupported item type %d", kind)
	}
}
