// Package genesis seeds native, token and item balances into a market
// database the first time the daemon opens it.
package genesis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/nickbax/ump-auction-test/config"
	"github.com/nickbax/ump-auction-test/native/bank"
)

var genesisKey = []byte("market/genesis")

// ErrMismatch is returned when the configured allocations differ from the
// ones already applied to the database.
var ErrMismatch = errors.New("genesis: allocations differ from the applied set")

const (
	kindNative uint8 = iota
	kindToken
	kindItem
)

// Entry is one parsed allocation. Asset is the token or item contract and is
// zero for native value.
type Entry struct {
	Kind   uint8
	Asset  common.Address
	ItemID uint64
	Holder common.Address
	Amount *uint256.Int
}

// Record marks a database as seeded.
type Record struct {
	Digest    common.Hash
	Entries   uint64
	AppliedAt uint64
}

// Parse converts the configured allocations into entries in file order.
func Parse(cfg config.GenesisConfig) ([]Entry, error) {
	entries := make([]Entry, 0, len(cfg.Native)+len(cfg.Tokens)+len(cfg.Items))
	for i, a := range cfg.Native {
		holder, err := config.ParseAddress(fmt.Sprintf("genesis.native[%d].Address", i), a.Address)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount(fmt.Sprintf("genesis.native[%d].Amount", i), a.Amount)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Kind: kindNative, Holder: holder, Amount: amount})
	}
	for i, a := range cfg.Tokens {
		token, err := config.ParseAddress(fmt.Sprintf("genesis.tokens[%d].Token", i), a.Token)
		if err != nil {
			return nil, err
		}
		holder, err := config.ParseAddress(fmt.Sprintf("genesis.tokens[%d].Holder", i), a.Holder)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount(fmt.Sprintf("genesis.tokens[%d].Amount", i), a.Amount)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Kind: kindToken, Asset: token, Holder: holder, Amount: amount})
	}
	for i, a := range cfg.Items {
		contract, err := config.ParseAddress(fmt.Sprintf("genesis.items[%d].Contract", i), a.Contract)
		if err != nil {
			return nil, err
		}
		holder, err := config.ParseAddress(fmt.Sprintf("genesis.items[%d].Holder", i), a.Holder)
		if err != nil {
			return nil, err
		}
		if a.Amount == 0 {
			return nil, fmt.Errorf("genesis.items[%d].Amount: must be positive", i)
		}
		entries = append(entries, Entry{Kind: kindItem, Asset: contract, ItemID: a.ItemID, Holder: holder, Amount: uint256.NewInt(a.Amount)})
	}
	return entries, nil
}

func parseAmount(field, raw string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: invalid amount %q: %w", field, raw, err)
	}
	if v.IsZero() {
		return nil, fmt.Errorf("%s: must be positive", field)
	}
	return v, nil
}

// Digest identifies an allocation set.
func Digest(entries []Entry) (common.Hash, error) {
	encoded, err := rlp.EncodeToBytes(entries)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

// Apply credits the configured allocations once. It reports whether this
// call wrote them. An empty configuration leaves the database unmarked so
// allocations can still be added before first use; a database already seeded
// with a different set fails with ErrMismatch.
func Apply(ctx context.Context, ledger *bank.Ledger, cfg config.GenesisConfig) (bool, error) {
	entries, err := Parse(cfg)
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return false, nil
	}
	digest, err := Digest(entries)
	if err != nil {
		return false, err
	}

	manager := ledger.State()
	applied := false
	err = manager.Atomic(ctx, "genesis", func(ctx context.Context) error {
		var stored Record
		ok, err := manager.KVGet(genesisKey, &stored)
		if err != nil {
			return err
		}
		if ok {
			if stored.Digest != digest {
				return fmt.Errorf("%w: stored %s, configured %s", ErrMismatch, stored.Digest.Hex(), digest.Hex())
			}
			return nil
		}
		for i, e := range entries {
			if err := credit(ledger, e); err != nil {
				return fmt.Errorf("genesis entry %d: %w", i, err)
			}
		}
		applied = true
		return manager.KVPut(genesisKey, Record{Digest: digest, Entries: uint64(len(entries)), AppliedAt: manager.Now(ctx)})
	})
	return applied, err
}

func credit(ledger *bank.Ledger, e Entry) error {
	switch e.Kind {
	case kindNative:
		return ledger.Credit(e.Holder, e.Amount)
	case kindToken:
		return ledger.MintToken(e.Asset, e.Holder, e.Amount)
	case kindItem:
		return ledger.MintItem(e.Asset, e.ItemID, e.Holder, e.Amount.Uint64())
	}
	return fmt.Errorf("unknown allocation kind %d", e.Kind)
}
