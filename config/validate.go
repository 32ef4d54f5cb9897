package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const maxBps = 10_000

// ParseAddress decodes a 0x-prefixed hex address, rejecting malformed and
// zero values.
func ParseAddress(field, raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, raw)
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s: zero address", field)
	}
	return addr, nil
}

// Validate reports every problem found in cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil")
	}
	var errs []error
	check := func(field, raw string) {
		if _, err := ParseAddress(field, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		errs = append(errs, errors.New("ListenAddress: required"))
	}
	check("escrow.Factory", cfg.Escrow.Factory)

	if sf := cfg.Storefront; strings.TrimSpace(sf.Address) != "" {
		check("storefront.Address", sf.Address)
		check("storefront.Owner", sf.Owner)
		check("storefront.ItemContract", sf.ItemContract)
		check("storefront.Protocol", sf.Protocol)
		check("storefront.Arbiter", sf.Arbiter)
	}
	for i, aff := range cfg.Storefront.Affiliates {
		check(fmt.Sprintf("storefront.Affiliates[%d].Address", i), aff.Address)
		if aff.MultiplierBps > maxBps {
			errs = append(errs, fmt.Errorf("storefront.Affiliates[%d].MultiplierBps: %d exceeds %d", i, aff.MultiplierBps, maxBps))
		}
	}
	if ah := cfg.Auction; strings.TrimSpace(ah.Address) != "" {
		check("auction.Address", ah.Address)
		check("auction.Owner", ah.Owner)
		check("auction.Arbiter", ah.Arbiter)
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		errs = append(errs, errors.New("auth.HMACSecret: required when auth is enabled"))
	}
	amount := func(field, raw string) {
		v, err := uint256.FromDecimal(strings.TrimSpace(raw))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid amount %q", field, raw))
			return
		}
		if v.IsZero() {
			errs = append(errs, fmt.Errorf("%s: must be positive", field))
		}
	}
	for i, a := range cfg.Genesis.Native {
		check(fmt.Sprintf("genesis.native[%d].Address", i), a.Address)
		amount(fmt.Sprintf("genesis.native[%d].Amount", i), a.Amount)
	}
	for i, a := range cfg.Genesis.Tokens {
		check(fmt.Sprintf("genesis.tokens[%d].Token", i), a.Token)
		check(fmt.Sprintf("genesis.tokens[%d].Holder", i), a.Holder)
		amount(fmt.Sprintf("genesis.tokens[%d].Amount", i), a.Amount)
	}
	for i, a := range cfg.Genesis.Items {
		check(fmt.Sprintf("genesis.items[%d].Contract", i), a.Contract)
		check(fmt.Sprintf("genesis.items[%d].Holder", i), a.Holder)
		if a.Amount == 0 {
			errs = append(errs, fmt.Errorf("genesis.items[%d].Amount: must be positive", i))
		}
	}
	seen := make(map[string]struct{}, len(cfg.RateLimits))
	for i, rl := range cfg.RateLimits {
		if strings.TrimSpace(rl.ID) == "" {
			errs = append(errs, fmt.Errorf("rateLimits[%d].ID: required", i))
		}
		if _, dup := seen[rl.ID]; dup {
			errs = append(errs, fmt.Errorf("rateLimits[%d].ID: duplicate %q", i, rl.ID))
		}
		seen[rl.ID] = struct{}{}
		if rl.RequestsPerMinute <= 0 {
			errs = append(errs, fmt.Errorf("rateLimits[%d].RequestsPerMinute: must be positive", i))
		}
	}
	return errors.Join(errs...)
}
