package storefront

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "github.com/nickbax/ump-auction-test/native/common"
)

// AffiliateVerifier reports the payout multiplier for an affiliate in basis
// points. Zero rejects the affiliate.
type AffiliateVerifier interface {
	GetMultiplier(ctx context.Context, affiliate common.Address) (uint64, error)
}

// StaticVerifier serves multipliers from an operator-maintained table.
type StaticVerifier struct {
	mu          sync.RWMutex
	multipliers map[common.Address]uint64
}

func NewStaticVerifier() *StaticVerifier {
	return &StaticVerifier{multipliers: make(map[common.Address]uint64)}
}

// Set registers or replaces the multiplier for affiliate. Zero removes it.
func (v *StaticVerifier) Set(affiliate common.Address, multiplierBps uint64) error {
	if multiplierBps > nativecommon.BpsDenominator {
		return fmt.Errorf("storefront: multiplier %d exceeds %d bps", multiplierBps, nativecommon.BpsDenominator)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if multiplierBps == 0 {
		delete(v.multipliers, affiliate)
		return nil
	}
	v.multipliers[affiliate] = multiplierBps
	return nil
}

func (v *StaticVerifier) GetMultiplier(_ context.Context, affiliate common.Address) (uint64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.multipliers[affiliate], nil
}
