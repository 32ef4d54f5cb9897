package common

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/holiman/uint256"

	coreerrors "github.com/nickbax/ump-auction-test/core/errors"
)

func TestSplitAffiliateScenario(t *testing.T) {
	payee, affiliate := Split(uint256.NewInt(1000), 2000)
	if payee.Uint64() != 800 || affiliate.Uint64() != 200 {
		t.Fatalf("unexpected split payee=%s affiliate=%s", payee, affiliate)
	}
}

func TestSplitConservesAmount(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		amount := uint256.NewInt(rng.Uint64())
		share := uint64(rng.Intn(int(BpsDenominator) + 1))
		payee, affiliate := Split(amount, share)
		sum := new(uint256.Int).Add(payee, affiliate)
		if !sum.Eq(amount) {
			t.Fatalf("split leaked value: amount=%s share=%d payee=%s affiliate=%s", amount, share, payee, affiliate)
		}
		want := new(uint256.Int).Mul(amount, uint256.NewInt(share))
		want.Div(want, uint256.NewInt(BpsDenominator))
		if !affiliate.Eq(want) {
			t.Fatalf("affiliate mismatch: got %s want %s", affiliate, want)
		}
	}
}

func TestBpsOfLargeAmountDoesNotOverflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	got := BpsOf(max, BpsDenominator)
	if !got.Eq(max) {
		t.Fatalf("expected full share of max value, got %s", got)
	}
}

func TestValidateBps(t *testing.T) {
	if err := ValidateBps("fee", BpsDenominator); err != nil {
		t.Fatalf("10000 bps should be valid: %v", err)
	}
	if err := ValidateBps("fee", BpsDenominator+1); !errors.Is(err, coreerrors.ErrInvalidParameters) {
		t.Fatalf("expected ErrInvalidParameters, got %v", err)
	}
}

func TestGuard(t *testing.T) {
	pauses := NewPauses(map[string]bool{ModuleEscrow: true})
	if err := Guard(pauses, ModuleEscrow); !errors.Is(err, coreerrors.ErrModulePaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
	if err := Guard(pauses, ModuleAuction); err != nil {
		t.Fatalf("auction should not be paused: %v", err)
	}
	pauses.Set(ModuleEscrow, false)
	if err := Guard(pauses, ModuleEscrow); err != nil {
		t.Fatalf("escrow should be resumed: %v", err)
	}
	if err := Guard(nil, ModuleEscrow); err != nil {
		t.Fatalf("nil view must never pause: %v", err)
	}
}
