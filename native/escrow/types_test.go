package escrow

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "github.com/nickbax/ump-auction-test/core/errors"
)

func TestSlotBindsOnce(t *testing.T) {
	var slot Slot[common.Address]
	if _, bound := slot.Get(); bound {
		t.Fatalf("new slot must be empty")
	}
	if err := slot.Bind("payer", common.Address{}); err != nil {
		t.Fatalf("first bind: %v", err)
	}
	if err := slot.Bind("payer", payerAddr); !errors.Is(err, coreerrors.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if value, _ := slot.Get(); value != (common.Address{}) {
		t.Fatalf("rebinding must not overwrite the original value")
	}
}

func TestStatusDerivation(t *testing.T) {
	esc := &Escrow{Initialized: true}
	if esc.Status() != StatusCreated {
		t.Fatalf("expected created, got %s", esc.Status())
	}
	_ = esc.Payer.Bind("payer", payerAddr)
	if esc.Status() != StatusPayerSet {
		t.Fatalf("expected payer_set, got %s", esc.Status())
	}
	esc.IsDisputed = true
	if esc.Status() != StatusDisputed {
		t.Fatalf("expected disputed, got %s", esc.Status())
	}
	esc.IsDisputed = false
	esc.Resolved = true
	if esc.Status() != StatusResolved {
		t.Fatalf("expected resolved, got %s", esc.Status())
	}
	esc.Escaped = true
	if esc.Status() != StatusEscaped {
		t.Fatalf("expected escaped, got %s", esc.Status())
	}
	if (*Escrow)(nil).Status() != StatusUninitialized {
		t.Fatalf("nil escrow must report uninitialized")
	}
}
