package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestWrappedSentinelsMatch(t *testing.T) {
	err := Wrap(ErrBidTooLow, "bid %d below minimum %d", 99, 100)
	if !stderrors.Is(err, ErrBidTooLow) {
		t.Fatalf("expected wrapped error to match sentinel")
	}
	if stderrors.Is(err, ErrExpired) {
		t.Fatalf("wrapped error must not match unrelated sentinel")
	}
	if KindOf(err) != KindParameter {
		t.Fatalf("unexpected kind %s", KindOf(err))
	}
	if got := err.Error(); got != "BidTooLow: bid 99 below minimum 100" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestKindOfForeignError(t *testing.T) {
	if KindOf(fmt.Errorf("boom")) != KindUnknown {
		t.Fatalf("foreign errors must map to KindUnknown")
	}
	if !IsNotFound(fmt.Errorf("lookup: %w", ErrAuctionNotFound)) {
		t.Fatalf("expected not-found classification")
	}
}
