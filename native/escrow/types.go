package escrow

import (
	"github.com/ethereum/go-ethereum/common"

	coreerrors "github.com/nickbax/ump-auction-test/core/errors"
)

// Status is the lifecycle phase of an escrow, derived from its stored flags.
type Status uint8

const (
	StatusUninitialized Status = iota
	StatusCreated
	StatusPayerSet
	StatusSettled
	StatusDisputed
	StatusResolved
	StatusEscaped
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusPayerSet:
		return "payer_set"
	case StatusSettled:
		return "settled"
	case StatusDisputed:
		return "disputed"
	case StatusResolved:
		return "resolved"
	case StatusEscaped:
		return "escaped"
	default:
		return "uninitialized"
	}
}

// Slot is a write-once binding. Once Bind succeeds every further attempt
// fails with ErrInvalidState, whatever the value.
type Slot[T any] struct {
	Bound bool
	Value T
}

// Get returns the bound value and whether the slot has been bound.
func (s Slot[T]) Get() (T, bool) {
	return s.Value, s.Bound
}

// Bind stores v if the slot is still empty.
func (s *Slot[T]) Bind(field string, v T) error {
	if s.Bound {
		return coreerrors.Wrap(coreerrors.ErrInvalidState, "%s already set", field)
	}
	s.Value = v
	s.Bound = true
	return nil
}

// AffiliateBinding is the referral share attached to an escrow. A zero
// address means the sale carried no affiliate and ShareBps is always zero.
type AffiliateBinding struct {
	Address  common.Address
	ShareBps uint64
}

// Escrow is the custody record of a single transaction. Its funds are held by
// the ledger under Address.
type Escrow struct {
	ID         uint64
	Address    common.Address
	Payee      common.Address
	Storefront common.Address
	Arbiter    common.Address

	Initialized bool
	Payer       Slot[common.Address]
	Affiliate   Slot[AffiliateBinding]

	IsDisputed      bool
	IsSettled       bool
	Resolved        bool
	Escaped         bool
	SettleTime      uint64
	EscapeAddress   common.Address
	ProposedArbiter common.Address
	CreatedAt       uint64
}

// Clone returns a copy safe for callers to mutate.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}

// PayerAddress returns the bound payer, or the zero address.
func (e *Escrow) PayerAddress() common.Address {
	payer, _ := e.Payer.Get()
	return payer
}

// AffiliateAddress returns the bound affiliate and its share.
func (e *Escrow) AffiliateAddress() (common.Address, uint64) {
	binding, _ := e.Affiliate.Get()
	return binding.Address, binding.ShareBps
}

// Status derives the lifecycle phase from the stored flags.
func (e *Escrow) Status() Status {
	switch {
	case e == nil || !e.Initialized:
		return StatusUninitialized
	case e.Escaped:
		return StatusEscaped
	case e.Resolved && !e.IsDisputed:
		return StatusResolved
	case e.IsDisputed:
		return StatusDisputed
	case e.IsSettled:
		return StatusSettled
	case e.Payer.Bound:
		return StatusPayerSet
	default:
		return StatusCreated
	}
}
