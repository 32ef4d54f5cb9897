package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies failures so outer layers can react without string matching.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindAuthorization means the caller does not hold the role the operation
	// is gated on.
	KindAuthorization
	// KindState means the operation is invalid for the current lifecycle phase.
	KindState
	// KindParameter covers out-of-range or malformed arguments.
	KindParameter
	// KindResource covers missing balances, allowances, custody or records.
	KindResource
	// KindTransfer means an external value or token movement failed.
	KindTransfer
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindParameter:
		return "parameter"
	case KindResource:
		return "resource"
	case KindTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// Error is a sentinel failure carrying a stable code and its taxonomy kind.
// Comparisons via errors.Is match on the code so wrapped copies still match.
type Error struct {
	Kind Kind
	Code string
}

func (e *Error) Error() string { return e.Code }

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	var other *Error
	if !stderrors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

func newError(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

var (
	ErrUnauthorized      = newError(KindAuthorization, "Unauthorized")
	ErrNotProtocolCaller = newError(KindAuthorization, "NotProtocolCaller")

	ErrAlreadyInitialized = newError(KindState, "AlreadyInitialized")
	ErrNotInitialized     = newError(KindState, "NotInitialized")
	ErrInvalidState       = newError(KindState, "InvalidState")
	ErrNotReady           = newError(KindState, "NotReady")
	ErrNotStarted         = newError(KindState, "NotStarted")
	ErrExpired            = newError(KindState, "Expired")
	ErrNotYetComplete     = newError(KindState, "NotYetComplete")
	ErrNoBids             = newError(KindState, "No bids placed")
	ErrBidsAlreadyPlaced  = newError(KindState, "BidsAlreadyPlaced")
	ErrAuctionNotActive   = newError(KindState, "AuctionNotActive")
	ErrAuctionsActive     = newError(KindState, "AuctionsActive")
	ErrDuplicateAuction   = newError(KindState, "DuplicateAuction")
	ErrDuplicateListing   = newError(KindState, "DuplicateListing")
	ErrReentrantCall      = newError(KindState, "ReentrantCall")
	ErrModulePaused       = newError(KindState, "ModulePaused")

	ErrInvalidAddress           = newError(KindParameter, "InvalidAddress")
	ErrInvalidParameters        = newError(KindParameter, "InvalidParameters")
	ErrInvalidPremiumPercentage = newError(KindParameter, "InvalidPremiumPercentage")
	ErrBidTooLow                = newError(KindParameter, "BidTooLow")
	ErrInsufficientAmount       = newError(KindParameter, "InsufficientAmount")

	ErrInsufficientBalance   = newError(KindResource, "InsufficientBalance")
	ErrInsufficientAllowance = newError(KindResource, "InsufficientAllowance")
	ErrNoTokensAvailable     = newError(KindResource, "NoTokensAvailable")
	ErrItemNotHeld           = newError(KindResource, "ItemNotHeld")
	ErrEscrowNotFound        = newError(KindResource, "EscrowNotFound")
	ErrListingNotFound       = newError(KindResource, "ListingNotFound")
	ErrAuctionNotFound       = newError(KindResource, "AuctionNotFound")
	ErrSaleNotFound          = newError(KindResource, "SaleNotFound")

	ErrTransferFailed      = newError(KindTransfer, "TransferFailed")
	ErrTokenTransferFailed = newError(KindTransfer, "TokenTransferFailed")
)

// Wrap attaches detail to a sentinel while keeping it matchable.
func Wrap(sentinel *Error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// KindOf returns the taxonomy kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var typed *Error
	if stderrors.As(err, &typed) {
		return typed.Kind
	}
	return KindUnknown
}

// IsNotFound reports whether err signals a missing record.
func IsNotFound(err error) bool {
	return stderrors.Is(err, ErrEscrowNotFound) ||
		stderrors.Is(err, ErrListingNotFound) ||
		stderrors.Is(err, ErrAuctionNotFound) ||
		stderrors.Is(err, ErrSaleNotFound)
}
