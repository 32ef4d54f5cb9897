package events

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/nickbax/ump-auction-test/core/types"
)

// Attrs accumulates string attributes for a types.Event.
type Attrs map[string]string

// Address stores a checksummed hex address. Zero addresses are omitted so
// consumers can distinguish "unset" from a real participant.
func (a Attrs) Address(key string, addr common.Address) Attrs {
	if addr == (common.Address{}) {
		return a
	}
	a[key] = addr.Hex()
	return a
}

// Amount stores a decimal amount; nil renders as zero.
func (a Attrs) Amount(key string, v *uint256.Int) Attrs {
	a[key] = formatAmount(v)
	return a
}

// Uint stores a decimal unsigned integer.
func (a Attrs) Uint(key string, v uint64) Attrs {
	a[key] = strconv.FormatUint(v, 10)
	return a
}

// Bool stores "true" or "false".
func (a Attrs) Bool(key string, v bool) Attrs {
	a[key] = strconv.FormatBool(v)
	return a
}

// String stores v when it is non-empty.
func (a Attrs) String(key, v string) Attrs {
	if v != "" {
		a[key] = v
	}
	return a
}

// Event builds the canonical payload.
func (a Attrs) Event(eventType string) *types.Event {
	return &types.Event{Type: eventType, Attributes: map[string]string(a)}
}

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
