// Package bank is the token custody ledger the market engines settle through.
// It tracks native balances, fungible-token balances and allowances, and
// multi-token item holdings. All methods must run inside a state.Manager
// transaction or view.
package bank

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "github.com/nickbax/ump-auction-test/core/errors"
	"github.com/nickbax/ump-auction-test/core/state"
)

var (
	nativePrefix    = []byte("bank/native/")
	tokenPrefix     = []byte("bank/token/")
	allowancePrefix = []byte("bank/allowance/")
	itemPrefix      = []byte("bank/item/")
)

// Receiver is notified when native value arrives at a registered address.
// Returning an error rejects the transfer.
type Receiver interface {
	OnNativeReceived(ctx context.Context, from common.Address, amount *uint256.Int) error
}

// ReceiverFunc adapts a function to the Receiver interface.
type ReceiverFunc func(ctx context.Context, from common.Address, amount *uint256.Int) error

func (f ReceiverFunc) OnNativeReceived(ctx context.Context, from common.Address, amount *uint256.Int) error {
	return f(ctx, from, amount)
}

// Ledger is the custody collaborator shared by the escrow, storefront and
// auction engines.
type Ledger struct {
	state *state.Manager

	mu        sync.RWMutex
	receivers map[common.Address]Receiver
	frozen    map[common.Address]bool
}

func NewLedger(manager *state.Manager) *Ledger {
	return &Ledger{
		state:     manager,
		receivers: make(map[common.Address]Receiver),
		frozen:    make(map[common.Address]bool),
	}
}

// State exposes the manager the ledger writes through.
func (l *Ledger) State() *state.Manager { return l.state }

// RegisterReceiver installs a hook for inbound native transfers to addr.
// Passing nil removes the hook.
func (l *Ledger) RegisterReceiver(addr common.Address, r Receiver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r == nil {
		delete(l.receivers, addr)
		return
	}
	l.receivers[addr] = r
}

// SetTokenFrozen makes every transfer of token report failure, modelling a
// token contract that returns false instead of reverting.
func (l *Ledger) SetTokenFrozen(token common.Address, frozen bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frozen[token] = frozen
}

func (l *Ledger) receiver(addr common.Address) Receiver {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.receivers[addr]
}

func (l *Ledger) isFrozen(token common.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.frozen[token]
}

func nativeKey(addr common.Address) []byte {
	return append(append([]byte{}, nativePrefix...), addr.Bytes()...)
}

func tokenKey(token, holder common.Address) []byte {
	key := append(append([]byte{}, tokenPrefix...), token.Bytes()...)
	return append(key, holder.Bytes()...)
}

func allowanceKey(token, owner, spender common.Address) []byte {
	key := append(append([]byte{}, allowancePrefix...), token.Bytes()...)
	key = append(key, owner.Bytes()...)
	return append(key, spender.Bytes()...)
}

func itemKey(contract common.Address, id uint64, holder common.Address) []byte {
	key := append(append([]byte{}, itemPrefix...), contract.Bytes()...)
	key = binary.BigEndian.AppendUint64(key, id)
	return append(key, holder.Bytes()...)
}

func (l *Ledger) loadAmount(key []byte) (*uint256.Int, error) {
	value := new(uint256.Int)
	if _, err := l.state.KVGet(key, value); err != nil {
		return nil, err
	}
	return value, nil
}

func (l *Ledger) storeAmount(key []byte, value *uint256.Int) error {
	if value == nil || value.IsZero() {
		return l.state.KVDelete(key)
	}
	return l.state.KVPut(key, value)
}

// move debits from and credits to under the supplied key builder. It reports
// false without writing anything when the source balance is too small.
func (l *Ledger) move(fromKey, toKey []byte, amount *uint256.Int) (bool, error) {
	if amount == nil || amount.IsZero() {
		return true, nil
	}
	fromBal, err := l.loadAmount(fromKey)
	if err != nil {
		return false, err
	}
	if fromBal.Lt(amount) {
		return false, nil
	}
	if err := l.storeAmount(fromKey, new(uint256.Int).Sub(fromBal, amount)); err != nil {
		return false, err
	}
	toBal, err := l.loadAmount(toKey)
	if err != nil {
		return false, err
	}
	sum, overflow := new(uint256.Int).AddOverflow(toBal, amount)
	if overflow {
		return false, coreerrors.Wrap(coreerrors.ErrInvalidParameters, "balance overflow")
	}
	return true, l.storeAmount(toKey, sum)
}

func (l *Ledger) credit(key []byte, amount *uint256.Int) error {
	current, err := l.loadAmount(key)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(current, amount)
	if overflow {
		return coreerrors.Wrap(coreerrors.ErrInvalidParameters, "balance overflow")
	}
	return l.storeAmount(key, sum)
}

// Credit mints native value to addr.
func (l *Ledger) Credit(addr common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	return l.credit(nativeKey(addr), amount)
}

// NativeBalance returns the native value held by addr.
func (l *Ledger) NativeBalance(addr common.Address) (*uint256.Int, error) {
	return l.loadAmount(nativeKey(addr))
}

// TransferNative moves native value and notifies the recipient's receiver
// hook, if any. A rejecting hook fails the transfer.
func (l *Ledger) TransferNative(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	ok, err := l.move(nativeKey(from), nativeKey(to), amount)
	if err != nil {
		return err
	}
	if !ok {
		return coreerrors.Wrap(coreerrors.ErrInsufficientBalance, "native balance of %s below %s", from.Hex(), amount.Dec())
	}
	if r := l.receiver(to); r != nil && amount != nil && !amount.IsZero() {
		err := l.state.Callback(ctx, func(ctx context.Context) error {
			return r.OnNativeReceived(ctx, from, amount)
		})
		if err != nil {
			return coreerrors.Wrap(coreerrors.ErrTransferFailed, "recipient %s rejected transfer: %v", to.Hex(), err)
		}
	}
	return nil
}

// MintToken credits fungible token balance to holder.
func (l *Ledger) MintToken(token, holder common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	return l.credit(tokenKey(token, holder), amount)
}

// TokenBalance returns holder's balance of token.
func (l *Ledger) TokenBalance(token, holder common.Address) (*uint256.Int, error) {
	return l.loadAmount(tokenKey(token, holder))
}

// Allowance returns the amount spender may pull from owner.
func (l *Ledger) Allowance(token, owner, spender common.Address) (*uint256.Int, error) {
	return l.loadAmount(allowanceKey(token, owner, spender))
}

// Approve sets the allowance spender may pull from owner.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *uint256.Int) error {
	return l.storeAmount(allowanceKey(token, owner, spender), amount)
}

// TransferToken moves token balance from holder to recipient. Like a legacy
// token contract it reports failure through the boolean rather than an error.
func (l *Ledger) TransferToken(_ context.Context, token, from, to common.Address, amount *uint256.Int) (bool, error) {
	if l.isFrozen(token) {
		return false, nil
	}
	return l.move(tokenKey(token, from), tokenKey(token, to), amount)
}

// TransferTokenFrom pulls amount from owner on behalf of spender, consuming
// allowance. It reports false when either the allowance or the balance is
// insufficient.
func (l *Ledger) TransferTokenFrom(_ context.Context, token, spender, from, to common.Address, amount *uint256.Int) (bool, error) {
	if l.isFrozen(token) {
		return false, nil
	}
	if amount == nil || amount.IsZero() {
		return true, nil
	}
	allowance, err := l.Allowance(token, from, spender)
	if err != nil {
		return false, err
	}
	if allowance.Lt(amount) {
		return false, nil
	}
	ok, err := l.move(tokenKey(token, from), tokenKey(token, to), amount)
	if err != nil || !ok {
		return false, err
	}
	return true, l.storeAmount(allowanceKey(token, from, spender), new(uint256.Int).Sub(allowance, amount))
}

// MintItem credits amount units of item id on contract to holder.
func (l *Ledger) MintItem(contract common.Address, id uint64, holder common.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	return l.credit(itemKey(contract, id, holder), uint256.NewInt(amount))
}

// ItemBalance returns how many units of item id holder owns.
func (l *Ledger) ItemBalance(contract common.Address, id uint64, holder common.Address) (uint64, error) {
	bal, err := l.loadAmount(itemKey(contract, id, holder))
	if err != nil {
		return 0, err
	}
	return bal.Uint64(), nil
}

// TransferItem moves amount units of item id between holders.
func (l *Ledger) TransferItem(_ context.Context, contract common.Address, id uint64, from, to common.Address, amount uint64) error {
	ok, err := l.move(itemKey(contract, id, from), itemKey(contract, id, to), uint256.NewInt(amount))
	if err != nil {
		return err
	}
	if !ok {
		return coreerrors.Wrap(coreerrors.ErrInsufficientBalance, "%s holds fewer than %d of item %d", from.Hex(), amount, id)
	}
	return nil
}

// Grant is the transactional form of Approve, used when an account holder
// sets an allowance directly.
func (l *Ledger) Grant(ctx context.Context, token, owner, spender common.Address, amount *uint256.Int) error {
	if token == (common.Address{}) {
		return coreerrors.Wrap(coreerrors.ErrInvalidAddress, "token required")
	}
	if spender == (common.Address{}) {
		return coreerrors.Wrap(coreerrors.ErrInvalidAddress, "spender required")
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	return l.state.Atomic(ctx, "", func(context.Context) error {
		return l.Approve(token, owner, spender, amount)
	})
}

// BalanceOf reads holder's balance of token, or of native value when token is
// the zero address.
func (l *Ledger) BalanceOf(ctx context.Context, token, holder common.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := l.state.View(ctx, func(context.Context) error {
		var err error
		if token == (common.Address{}) {
			out, err = l.NativeBalance(holder)
		} else {
			out, err = l.TokenBalance(token, holder)
		}
		return err
	})
	return out, err
}

// AllowanceOf reads the allowance owner granted spender.
func (l *Ledger) AllowanceOf(ctx context.Context, token, owner, spender common.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := l.state.View(ctx, func(context.Context) error {
		var err error
		out, err = l.Allowance(token, owner, spender)
		return err
	})
	return out, err
}
