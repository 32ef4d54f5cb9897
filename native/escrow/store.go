package escrow

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	coreerrors "github.com/nickbax/ump-auction-test/core/errors"
)

var (
	sequenceKey  = []byte("escrow/sequence")
	recordPrefix = []byte("escrow/record/")
)

func recordKey(addr common.Address) []byte {
	return append(append([]byte{}, recordPrefix...), addr.Bytes()...)
}

// DeriveAddress returns the custody address of the id-th escrow deployed by
// factory.
func DeriveAddress(factory common.Address, id uint64) common.Address {
	return ethcrypto.CreateAddress(factory, id)
}

func (e *Engine) load(addr common.Address) (*Escrow, error) {
	var esc Escrow
	ok, err := e.state.KVGet(recordKey(addr), &esc)
	if err != nil {
		return nil, fmt.Errorf("escrow: load %s: %w", addr.Hex(), err)
	}
	if !ok {
		return nil, coreerrors.Wrap(coreerrors.ErrEscrowNotFound, "%s", addr.Hex())
	}
	return &esc, nil
}

func (e *Engine) store(esc *Escrow) error {
	if err := e.state.KVPut(recordKey(esc.Address), esc); err != nil {
		return fmt.Errorf("escrow: store %s: %w", esc.Address.Hex(), err)
	}
	return nil
}
