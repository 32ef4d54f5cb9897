package storefront

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	coreerrors "github.com/nickbax/ump-auction-test/core/errors"
)

const affiliateWordSize = 32

var messageArguments abi.Arguments

func init() {
	messageType, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "encryptedData", Type: "bytes"},
		{Name: "ephemeralPublicKey", Type: "bytes"},
		{Name: "iv", Type: "bytes"},
		{Name: "verificationHash", Type: "bytes"},
	})
	if err != nil {
		panic(err)
	}
	messageArguments = abi.Arguments{{Type: messageType}}
}

// messageWire matches the Go struct the ABI decoder derives for the message
// tuple.
type messageWire struct {
	EncryptedData      []byte
	EphemeralPublicKey []byte
	Iv                 []byte
	VerificationHash   []byte
}

// DecodeContext parses a context blob laid out as a 32-byte affiliate word
// followed by the ABI encoded message tuple. An empty blob decodes to an
// empty context.
func DecodeContext(data []byte) (*OrderContext, error) {
	out := &OrderContext{}
	if len(data) == 0 {
		return out, nil
	}
	if len(data) < affiliateWordSize {
		return nil, coreerrors.Wrap(coreerrors.ErrInvalidParameters, "context blob of %d bytes is shorter than the affiliate word", len(data))
	}
	out.Affiliate = common.BytesToAddress(data[:affiliateWordSize])
	rest := data[affiliateWordSize:]
	if len(rest) == 0 {
		return out, nil
	}
	values, err := messageArguments.Unpack(rest)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.ErrInvalidParameters, "decode message: %v", err)
	}
	if len(values) != 1 {
		return nil, coreerrors.Wrap(coreerrors.ErrInvalidParameters, "decode message: unexpected arity %d", len(values))
	}
	wire, ok := abi.ConvertType(values[0], new(messageWire)).(*messageWire)
	if !ok {
		return nil, coreerrors.Wrap(coreerrors.ErrInvalidParameters, "decode message: unexpected layout")
	}
	out.Message = EncryptedMessage{
		EncryptedData:      wire.EncryptedData,
		EphemeralPublicKey: wire.EphemeralPublicKey,
		IV:                 wire.Iv,
		VerificationHash:   wire.VerificationHash,
	}
	return out, nil
}

// EncodeContext is the inverse of DecodeContext. A context without affiliate
// or message encodes to an empty blob.
func EncodeContext(c *OrderContext) ([]byte, error) {
	if c == nil || (c.Affiliate == (common.Address{}) && c.Message.Empty()) {
		return nil, nil
	}
	packed, err := messageArguments.Pack(messageWire{
		EncryptedData:      nonNil(c.Message.EncryptedData),
		EphemeralPublicKey: nonNil(c.Message.EphemeralPublicKey),
		Iv:                 nonNil(c.Message.IV),
		VerificationHash:   nonNil(c.Message.VerificationHash),
	})
	if err != nil {
		return nil, err
	}
	return append(common.LeftPadBytes(c.Affiliate.Bytes(), affiliateWordSize), packed...), nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
