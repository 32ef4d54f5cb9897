package storefront

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "github.com/nickbax/ump-auction-test/core/errors"
)

func TestContextRoundTrip(t *testing.T) {
	in := &OrderContext{
		Affiliate: common.HexToAddress("0x00000000000000000000000000000000000000af"),
		Message: EncryptedMessage{
			EncryptedData:      []byte("ciphertext"),
			EphemeralPublicKey: bytes.Repeat([]byte{0x04}, 65),
			IV:                 []byte{1, 2, 3},
			VerificationHash:   bytes.Repeat([]byte{0xee}, 32),
		},
	}
	blob, err := EncodeContext(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeContext(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Affiliate != in.Affiliate {
		t.Fatalf("affiliate mismatch: %s", out.Affiliate.Hex())
	}
	if !bytes.Equal(out.Message.EncryptedData, in.Message.EncryptedData) ||
		!bytes.Equal(out.Message.EphemeralPublicKey, in.Message.EphemeralPublicKey) ||
		!bytes.Equal(out.Message.IV, in.Message.IV) ||
		!bytes.Equal(out.Message.VerificationHash, in.Message.VerificationHash) {
		t.Fatalf("message mismatch: %+v", out.Message)
	}
}

func TestDecodeContextEdgeCases(t *testing.T) {
	empty, err := DecodeContext(nil)
	if err != nil || empty.Affiliate != (common.Address{}) || !empty.Message.Empty() {
		t.Fatalf("empty blob should decode to empty context, got %+v err=%v", empty, err)
	}
	if _, err := DecodeContext(make([]byte, 31)); !errors.Is(err, coreerrors.ErrInvalidParameters) {
		t.Fatalf("expected ErrInvalidParameters for short blob, got %v", err)
	}
	word := common.LeftPadBytes([]byte{0xaf}, 32)
	onlyAffiliate, err := DecodeContext(word)
	if err != nil {
		t.Fatalf("decode affiliate word: %v", err)
	}
	if onlyAffiliate.Affiliate != common.BytesToAddress([]byte{0xaf}) || !onlyAffiliate.Message.Empty() {
		t.Fatalf("unexpected decode %+v", onlyAffiliate)
	}
	if _, err := DecodeContext(append(word, 0x01, 0x02)); !errors.Is(err, coreerrors.ErrInvalidParameters) {
		t.Fatalf("expected ErrInvalidParameters for malformed tuple, got %v", err)
	}
}

func TestEffectiveShare(t *testing.T) {
	cases := []struct {
		fee, multiplier, want uint64
	}{
		{2_000, 10_000, 2_000},
		{2_000, 5_000, 1_000},
		{333, 3_333, 110},
		{10_000, 0, 0},
	}
	for _, tc := range cases {
		if got := EffectiveShare(tc.fee, tc.multiplier); got != tc.want {
			t.Fatalf("EffectiveShare(%d, %d) = %d, want %d", tc.fee, tc.multiplier, got, tc.want)
		}
	}
}
