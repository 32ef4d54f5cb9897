package events

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestAttrsOmitZeroAddress(t *testing.T) {
	payee := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	evt := Attrs{}.
		Address("payer", common.Address{}).
		Address("payee", payee).
		Amount("amount", uint256.NewInt(1000)).
		Amount("fee", nil).
		Uint("id", 7).
		Bool("premium", true).
		String("empty", "").
		Event("test.event")
	if _, ok := evt.Attributes["payer"]; ok {
		t.Fatalf("zero address must be omitted")
	}
	if evt.Attr("payee") != payee.Hex() {
		t.Fatalf("unexpected payee %q", evt.Attr("payee"))
	}
	if evt.Attr("amount") != "1000" || evt.Attr("fee") != "0" || evt.Attr("id") != "7" || evt.Attr("premium") != "true" {
		t.Fatalf("unexpected attributes: %v", evt.Attributes)
	}
	if _, ok := evt.Attributes["empty"]; ok {
		t.Fatalf("empty strings must be omitted")
	}
}

func TestRecorderAndMulti(t *testing.T) {
	first := &Recorder{}
	second := &Recorder{}
	fan := Multi{first, nil, second}
	fan.Emit(Attrs{}.Event("a"))
	fan.Emit(Attrs{}.Event("b"))
	fan.Emit(Attrs{}.Event("a"))
	if len(first.Events()) != 3 || len(second.Events()) != 3 {
		t.Fatalf("expected both recorders to receive all events")
	}
	if got := len(first.OfType("a")); got != 2 {
		t.Fatalf("expected 2 events of type a, got %d", got)
	}
	first.Reset()
	if len(first.Events()) != 0 {
		t.Fatalf("reset must drop events")
	}
}
