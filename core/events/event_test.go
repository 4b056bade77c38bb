package events

import (
	"testing"

	"github.com/holiman/uint256"

	"stakechain/core/types"
)

func TestSessionPayoutEvent(t *testing.T) {
	evt := SessionPayout{
		Session:         3,
		Era:             1,
		ValidatorPayout: uint256.NewInt(144),
		Remainder:       uint256.NewInt(1456),
	}.Event()
	if evt.Type != TypeSessionPayout {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attributes["validatorPayout"] != "144" || evt.Attributes["remainder"] != "1456" {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
	if evt.Attributes["session"] != "3" {
		t.Fatalf("unexpected session attr: %s", evt.Attributes["session"])
	}
}

func TestInflationDecayedEvent(t *testing.T) {
	evt := InflationDecayed{Previous: types.PerbillFromPercent(16), Current: 149_280_000, Block: 10}.Event()
	if evt.Attributes["previous"] != "16%" || evt.Attributes["current"] != "14.928%" {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
}

func TestRecorderTruncate(t *testing.T) {
	rec := &Recorder{}
	rec.Emit(StakeChilled{})
	mark := rec.Mark()
	rec.Emit(DexTokenListed{Asset: 7})
	rec.Emit(nil)
	rec.Truncate(mark)
	drained := rec.Drain()
	if len(drained) != 1 || drained[0].EventType() != TypeStakeChilled {
		t.Fatalf("unexpected drained events: %+v", drained)
	}
	if len(rec.Drain()) != 0 {
		t.Fatalf("drain should clear the buffer")
	}
}

func TestFanoutSkipsNil(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	Fanout{a, nil, b}.Emit(DexOrderCanceled{ID: 1, Reason: CancelReasonExpired})
	if a.Mark() != 1 || b.Mark() != 1 {
		t.Fatalf("fanout did not reach every emitter")
	}
}
