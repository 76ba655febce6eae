package events

import (
	"testing"

	"voucherchain/core/types"
)

type testEvent struct{ typ string }

func (e testEvent) EventType() string { return e.typ }

func (e testEvent) Event() *types.Event { return &types.Event{Type: e.typ} }

func TestBufferDrainPreservesOrder(t *testing.T) {
	var buf Buffer
	buf.Emit(testEvent{"a"})
	buf.Emit(testEvent{"b"})
	buf.Emit(nil)
	drained := buf.Drain()
	if len(drained) != 2 {
		t.Fatalf("expected 2 events, got %d", len(drained))
	}
	if drained[0].EventType() != "a" || drained[1].EventType() != "b" {
		t.Fatalf("unexpected order: %s, %s", drained[0].EventType(), drained[1].EventType())
	}
	if len(buf.Drain()) != 0 {
		t.Fatalf("expected buffer to be empty after drain")
	}
}

func TestBufferReset(t *testing.T) {
	var buf Buffer
	buf.Emit(testEvent{"a"})
	buf.Reset()
	if got := buf.Drain(); len(got) != 0 {
		t.Fatalf("expected reset to discard events, got %d", len(got))
	}
}

func TestFanoutForwardsToEveryEmitter(t *testing.T) {
	var first, second Buffer
	fan := Fanout{&first, nil, &second}
	fan.Emit(testEvent{"x"})
	if len(first.Drain()) != 1 || len(second.Drain()) != 1 {
		t.Fatalf("expected both emitters to receive the event")
	}
}
