package reliability

import (
	"testing"
	"time"
)

func newTestWindow(t *testing.T, capacity int) (*Window, *[]uint32, *[]Event) {
	t.Helper()
	var sent []uint32
	var events []Event
	w := New(0, Config{
		Capacity:          capacity,
		SegmentSize:       1024,
		DupAckThreshold:   3,
		Timeout:           50 * time.Millisecond,
		RetransmitCeiling: 10,
		Send:              func(seq uint32, _ []byte) { sent = append(sent, seq) },
		Event:             func(e Event) { events = append(events, e) },
	})
	return w, &sent, &events
}

func TestSendNewAssignsSequentialSeqNumbers(t *testing.T) {
	w, sent, _ := newTestWindow(t, 8)

	for i := 0; i < 4; i++ {
		seq, ok := w.SendNew([]byte("x"), 8)
		if !ok {
			t.Fatalf("SendNew(%d) unexpectedly blocked", i)
		}
		if seq != uint32(i) {
			t.Fatalf("seq = %d, want %d", seq, i)
		}
	}
	if len(*sent) != 4 {
		t.Fatalf("sent %d segments, want 4", len(*sent))
	}
}

func TestCanSendRespectsEffectiveWindow(t *testing.T) {
	w, _, _ := newTestWindow(t, 8)

	for i := 0; i < 2; i++ {
		if _, ok := w.SendNew([]byte("x"), 2); !ok {
			t.Fatalf("SendNew(%d) should have room", i)
		}
	}
	if _, ok := w.SendNew([]byte("x"), 2); ok {
		t.Fatal("SendNew should be blocked once effective window is full")
	}
}

func TestOnAckAdvancesSendBase(t *testing.T) {
	w, _, events := newTestWindow(t, 8)
	for i := 0; i < 4; i++ {
		w.SendNew([]byte("x"), 8)
	}

	advanced := w.OnAck(2, 8192)
	if !advanced {
		t.Fatal("OnAck(2) should advance send_base")
	}
	if got := w.SendBase(); got != 2 {
		t.Fatalf("SendBase = %d, want 2", got)
	}
	if len(*events) != 2 || (*events)[0] != EventNewAck || (*events)[1] != EventNewAck {
		t.Fatalf("events = %v, want two EventNewAck (one per newly acked segment)", *events)
	}
}

func TestOnAckIgnoresStaleOrDuplicateBelowBase(t *testing.T) {
	w, _, _ := newTestWindow(t, 8)
	for i := 0; i < 4; i++ {
		w.SendNew([]byte("x"), 8)
	}
	w.OnAck(2, 8192)

	if w.OnAck(1, 8192) {
		t.Fatal("OnAck with a stale ack should not advance send_base")
	}
	if got := w.SendBase(); got != 2 {
		t.Fatalf("SendBase = %d, want 2 (unchanged)", got)
	}
}

func TestTripleDuplicateAckTriggersFastRetransmit(t *testing.T) {
	w, sent, events := newTestWindow(t, 8)
	for i := 0; i < 4; i++ {
		w.SendNew([]byte("x"), 8)
	}
	*sent = nil // ignore the four original sends

	w.OnAck(0, 8192)
	w.OnAck(0, 8192)
	w.OnAck(0, 8192)

	foundTripleDup := false
	for _, e := range *events {
		if e == EventTripleDup {
			foundTripleDup = true
		}
	}
	if !foundTripleDup {
		t.Fatalf("events = %v, want EventTripleDup present", *events)
	}
	if len(*sent) != 1 || (*sent)[0] != 0 {
		t.Fatalf("fast retransmit sent %v, want [0]", *sent)
	}
}

func TestTickRetransmitsWholeWindowAfterTimeout(t *testing.T) {
	w, sent, events := newTestWindow(t, 8)
	for i := 0; i < 3; i++ {
		w.SendNew([]byte("x"), 8)
	}
	*sent = nil

	w.Tick(time.Now().Add(time.Hour)) // force past the deadline

	if len(*sent) != 3 {
		t.Fatalf("retransmitted %v, want 3 segments resent in order", *sent)
	}
	for i, seq := range *sent {
		if seq != uint32(i) {
			t.Fatalf("retransmit order = %v, want [0 1 2]", *sent)
		}
	}
	if len(*events) != 1 || (*events)[0] != EventTimeout {
		t.Fatalf("events = %v, want [EventTimeout]", *events)
	}
	if got := w.ConsecutiveTimeouts(); got != 1 {
		t.Fatalf("ConsecutiveTimeouts = %d, want 1", got)
	}
}

func TestTickNoOpBeforeDeadline(t *testing.T) {
	w, sent, events := newTestWindow(t, 8)
	w.SendNew([]byte("x"), 8)
	*sent = nil

	w.Tick(time.Now())

	if len(*sent) != 0 || len(*events) != 0 {
		t.Fatalf("Tick before deadline should be a no-op, got sent=%v events=%v", *sent, *events)
	}
}

func TestRetransmitCeilingHit(t *testing.T) {
	w, _, _ := newTestWindow(t, 8)
	w.SendNew([]byte("x"), 8)

	future := time.Now().Add(time.Hour)
	for i := 0; i < 10; i++ {
		w.Tick(future)
		future = future.Add(time.Hour)
	}

	if !w.RetransmitCeilingHit() {
		t.Fatal("expected retransmit ceiling to be hit after 10 consecutive timeouts")
	}
}

func TestIdleAfterFullAck(t *testing.T) {
	w, _, _ := newTestWindow(t, 8)
	for i := 0; i < 3; i++ {
		w.SendNew([]byte("x"), 8)
	}
	if w.Idle() {
		t.Fatal("window should not be idle with unacked segments")
	}
	w.OnAck(3, 8192)
	if !w.Idle() {
		t.Fatal("window should be idle once everything is acknowledged")
	}
}
