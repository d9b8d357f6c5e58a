package netio

import (
	"bytes"
	"testing"
	"time"
)

func TestPipeDeliversWithoutImpairment(t *testing.T) {
	a, b := Pipe(Impairment{}, 1)
	defer a.Close()
	defer b.Close()

	msg := []byte("hello")
	if err := a.Send(msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, err := b.Recv(time.Second)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("got %q, want %q", got, msg)
	}
}

func TestRecvTimesOutWithoutData(t *testing.T) {
	a, b := Pipe(Impairment{}, 1)
	defer a.Close()
	defer b.Close()

	got, err := b.Recv(20 * time.Millisecond)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got != nil {
		t.Fatalf("expected timeout (nil), got %q", got)
	}
}

func TestFullLossDropsEverySegment(t *testing.T) {
	a, b := Pipe(Impairment{LossRate: 1.0}, 1)
	defer a.Close()
	defer b.Close()

	a.Send([]byte("dropped"))

	got, err := b.Recv(50 * time.Millisecond)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got != nil {
		t.Fatalf("expected the segment to be dropped, got %q", got)
	}
}

func TestHandshakeModeSuppressesLoss(t *testing.T) {
	a, b := Pipe(Impairment{LossRate: 1.0}, 1)
	defer a.Close()
	defer b.Close()

	a.SetHandshakeMode(true)
	a.Send([]byte("syn"))

	got, err := b.Recv(time.Second)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got == nil {
		t.Fatal("expected handshake mode to suppress loss")
	}
}

func TestDelayDefersDelivery(t *testing.T) {
	a, b := Pipe(Impairment{MinDelay: 40 * time.Millisecond, MaxDelay: 40 * time.Millisecond}, 1)
	defer a.Close()
	defer b.Close()

	a.Send([]byte("late"))

	if got, _ := b.Recv(10 * time.Millisecond); got != nil {
		t.Fatal("expected no delivery before the delay elapses")
	}

	got, err := b.Recv(200 * time.Millisecond)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(got) != "late" {
		t.Fatalf("got %q, want %q", got, "late")
	}
}
