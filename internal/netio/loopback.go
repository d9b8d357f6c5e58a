package netio

import (
	"math/rand"
	"sync"
	"time"
)

// LoopbackTransport is an in-memory Transport backed by a channel, used to
// drive deterministic connection-layer tests without a real socket. Two
// LoopbackTransports are wired together with Pipe.
type LoopbackTransport struct {
	inbox  chan []byte
	peer   *LoopbackTransport
	impair Impairment
	rng    *rand.Rand

	mu            sync.Mutex
	handshakeMode bool
	closed        bool
	lastDelivery  chan struct{} // closed once the most recently sent datagram is delivered or dropped
}

// Pipe creates two LoopbackTransports, each other's peer.
func Pipe(impair Impairment, seed int64) (a, b *LoopbackTransport) {
	a = &LoopbackTransport{inbox: make(chan []byte, 256), rng: rand.New(rand.NewSource(seed))}
	b = &LoopbackTransport{inbox: make(chan []byte, 256), rng: rand.New(rand.NewSource(seed + 1))}
	a.peer, b.peer = b, a
	a.impair, b.impair = impair, impair
	return a, b
}

func (l *LoopbackTransport) SetHandshakeMode(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handshakeMode = enabled
}

func (l *LoopbackTransport) inHandshakeMode() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handshakeMode
}

// Send delivers b to the peer's inbox, subject to the same impairment
// model as UDPTransport.
func (l *LoopbackTransport) Send(b []byte) error {
	handshake := l.inHandshakeMode()

	if !handshake && l.rng.Float64() < l.impair.LossRate {
		return nil
	}

	out := b
	if l.rng.Float64() < l.impair.CorruptionRate {
		out = make([]byte, len(b))
		copy(out, b)
		byteIdx := l.rng.Intn(len(out))
		bitIdx := l.rng.Intn(8)
		out[byteIdx] ^= 1 << bitIdx
	}

	// Chain each delivery behind the previous one so that delayed
	// datagrams reach the peer in the order they were sent.
	l.mu.Lock()
	prev, done := l.lastDelivery, make(chan struct{})
	l.lastDelivery = done
	l.mu.Unlock()

	deliver := func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return
		}
		select {
		case l.peer.inbox <- out:
		default:
		}
	}

	delay := l.randomDelay()
	if delay <= 0 {
		deliver()
		return nil
	}
	time.AfterFunc(delay, deliver)
	return nil
}

func (l *LoopbackTransport) randomDelay() time.Duration {
	if l.impair.MaxDelay <= l.impair.MinDelay {
		return l.impair.MinDelay
	}
	span := l.impair.MaxDelay - l.impair.MinDelay
	return l.impair.MinDelay + time.Duration(l.rng.Int63n(int64(span)))
}

// Recv blocks for at most timeout waiting for an inbound datagram.
func (l *LoopbackTransport) Recv(timeout time.Duration) ([]byte, error) {
	select {
	case b := <-l.inbox:
		return b, nil
	case <-time.After(timeout):
		return nil, nil
	}
}

func (l *LoopbackTransport) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}
