// Package netio provides the datagram transport collaborator: a thin
// wrapper over a UDP socket, in the manner of the Python original's
// SocketWrapper, extended with the loss/corruption/delay impairment
// injection the spec's transport contract requires and a handshake-mode
// switch that suppresses loss during SYN/FIN exchanges.
package netio

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"
)

// Transport is the contract the connection layer depends on. It is
// intentionally narrow: send, receive-with-timeout, and the handshake
// suppression switch.
type Transport interface {
	Send(b []byte) error
	Recv(timeout time.Duration) ([]byte, error)
	SetHandshakeMode(enabled bool)
	Close() error
}

// Impairment bundles the loss/corruption/delay parameters a transport
// collaborator applies to outgoing datagrams.
type Impairment struct {
	LossRate       float64 // probability in [0,1] a segment is dropped
	CorruptionRate float64 // probability in [0,1] a segment gets one bit flipped
	MinDelay       time.Duration
	MaxDelay       time.Duration
}

// UDPTransport sends and receives PRTP datagrams over a bound UDP socket,
// injecting Impairment on every outgoing send unless handshake mode is on.
type UDPTransport struct {
	conn *net.UDPConn

	impair Impairment
	rng    *rand.Rand
	rngMu  sync.Mutex

	mu            sync.RWMutex
	remote        *net.UDPAddr
	learnPeer     bool
	handshakeMode bool

	wg sync.WaitGroup
}

// Dial binds a UDP socket at localAddr and targets remoteAddr for Send.
// Use this on the sender side, which knows its peer up front.
func Dial(localAddr, remoteAddr string, impair Impairment, seed int64) (*UDPTransport, error) {
	remote, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve remote addr: %w", err)
	}
	return listen(localAddr, remote, false, impair, seed)
}

// Listen binds a UDP socket at localAddr with no fixed peer: Send targets
// whichever address Recv most recently observed. Use this on the receiver
// side, which only learns its peer from the incoming SYN.
func Listen(localAddr string, impair Impairment, seed int64) (*UDPTransport, error) {
	return listen(localAddr, nil, true, impair, seed)
}

func listen(localAddr string, remote *net.UDPAddr, learnPeer bool, impair Impairment, seed int64) (*UDPTransport, error) {
	local, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve local addr: %w", err)
	}

	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}

	return &UDPTransport{
		conn:      conn,
		remote:    remote,
		learnPeer: learnPeer,
		impair:    impair,
		rng:       rand.New(rand.NewSource(seed)),
	}, nil
}

// SetHandshakeMode toggles loss suppression for the SYN/FIN exchanges.
// Corruption and delay still apply while it is on.
func (t *UDPTransport) SetHandshakeMode(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handshakeMode = enabled
}

func (t *UDPTransport) inHandshakeMode() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.handshakeMode
}

// Send transmits b to the configured remote, subject to impairment
// unless handshake mode suppresses loss. Delay is applied by scheduling
// the actual write on a timer so Send itself never blocks the caller.
func (t *UDPTransport) Send(b []byte) error {
	handshake := t.inHandshakeMode()

	if !handshake && t.roll() < t.impair.LossRate {
		return nil // silently dropped, as the contract allows
	}

	out := b
	if t.roll() < t.impair.CorruptionRate {
		out = make([]byte, len(b))
		copy(out, b)
		t.flipRandomBit(out)
	}

	t.mu.RLock()
	remote := t.remote
	t.mu.RUnlock()
	if remote == nil {
		return fmt.Errorf("netio: send with no known peer yet")
	}

	delay := t.randomDelay()
	if delay <= 0 {
		_, err := t.conn.WriteToUDP(out, remote)
		return err
	}

	t.wg.Add(1)
	time.AfterFunc(delay, func() {
		defer t.wg.Done()
		t.conn.WriteToUDP(out, remote)
	})
	return nil
}

// roll draws a uniform [0,1) sample, whether or not handshake mode
// applies corruption is decided by the caller.
func (t *UDPTransport) roll() float64 {
	t.rngMu.Lock()
	defer t.rngMu.Unlock()
	return t.rng.Float64()
}

func (t *UDPTransport) randomDelay() time.Duration {
	if t.impair.MaxDelay <= t.impair.MinDelay {
		return t.impair.MinDelay
	}
	t.rngMu.Lock()
	span := t.impair.MaxDelay - t.impair.MinDelay
	jitter := time.Duration(t.rng.Int63n(int64(span)))
	t.rngMu.Unlock()
	return t.impair.MinDelay + jitter
}

func (t *UDPTransport) flipRandomBit(b []byte) {
	if len(b) == 0 {
		return
	}
	t.rngMu.Lock()
	byteIdx := t.rng.Intn(len(b))
	bitIdx := t.rng.Intn(8)
	t.rngMu.Unlock()
	b[byteIdx] ^= 1 << bitIdx
}

// Recv blocks for at most timeout waiting for a datagram. A nil error
// with a nil byte slice signals a timeout (no datagram arrived).
func (t *UDPTransport) Recv(timeout time.Duration) ([]byte, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}

	buf := make([]byte, 2048)
	n, addr, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil
		}
		return nil, err
	}

	if t.learnPeer {
		t.mu.Lock()
		t.remote = addr
		t.mu.Unlock()
	}

	return buf[:n], nil
}

// Close releases the socket, waiting for any in-flight delayed sends to
// finish writing first.
func (t *UDPTransport) Close() error {
	t.wg.Wait()
	return t.conn.Close()
}
