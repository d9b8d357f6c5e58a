// Package connection implements the three-way open / four-way close state
// machine that drives a single PRTP endpoint, wiring together segment,
// reliability, congestion, and delivery the way the teacher's ARQConn
// wires its own send/recv buffers and congestion adapter behind one
// connection object, context-cancelled and resource-scoped.
package connection

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/mrcgq/prtp/internal/congestion"
	"github.com/mrcgq/prtp/internal/delivery"
	"github.com/mrcgq/prtp/internal/netio"
	"github.com/mrcgq/prtp/internal/reliability"
	"github.com/mrcgq/prtp/internal/segment"
)

// State is one of the nine connection states of the open/close machine.
type State int

const (
	Closed State = iota
	SynSent
	SynRcvd
	Established
	FinSent
	FinRcvd
	Closing
	CloseWait
	Done
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case SynSent:
		return "SYN_SENT"
	case SynRcvd:
		return "SYN_RCVD"
	case Established:
		return "ESTABLISHED"
	case FinSent:
		return "FIN_SENT"
	case FinRcvd:
		return "FIN_RCVD"
	case Closing:
		return "CLOSING"
	case CloseWait:
		return "CLOSE_WAIT"
	case Done:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Sentinel errors the connection layer may surface, per the error
// taxonomy: only open failure, retransmit-ceiling exhaustion, and local
// I/O failures are ever reported to the caller.
var (
	ErrOpenFailed        = fmt.Errorf("connection: open failed")
	ErrRetransmitCeiling = fmt.Errorf("connection: retransmit ceiling exceeded")
	ErrLocalIO           = fmt.Errorf("connection: local i/o failure")
)

// Config bundles every design constant an endpoint needs.
type Config struct {
	Timeout            time.Duration
	SynTimeout         time.Duration
	SynRetries         int
	DupAckThreshold    int
	MaxPayload         int
	AdvertisedWindow   int
	SendBufferSegments int // circular send buffer's architectural ceiling, decoupled from AdvertisedWindow
	RetransmitCeiling  int
	InitialCwnd        float64
	InitialSsthresh    float64
	PollInterval       time.Duration // bound on each Recv call, so Tick runs regularly
}

// DefaultConfig returns the design constants fixed by the spec.
func DefaultConfig() Config {
	return Config{
		Timeout:            time.Second,
		SynTimeout:         time.Second,
		SynRetries:         5,
		DupAckThreshold:    3,
		MaxPayload:         1024,
		AdvertisedWindow:   8192,
		SendBufferSegments: 256,
		RetransmitCeiling:  10,
		InitialCwnd:        1.0,
		InitialSsthresh:    64.0,
		PollInterval:       100 * time.Millisecond,
	}
}

// Stats surfaces the counters an operator or test would want to observe.
type Stats struct {
	SegmentsSent       uint64
	SegmentsReceived   uint64
	BytesSent          uint64
	BytesReceived      uint64
	RetransmitsTimeout uint64
	RetransmitsFast    uint64
	DuplicateAcks      uint64
	SegmentsRejected   uint64
}

// Sender drives a file transfer from the sending side: the three-way open,
// Go-Back-N data transmission governed by the Reno controller, and the
// four-way close.
type Sender struct {
	transport netio.Transport
	cfg       Config
	cc        *congestion.Controller
	window    *reliability.Window

	state int32 // State, accessed atomically: the engine loop writes it, CLI progress/health goroutines read it
	stats Stats // every field mutated via atomic.AddUint64, read via atomic.LoadUint64
}

// NewSender constructs a Sender bound to transport. Nothing is sent until
// Open is called.
func NewSender(transport netio.Transport, cfg Config) *Sender {
	s := &Sender{transport: transport, cfg: cfg}
	s.setState(Closed)
	s.cc = congestion.New(congestion.Config{InitialCwnd: cfg.InitialCwnd, InitialSsthresh: cfg.InitialSsthresh})
	return s
}

// State returns the sender's current connection state.
func (s *Sender) State() State { return State(atomic.LoadInt32(&s.state)) }

func (s *Sender) setState(st State) { atomic.StoreInt32(&s.state, int32(st)) }

// Stats returns a snapshot of the sender's counters, safe to call from a
// goroutine other than the one driving Open/Transfer.
func (s *Sender) Stats() Stats {
	return Stats{
		SegmentsSent:       atomic.LoadUint64(&s.stats.SegmentsSent),
		SegmentsReceived:   atomic.LoadUint64(&s.stats.SegmentsReceived),
		BytesSent:          atomic.LoadUint64(&s.stats.BytesSent),
		BytesReceived:      atomic.LoadUint64(&s.stats.BytesReceived),
		RetransmitsTimeout: atomic.LoadUint64(&s.stats.RetransmitsTimeout),
		RetransmitsFast:    atomic.LoadUint64(&s.stats.RetransmitsFast),
		DuplicateAcks:      atomic.LoadUint64(&s.stats.DuplicateAcks),
		SegmentsRejected:   atomic.LoadUint64(&s.stats.SegmentsRejected),
	}
}

// CongestionSnapshot reports the controller's current cwnd, ssthresh, and
// state, for metrics/logs. cc is already mutex-guarded, so this is safe
// to call from a goroutine other than the one driving Open/Transfer.
func (s *Sender) CongestionSnapshot() (cwnd, ssthresh float64, state congestion.State) {
	return s.cc.Snapshot()
}

// Open performs the three-way open: SYN, wait for SYN|ACK, send ACK. It
// retries the SYN up to cfg.SynRetries times before returning
// ErrOpenFailed.
func (s *Sender) Open() error {
	s.transport.SetHandshakeMode(true)
	defer s.transport.SetHandshakeMode(false)

	s.setState(SynSent)
	syn := segment.New(0, 0, segment.FlagSYN, uint16(s.cfg.AdvertisedWindow), nil)

	for attempt := 0; attempt < s.cfg.SynRetries; attempt++ {
		if err := s.transport.Send(syn.Encode()); err != nil {
			return fmt.Errorf("%w: send syn: %v", ErrOpenFailed, err)
		}

		deadline := time.Now().Add(s.cfg.SynTimeout)
		for time.Now().Before(deadline) {
			raw, err := s.transport.Recv(s.cfg.PollInterval)
			if err != nil {
				return fmt.Errorf("%w: recv: %v", ErrOpenFailed, err)
			}
			if raw == nil {
				continue
			}
			reply, err := segment.Decode(raw)
			if err != nil {
				continue // malformed or corrupted, silently ignored
			}
			if reply.Has(segment.FlagSYN) && reply.Has(segment.FlagACK) {
				s.setState(Established)

				ack := segment.New(1, 1, segment.FlagACK, uint16(s.cfg.AdvertisedWindow), nil)
				if err := s.transport.Send(ack.Encode()); err != nil {
					return fmt.Errorf("%w: send ack: %v", ErrOpenFailed, err)
				}

				s.window = reliability.New(1, reliability.Config{
					Capacity:          s.cfg.SendBufferSegments,
					SegmentSize:       s.cfg.MaxPayload,
					DupAckThreshold:   s.cfg.DupAckThreshold,
					Timeout:           s.cfg.Timeout,
					RetransmitCeiling: s.cfg.RetransmitCeiling,
					Send:              s.sendData,
					Event:             s.onEvent,
				})
				return nil
			}
		}
	}

	s.setState(Closed)
	return fmt.Errorf("%w: exhausted %d syn retries", ErrOpenFailed, s.cfg.SynRetries)
}

func (s *Sender) sendData(seq uint32, payload []byte) {
	seg := segment.New(seq, 0, 0, uint16(s.cfg.AdvertisedWindow), payload)
	if s.transport.Send(seg.Encode()) == nil {
		atomic.AddUint64(&s.stats.SegmentsSent, 1)
		atomic.AddUint64(&s.stats.BytesSent, uint64(len(payload)))
	}
}

func (s *Sender) onEvent(e reliability.Event) {
	switch e {
	case reliability.EventNewAck:
		s.cc.OnNewAck()
	case reliability.EventTripleDup:
		s.cc.OnTripleDup()
		atomic.AddUint64(&s.stats.RetransmitsFast, 1)
	case reliability.EventDupInRecovery:
		s.cc.OnDupInRecovery()
		atomic.AddUint64(&s.stats.DuplicateAcks, 1)
	case reliability.EventTimeout:
		s.cc.OnTimeout()
		atomic.AddUint64(&s.stats.RetransmitsTimeout, 1)
	}
}

// Transfer runs the single-threaded cooperative engine loop of §5: bounded
// receive, tick, feed new sends while the window allows. It reads from r
// until EOF, then drives the four-way close.
func (s *Sender) Transfer(r io.Reader) error {
	if s.State() != Established {
		return fmt.Errorf("%w: transfer called outside ESTABLISHED", ErrLocalIO)
	}

	eof := false
	buf := make([]byte, s.cfg.MaxPayload)
	var pending []byte // a chunk already read from r but not yet accepted by the window

	for {
		raw, err := s.transport.Recv(s.cfg.PollInterval)
		if err != nil {
			return fmt.Errorf("%w: recv: %v", ErrLocalIO, err)
		}
		if raw != nil {
			if seg, err := segment.Decode(raw); err == nil && seg.Has(segment.FlagACK) {
				atomic.AddUint64(&s.stats.SegmentsReceived, 1)
				s.window.OnAck(seg.Ack, int(seg.Window))
			} else if err != nil {
				atomic.AddUint64(&s.stats.SegmentsRejected, 1)
			}
		}

		s.window.Tick(time.Now())
		if s.window.RetransmitCeilingHit() {
			return fmt.Errorf("%w: last send_base=%d", ErrRetransmitCeiling, s.window.SendBase())
		}

		for {
			if len(pending) == 0 && !eof {
				n, rerr := r.Read(buf)
				if n > 0 {
					pending = make([]byte, n)
					copy(pending, buf[:n])
				}
				if rerr == io.EOF {
					eof = true
				} else if rerr != nil {
					return fmt.Errorf("%w: read input: %v", ErrLocalIO, rerr)
				}
			}
			if len(pending) == 0 {
				break
			}
			// Only read the next chunk once this one is actually
			// accepted — a refused send must not drop pending bytes.
			if !s.window.CanSend(s.cc.EffectiveWindow()) {
				break
			}
			if _, ok := s.window.SendNew(pending, s.cc.EffectiveWindow()); !ok {
				break
			}
			pending = nil
		}

		if eof && len(pending) == 0 && s.window.Idle() {
			break
		}
	}

	return s.close()
}

// close performs the four-way close from the sender's side.
func (s *Sender) close() error {
	s.transport.SetHandshakeMode(true)
	defer s.transport.SetHandshakeMode(false)

	s.setState(FinSent)
	fin := segment.New(s.window.NextSeqNum(), 0, segment.FlagFIN, 0, nil)
	if err := s.transport.Send(fin.Encode()); err != nil {
		return fmt.Errorf("%w: send fin: %v", ErrLocalIO, err)
	}

	gotAck, gotFin := false, false
	deadline := time.Now().Add(s.cfg.SynTimeout * time.Duration(s.cfg.SynRetries))
	for time.Now().Before(deadline) && !(gotAck && gotFin) {
		raw, err := s.transport.Recv(s.cfg.PollInterval)
		if err != nil || raw == nil {
			continue
		}
		seg, err := segment.Decode(raw)
		if err != nil {
			continue
		}
		if seg.Has(segment.FlagACK) {
			gotAck = true
		}
		if seg.Has(segment.FlagFIN) {
			gotFin = true
			ack := segment.New(0, seg.Seq+1, segment.FlagACK, 0, nil)
			s.transport.Send(ack.Encode())
		}
	}

	s.setState(Done)
	if !gotFin {
		return fmt.Errorf("%w: peer fin not observed before close deadline", ErrRetransmitCeiling)
	}
	return nil
}

// Receiver drives a file transfer from the receiving side.
type Receiver struct {
	transport netio.Transport
	cfg       Config
	state     int32 // State, accessed atomically: see Sender.state
	delivery  *delivery.State
	stats     Stats // every field mutated via atomic.AddUint64, read via atomic.LoadUint64
}

// NewReceiver constructs a Receiver bound to transport, writing accepted
// payloads to sink.
func NewReceiver(transport netio.Transport, cfg Config, sink io.Writer) *Receiver {
	r := &Receiver{
		transport: transport,
		cfg:       cfg,
		delivery:  delivery.New(1, sink),
	}
	r.setState(Closed)
	return r
}

// State returns the receiver's current connection state.
func (r *Receiver) State() State { return State(atomic.LoadInt32(&r.state)) }

func (r *Receiver) setState(st State) { atomic.StoreInt32(&r.state, int32(st)) }

// Stats returns a snapshot of the receiver's counters, safe to call from a
// goroutine other than the one driving Accept.
func (r *Receiver) Stats() Stats {
	return Stats{
		SegmentsSent:       atomic.LoadUint64(&r.stats.SegmentsSent),
		SegmentsReceived:   atomic.LoadUint64(&r.stats.SegmentsReceived),
		BytesSent:          atomic.LoadUint64(&r.stats.BytesSent),
		BytesReceived:      atomic.LoadUint64(&r.stats.BytesReceived),
		RetransmitsTimeout: atomic.LoadUint64(&r.stats.RetransmitsTimeout),
		RetransmitsFast:    atomic.LoadUint64(&r.stats.RetransmitsFast),
		DuplicateAcks:      atomic.LoadUint64(&r.stats.DuplicateAcks),
		SegmentsRejected:   atomic.LoadUint64(&r.stats.SegmentsRejected),
	}
}

// Accept waits for a SYN, completes the three-way open, and then drains
// data segments until a FIN arrives, writing accepted payloads in order.
func (r *Receiver) Accept() error {
	r.transport.SetHandshakeMode(true)

	r.setState(Closed)
	for r.State() != Established {
		raw, err := r.transport.Recv(r.cfg.PollInterval)
		if err != nil {
			return fmt.Errorf("%w: recv: %v", ErrOpenFailed, err)
		}
		if raw == nil {
			continue
		}
		seg, err := segment.Decode(raw)
		if err != nil {
			continue
		}

		switch {
		case seg.Has(segment.FlagSYN) && !seg.Has(segment.FlagACK):
			r.setState(SynRcvd)
			reply := segment.New(0, 1, segment.FlagSYN|segment.FlagACK, uint16(r.cfg.AdvertisedWindow), nil)
			if err := r.transport.Send(reply.Encode()); err != nil {
				return fmt.Errorf("%w: send syn-ack: %v", ErrOpenFailed, err)
			}

		case seg.Has(segment.FlagACK) && r.State() == SynRcvd:
			r.setState(Established)
		}
	}

	r.transport.SetHandshakeMode(false)
	return r.drain()
}

// drain consumes data segments until a FIN closes the transfer, then runs
// the receiver's half of the four-way close.
func (r *Receiver) drain() error {
	for {
		raw, err := r.transport.Recv(r.cfg.PollInterval)
		if err != nil {
			return fmt.Errorf("%w: recv: %v", ErrLocalIO, err)
		}
		if raw == nil {
			continue
		}
		seg, err := segment.Decode(raw)
		if err != nil {
			atomic.AddUint64(&r.stats.SegmentsRejected, 1)
			continue // silent drop, sender will time out and retransmit
		}
		atomic.AddUint64(&r.stats.SegmentsReceived, 1)

		if seg.Has(segment.FlagFIN) {
			return r.close(seg)
		}

		ackNum, outcome, derr := r.delivery.Accept(seg.Seq, seg.Payload)
		if derr != nil {
			return fmt.Errorf("%w: write output: %v", ErrLocalIO, derr)
		}
		if outcome == delivery.Delivered {
			atomic.AddUint64(&r.stats.BytesReceived, uint64(len(seg.Payload)))
		}

		ack := segment.New(0, ackNum, segment.FlagACK, uint16(r.cfg.AdvertisedWindow), nil)
		r.transport.Send(ack.Encode())
	}
}

// close performs the receiver's half of the four-way close: ACK the FIN,
// then send its own FIN and wait for the final ACK.
func (r *Receiver) close(fin *segment.Segment) error {
	r.transport.SetHandshakeMode(true)
	defer r.transport.SetHandshakeMode(false)

	r.setState(CloseWait)
	ack := segment.New(0, fin.Seq+1, segment.FlagACK, 0, nil)
	r.transport.Send(ack.Encode())

	r.setState(Closing)
	myFin := segment.New(0, fin.Seq+1, segment.FlagFIN, 0, nil)
	if err := r.transport.Send(myFin.Encode()); err != nil {
		return fmt.Errorf("%w: send fin: %v", ErrLocalIO, err)
	}

	deadline := time.Now().Add(r.cfg.SynTimeout * time.Duration(r.cfg.SynRetries))
	for time.Now().Before(deadline) {
		raw, err := r.transport.Recv(r.cfg.PollInterval)
		if err != nil || raw == nil {
			continue
		}
		seg, err := segment.Decode(raw)
		if err != nil {
			continue
		}
		if seg.Has(segment.FlagACK) {
			r.setState(Done)
			return nil
		}
	}

	// The peer's final ACK may itself be lost; the transfer already
	// completed successfully from the receiver's point of view.
	r.setState(Done)
	return nil
}
