// Package reliability implements the sender-side Go-Back-N sliding window:
// a circular send buffer indexed by seq modulo its capacity, a single
// window-wide retransmit timer, and duplicate-ACK bookkeeping for fast
// retransmit. It mirrors the teacher's ARQSendBuffer layout, but trades its
// per-segment SACK/retransmit-timer model for the spec's simpler Go-Back-N
// contract: one timer for the whole outstanding window, and a full
// window replay on expiry.
package reliability

import (
	"sync"
	"time"
)

// Event identifies why the controller should be notified.
type Event int

const (
	EventNewAck Event = iota
	EventTripleDup
	EventDupInRecovery
	EventTimeout
)

// entry is one buffered, possibly-unacknowledged outbound segment.
type entry struct {
	seq     uint32
	payload []byte
	sentAt  time.Time
}

// SendFunc transmits seq with the given payload. The window calls it both
// for first sends and for retransmits.
type SendFunc func(seq uint32, payload []byte)

// EventFunc is notified whenever the congestion controller needs to react.
type EventFunc func(Event)

// Window is the sender-side Go-Back-N buffer.
type Window struct {
	mu sync.Mutex

	capacity int // circular buffer's architectural ceiling, in segments (not the congestion cap)
	entries  []*entry

	sendBase    uint32 // oldest unacknowledged seq
	nextSeqNum  uint32 // next seq to be assigned
	peerWindow  int    // last advertised receiver window, in bytes; tracked but never binds send_new
	segmentSize int    // bytes per segment, kept alongside peerWindow for that same bookkeeping

	dupAckSeq   uint32 // ack value the duplicate run is tracking
	dupAckCount int
	dupThresh   int

	timeout       time.Duration
	timerDeadline time.Time
	timerArmed    bool

	consecutiveTimeouts int
	retransmitCeiling   int

	send  SendFunc
	event EventFunc
}

// Config bundles the construction-time parameters.
type Config struct {
	Capacity          int
	SegmentSize       int
	DupAckThreshold   int
	Timeout           time.Duration
	RetransmitCeiling int
	Send              SendFunc
	Event             EventFunc
}

// New creates a Window starting at initialSeq.
func New(initialSeq uint32, cfg Config) *Window {
	return &Window{
		capacity:          cfg.Capacity,
		entries:           make([]*entry, cfg.Capacity),
		sendBase:          initialSeq,
		nextSeqNum:        initialSeq,
		peerWindow:        cfg.SegmentSize, // assume at least one segment until the first ACK arrives
		segmentSize:       cfg.SegmentSize,
		dupThresh:         cfg.DupAckThreshold,
		timeout:           cfg.Timeout,
		retransmitCeiling: cfg.RetransmitCeiling,
		send:              cfg.Send,
		event:             cfg.Event,
	}
}

// CanSend reports whether one more segment can be sent while keeping at
// most effectiveWindowSegments outstanding.
// Per the spec, can_send is next_seq_num - send_base < floor(cwnd); the
// receiver-advertised window is tracked (peerWindow) but never binds in
// the canonical configuration, so it plays no part here. capacity is
// purely the circular buffer's architectural ceiling — a generous bound
// sized well above any cwnd the controller can reach, not a second cap
// on top of the congestion window.
func (w *Window) CanSend(effectiveWindowSegments int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.canSendLocked(effectiveWindowSegments)
}

func (w *Window) canSendLocked(effectiveWindowSegments int) bool {
	outstanding := int(w.nextSeqNum - w.sendBase)
	if outstanding >= w.capacity {
		return false
	}
	return outstanding < effectiveWindowSegments
}

// SendNew assigns the next sequence number to payload, buffers it, and
// transmits it. It returns ok=false if the window currently has no room.
func (w *Window) SendNew(payload []byte, effectiveWindowSegments int) (seq uint32, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.canSendLocked(effectiveWindowSegments) {
		return 0, false
	}

	seq = w.nextSeqNum
	idx := seq % uint32(w.capacity)
	w.entries[idx] = &entry{seq: seq, payload: payload, sentAt: time.Now()}
	w.nextSeqNum++

	if !w.timerArmed {
		w.timerArmed = true
		w.timerDeadline = time.Now().Add(w.timeout)
	}

	w.send(seq, payload)
	return seq, true
}

// OnAck applies a cumulative ACK and the peer's newly advertised window.
// It returns true if the ACK advanced send_base (a "new ack").
func (w *Window) OnAck(ackNum uint32, peerWindow int) (advanced bool) {
	w.mu.Lock()

	w.peerWindow = peerWindow

	if ackNum <= w.sendBase {
		// Not advancing — either the base itself (duplicate) or stale.
		if ackNum == w.sendBase {
			w.registerDuplicateLocked(ackNum)
		}
		w.mu.Unlock()
		return false
	}

	// Cumulative ack: everything up to ackNum-1 is now acknowledged.
	newlyAcked := 0
	for seq := w.sendBase; seq < ackNum && seq < w.nextSeqNum; seq++ {
		idx := seq % uint32(w.capacity)
		w.entries[idx] = nil
		newlyAcked++
	}
	w.sendBase = ackNum
	w.dupAckCount = 0
	w.consecutiveTimeouts = 0

	if w.sendBase == w.nextSeqNum {
		w.timerArmed = false
	} else {
		w.timerArmed = true
		w.timerDeadline = time.Now().Add(w.timeout)
	}

	w.mu.Unlock()
	// One new-ack event per newly acknowledged segment: slow-start's
	// additive growth is accounted per segment, not per ACK received.
	for i := 0; i < newlyAcked; i++ {
		w.event(EventNewAck)
	}
	return true
}

func (w *Window) registerDuplicateLocked(ackNum uint32) {
	if ackNum != w.dupAckSeq {
		w.dupAckSeq = ackNum
		w.dupAckCount = 0
	}
	w.dupAckCount++

	if w.dupAckCount == w.dupThresh {
		w.fastRetransmitLocked()
		w.mu.Unlock()
		w.event(EventTripleDup)
		w.mu.Lock()
		return
	}
	if w.dupAckCount > w.dupThresh {
		w.mu.Unlock()
		w.event(EventDupInRecovery)
		w.mu.Lock()
	}
}

// fastRetransmitLocked resends only the segment at send_base, per the
// spec's fast-retransmit rule — distinct from the full-window replay a
// timeout triggers. It also refreshes the window-wide retransmit timer,
// per §4.3's "refresh its timer" on retransmission.
func (w *Window) fastRetransmitLocked() {
	idx := w.sendBase % uint32(w.capacity)
	e := w.entries[idx]
	if e == nil {
		return
	}
	now := time.Now()
	e.sentAt = now
	w.timerArmed = true
	w.timerDeadline = now.Add(w.timeout)
	payload := e.payload
	seq := e.seq
	w.mu.Unlock()
	w.send(seq, payload)
	w.mu.Lock()
}

// Tick advances the retransmit timer. When it has expired, every buffered
// segment from send_base to next_seq_num is resent in order and the timer
// is rearmed, matching the spec's single-timer-per-window design.
func (w *Window) Tick(now time.Time) {
	w.mu.Lock()
	if !w.timerArmed || now.Before(w.timerDeadline) {
		w.mu.Unlock()
		return
	}

	w.consecutiveTimeouts++
	ceilingHit := w.consecutiveTimeouts >= w.retransmitCeiling

	var resend []*entry
	for seq := w.sendBase; seq < w.nextSeqNum; seq++ {
		idx := seq % uint32(w.capacity)
		if e := w.entries[idx]; e != nil {
			resend = append(resend, e)
		}
	}
	w.dupAckCount = 0
	w.timerDeadline = now.Add(w.timeout)
	w.mu.Unlock()

	for _, e := range resend {
		e.sentAt = now
		w.send(e.seq, e.payload)
	}

	w.event(EventTimeout)

	if ceilingHit {
		// The caller inspects ConsecutiveTimeouts/RetransmitCeilingHit to
		// decide whether to abort the connection; Tick itself never
		// returns an error so it stays safe to call on a fixed cadence.
		_ = ceilingHit
	}
}

// ConsecutiveTimeouts reports how many timeouts have fired in a row
// without send_base advancing.
func (w *Window) ConsecutiveTimeouts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.consecutiveTimeouts
}

// RetransmitCeilingHit reports whether the configured ceiling has been
// reached or exceeded.
func (w *Window) RetransmitCeilingHit() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.consecutiveTimeouts >= w.retransmitCeiling
}

// SendBase returns the oldest unacknowledged sequence number.
func (w *Window) SendBase() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sendBase
}

// NextSeqNum returns the next sequence number to be assigned.
func (w *Window) NextSeqNum() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextSeqNum
}

// Idle reports whether every sent segment has been acknowledged.
func (w *Window) Idle() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sendBase == w.nextSeqNum
}
