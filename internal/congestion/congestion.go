// Package congestion implements the classical TCP Reno AIMD state machine
// that drives the sender's effective window, structured as a mutex-guarded
// controller with one method per event — the same shape the teacher's
// congestion adapter uses for its own (bandwidth-based) controller, applied
// here to Reno's slow-start / congestion-avoidance / fast-recovery table.
package congestion

import (
	"math"
	"sync"
)

// State is one of the three Reno phases.
type State int

const (
	SlowStart State = iota
	CongestionAvoidance
	FastRecovery
)

func (s State) String() string {
	switch s {
	case SlowStart:
		return "slow_start"
	case CongestionAvoidance:
		return "congestion_avoidance"
	case FastRecovery:
		return "fast_recovery"
	default:
		return "unknown"
	}
}

// Controller tracks cwnd and ssthresh and reacts to the reliability
// layer's four event kinds exactly per the Reno table.
type Controller struct {
	mu sync.Mutex

	cwnd     float64
	ssthresh float64
	state    State
}

// Config carries the starting cwnd/ssthresh.
type Config struct {
	InitialCwnd     float64
	InitialSsthresh float64
}

// New creates a Controller in SLOW_START.
func New(cfg Config) *Controller {
	return &Controller{
		cwnd:     cfg.InitialCwnd,
		ssthresh: cfg.InitialSsthresh,
		state:    SlowStart,
	}
}

// OnNewAck applies the new-ack row of the event table.
func (c *Controller) OnNewAck() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case SlowStart:
		c.cwnd += 1
		if c.cwnd >= c.ssthresh {
			c.state = CongestionAvoidance
		}
	case CongestionAvoidance:
		c.cwnd += 1 / c.cwnd
	case FastRecovery:
		c.cwnd = c.ssthresh
		c.state = CongestionAvoidance
	}
}

// OnTripleDup applies the triple-dup row: halve (floored at 2), inflate by
// three, and enter fast recovery. A triple-dup observed while already in
// fast recovery is ignored, per the table's "(ignore additional triples)".
func (c *Controller) OnTripleDup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == FastRecovery {
		return
	}
	c.ssthresh = math.Max(c.cwnd/2, 2)
	c.cwnd = c.ssthresh + 3
	c.state = FastRecovery
}

// OnDupInRecovery applies the dup-in-recovery row: cwnd inflates by one for
// each additional duplicate ACK observed while already in fast recovery.
func (c *Controller) OnDupInRecovery() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != FastRecovery {
		return
	}
	c.cwnd += 1
}

// OnTimeout applies the timeout row in every state: halve-and-floor
// ssthresh, reset cwnd to 1, and fall back to slow start.
func (c *Controller) OnTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ssthresh = math.Max(c.cwnd/2, 2)
	c.cwnd = 1
	c.state = SlowStart
}

// EffectiveWindow is the integer segment count the reliability layer may
// keep outstanding: max(1, floor(cwnd)).
func (c *Controller) EffectiveWindow() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := int(math.Floor(c.cwnd))
	if w < 1 {
		return 1
	}
	return w
}

// Snapshot returns the current cwnd, ssthresh, and state for metrics/logs.
func (c *Controller) Snapshot() (cwnd, ssthresh float64, state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cwnd, c.ssthresh, c.state
}
