package congestion

import "testing"

func newTestController() *Controller {
	return New(Config{InitialCwnd: 1.0, InitialSsthresh: 64.0})
}

func TestSlowStartGrowsExponentially(t *testing.T) {
	c := newTestController()
	for i := 0; i < 4; i++ {
		c.OnNewAck()
	}
	cwnd, _, state := c.Snapshot()
	if cwnd != 5 {
		t.Fatalf("cwnd = %v, want 5", cwnd)
	}
	if state != SlowStart {
		t.Fatalf("state = %v, want SlowStart", state)
	}
}

func TestTransitionsToCongestionAvoidanceAtSsthresh(t *testing.T) {
	c := New(Config{InitialCwnd: 1.0, InitialSsthresh: 5.0})
	for i := 0; i < 4; i++ {
		c.OnNewAck()
	}
	cwnd, _, state := c.Snapshot()
	if cwnd != 5 {
		t.Fatalf("cwnd = %v, want 5", cwnd)
	}
	if state != CongestionAvoidance {
		t.Fatalf("state = %v, want CongestionAvoidance once cwnd >= ssthresh", state)
	}

	c.OnNewAck() // now linear growth: cwnd += 1/cwnd
	cwnd, _, _ = c.Snapshot()
	want := 5 + 1.0/5.0
	if cwnd != want {
		t.Fatalf("cwnd = %v, want %v", cwnd, want)
	}
}

func TestTripleDupEntersFastRecovery(t *testing.T) {
	c := New(Config{InitialCwnd: 10.0, InitialSsthresh: 64.0})
	c.OnTripleDup()

	cwnd, ssthresh, state := c.Snapshot()
	if ssthresh != 5 {
		t.Fatalf("ssthresh = %v, want 5 (max(10/2, 2))", ssthresh)
	}
	if cwnd != 8 {
		t.Fatalf("cwnd = %v, want 8 (ssthresh+3)", cwnd)
	}
	if state != FastRecovery {
		t.Fatalf("state = %v, want FastRecovery", state)
	}
}

func TestTripleDupFloorsSsthreshAtTwo(t *testing.T) {
	c := New(Config{InitialCwnd: 2.0, InitialSsthresh: 64.0})
	c.OnTripleDup()

	_, ssthresh, _ := c.Snapshot()
	if ssthresh != 2 {
		t.Fatalf("ssthresh = %v, want floor of 2", ssthresh)
	}
}

func TestAdditionalTripleDupWhileInRecoveryIsIgnored(t *testing.T) {
	c := New(Config{InitialCwnd: 10.0, InitialSsthresh: 64.0})
	c.OnTripleDup()
	cwndAfterFirst, ssthreshAfterFirst, _ := c.Snapshot()

	c.OnTripleDup() // should be a no-op per the table

	cwnd, ssthresh, state := c.Snapshot()
	if cwnd != cwndAfterFirst || ssthresh != ssthreshAfterFirst {
		t.Fatalf("second triple-dup in recovery changed state: cwnd %v->%v ssthresh %v->%v",
			cwndAfterFirst, cwnd, ssthreshAfterFirst, ssthresh)
	}
	if state != FastRecovery {
		t.Fatalf("state = %v, want FastRecovery", state)
	}
}

func TestDupInRecoveryInflatesCwnd(t *testing.T) {
	c := New(Config{InitialCwnd: 10.0, InitialSsthresh: 64.0})
	c.OnTripleDup()
	cwndAfterTriple, _, _ := c.Snapshot()

	c.OnDupInRecovery()

	cwnd, _, _ := c.Snapshot()
	if cwnd != cwndAfterTriple+1 {
		t.Fatalf("cwnd = %v, want %v", cwnd, cwndAfterTriple+1)
	}
}

func TestDupInRecoveryOutsideRecoveryIsNoOp(t *testing.T) {
	c := newTestController()
	c.OnDupInRecovery()

	cwnd, _, state := c.Snapshot()
	if cwnd != 1.0 {
		t.Fatalf("cwnd = %v, want unchanged 1.0", cwnd)
	}
	if state != SlowStart {
		t.Fatalf("state = %v, want SlowStart", state)
	}
}

func TestNewAckExitsFastRecoveryToCongestionAvoidance(t *testing.T) {
	c := New(Config{InitialCwnd: 10.0, InitialSsthresh: 64.0})
	c.OnTripleDup()
	_, ssthresh, _ := c.Snapshot()

	c.OnNewAck()

	cwnd, _, state := c.Snapshot()
	if cwnd != ssthresh {
		t.Fatalf("cwnd = %v, want ssthresh %v on fast-recovery exit", cwnd, ssthresh)
	}
	if state != CongestionAvoidance {
		t.Fatalf("state = %v, want CongestionAvoidance", state)
	}
}

func TestTimeoutResetsToSlowStartFromAnyState(t *testing.T) {
	cases := []struct {
		name  string
		setup func(c *Controller)
	}{
		{"from slow start", func(c *Controller) {}},
		{"from congestion avoidance", func(c *Controller) {
			c.cwnd = 70
			c.ssthresh = 64
			c.state = CongestionAvoidance
		}},
		{"from fast recovery", func(c *Controller) { c.OnTripleDup() }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := New(Config{InitialCwnd: 10.0, InitialSsthresh: 64.0})
			tc.setup(c)
			cwndBefore, _, _ := c.Snapshot()

			c.OnTimeout()

			cwnd, ssthresh, state := c.Snapshot()
			if cwnd != 1 {
				t.Fatalf("cwnd = %v, want 1", cwnd)
			}
			wantSsthresh := cwndBefore / 2
			if wantSsthresh < 2 {
				wantSsthresh = 2
			}
			if ssthresh != wantSsthresh {
				t.Fatalf("ssthresh = %v, want %v", ssthresh, wantSsthresh)
			}
			if state != SlowStart {
				t.Fatalf("state = %v, want SlowStart", state)
			}
		})
	}
}

func TestEffectiveWindowFloorsAndHasMinimumOne(t *testing.T) {
	c := New(Config{InitialCwnd: 1.0, InitialSsthresh: 64.0})
	if got := c.EffectiveWindow(); got != 1 {
		t.Fatalf("EffectiveWindow = %d, want 1", got)
	}

	c.cwnd = 5.9
	if got := c.EffectiveWindow(); got != 5 {
		t.Fatalf("EffectiveWindow = %d, want 5 (floor of 5.9)", got)
	}

	c.cwnd = 0.2
	if got := c.EffectiveWindow(); got != 1 {
		t.Fatalf("EffectiveWindow = %d, want minimum 1", got)
	}
}
