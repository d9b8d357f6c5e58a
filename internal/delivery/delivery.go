// Package delivery implements the receiver-side in-order acceptance rule:
// a single expected-sequence cursor, no out-of-order reassembly buffer.
// This is a deliberately narrower sibling of the teacher's ARQRecvBuffer
// (which holds a full window of out-of-order entries for SACK) — the
// Go-Back-N contract only ever needs the one "next expected" number.
package delivery

import (
	"io"
	"sync"
)

// Outcome classifies how an incoming data segment was handled.
type Outcome int

const (
	// Delivered means the segment was in order and appended to the sink.
	Delivered Outcome = iota
	// Duplicate means the segment's sequence was already delivered.
	Duplicate
	// Gap means the segment arrived ahead of what's expected and was
	// discarded without being buffered.
	Gap
)

// State tracks the receiver's delivery cursor and writes accepted
// payloads to sink in order.
type State struct {
	mu       sync.Mutex
	expected uint32
	sink     io.Writer

	delivered  uint64
	duplicates uint64
	gaps       uint64
}

// New creates a delivery State expecting seq initialSeq first, writing
// accepted payloads to sink.
func New(initialSeq uint32, sink io.Writer) *State {
	return &State{expected: initialSeq, sink: sink}
}

// Accept applies the receiver delivery rule of the spec: a segment whose
// sequence matches the cursor is appended and advances it; anything else
// is classified and dropped without touching the sink. It always returns
// the ack_num the caller should echo back to the sender.
func (s *State) Accept(seq uint32, payload []byte) (ackNum uint32, outcome Outcome, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case seq == s.expected:
		if len(payload) > 0 {
			if _, werr := s.sink.Write(payload); werr != nil {
				return s.expected, Delivered, werr
			}
		}
		s.expected++
		s.delivered++
		return s.expected, Delivered, nil

	case seq < s.expected:
		s.duplicates++
		return s.expected, Duplicate, nil

	default: // seq > s.expected
		s.gaps++
		return s.expected, Gap, nil
	}
}

// Expected returns the next sequence number the receiver will accept.
func (s *State) Expected() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expected
}

// Stats returns the running delivered/duplicate/gap counters.
func (s *State) Stats() (delivered, duplicates, gaps uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered, s.duplicates, s.gaps
}
