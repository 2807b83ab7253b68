package encctx

import (
	"fmt"
	"sync"
)

// SlotState is the lifecycle position of one rate-control parameter slot.
type SlotState uint8

const (
	// SlotUninitialized has never held a GOP.
	SlotUninitialized SlotState = iota
	// SlotActive is owned by the GOP passed to Begin; only its owner
	// writes the parameters.
	SlotActive
	// SlotFinalizing has seen its last picture and waits for the
	// outstanding consumers to call Done.
	SlotFinalizing
	// SlotReusable holds a finished GOP and may be claimed by Begin.
	SlotReusable
)

func (s SlotState) String() string {
	switch s {
	case SlotUninitialized:
		return "uninitialized"
	case SlotActive:
		return "active"
	case SlotFinalizing:
		return "finalizing"
	case SlotReusable:
		return "reusable"
	}
	return "unknown"
}

// RateControlParam accumulates rate-control state for one GOP. The stage
// that owns the GOP updates the numeric fields directly; lifecycle changes
// go through the ring.
type RateControlParam struct {
	FirstPOC             uint64 `json:"first_poc"`
	ProcessedFrameNumber uint64 `json:"processed_frame_number"`
	Size                 int64  `json:"size"`
	EndOfSeqSeen         bool   `json:"end_of_seq_seen"`
	LastIQP              int32  `json:"last_i_qp"`
	VBRBitsOffTarget     int64  `json:"vbr_bits_off_target"`
	VBRBitsOffTargetFast int64  `json:"vbr_bits_off_target_fast"`
	RollingTargetBits    int64  `json:"rolling_target_bits"`
	RollingActualBits    int64  `json:"rolling_actual_bits"`
	RateErrorEstimate    int32  `json:"rate_error_estimate"`
	TotalActualBits      int64  `json:"total_actual_bits"`
	TotalTargetBits      int64  `json:"total_target_bits"`
	ExtendMinQ           int32  `json:"extend_minq"`
	ExtendMaxQ           int32  `json:"extend_maxq"`
	ExtendMinQFast       int32  `json:"extend_minq_fast"`
	ExtendMaxQFast       int32  `json:"extend_maxq_fast"`

	state     SlotState
	consumers int
}

// RateControlRing is the circular buffer of per-GOP parameters. Several
// GOPs can be in flight; the head names the one currently accumulating.
type RateControlRing struct {
	mu                sync.Mutex
	params            []RateControlParam
	head              int
	avgFrameBandwidth int64
}

// NewRateControlRing allocates depth slots and initializes each of them.
func NewRateControlRing(depth int, avgFrameBandwidth int64) *RateControlRing {
	if depth <= 0 {
		panic(fmt.Sprintf("encctx: rate control ring depth must be positive, got %d", depth))
	}
	r := &RateControlRing{
		params:            make([]RateControlParam, depth),
		avgFrameBandwidth: avgFrameBandwidth,
	}
	for i := range r.params {
		r.initializeLocked(i)
	}
	return r
}

// Depth returns the ring size.
func (r *RateControlRing) Depth() int { return len(r.params) }

// Slot returns the parameters for a GOP index.
func (r *RateControlRing) Slot(gopIndex uint64) *RateControlParam {
	return &r.params[gopIndex%uint64(len(r.params))]
}

// Head returns the index of the active slot.
func (r *RateControlRing) Head() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.head
}

// Active returns the slot at the head.
func (r *RateControlRing) Active() *RateControlParam {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &r.params[r.head]
}

// InitializeSlot resets slot i to its seeded defaults. Re-initializing a
// slot whose GOP is still in flight panics.
func (r *RateControlRing) InitializeSlot(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch st := r.params[i].state; st {
	case SlotActive, SlotFinalizing:
		panic(fmt.Sprintf("encctx: initialize rate control slot %d while %s", i, st))
	}
	r.initializeLocked(i)
}

// Advance moves the head to the next slot and returns its index. A slot
// that finished its GOP is recycled on the way; reaching a slot whose GOP
// is still in flight means more GOPs are open than the ring holds, which
// panics.
func (r *RateControlRing) Advance() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := (r.head + 1) % len(r.params)
	switch st := r.params[next].state; st {
	case SlotReusable:
		r.initializeLocked(next)
	case SlotActive, SlotFinalizing:
		panic(fmt.Sprintf("encctx: rate control ring overrun, slot %d still %s", next, st))
	}
	r.head = next
	return next
}

// Begin binds slot i to a GOP starting at firstPOC. size may be -1 when the
// GOP length is not known yet.
func (r *RateControlRing) Begin(i int, firstPOC uint64, size int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &r.params[i]
	if p.state != SlotUninitialized {
		panic(fmt.Sprintf("encctx: begin on rate control slot %d while %s", i, p.state))
	}
	p.FirstPOC = firstPOC
	p.Size = size
	p.state = SlotActive
}

// Retain registers a consumer that still needs slot i's accumulators.
func (r *RateControlRing) Retain(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &r.params[i]
	if p.state != SlotActive && p.state != SlotFinalizing {
		panic(fmt.Sprintf("encctx: retain on rate control slot %d while %s", i, p.state))
	}
	p.consumers++
}

// Finalize closes slot i to new frames. The slot becomes reusable once
// every retained consumer has called Done.
func (r *RateControlRing) Finalize(i int, endOfSeq bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &r.params[i]
	if p.state != SlotActive {
		panic(fmt.Sprintf("encctx: finalize on rate control slot %d while %s", i, p.state))
	}
	if endOfSeq {
		p.EndOfSeqSeen = true
	}
	if p.Size < 0 {
		p.Size = int64(p.ProcessedFrameNumber)
	}
	p.state = SlotFinalizing
	if p.consumers == 0 {
		p.state = SlotReusable
	}
}

// Done releases one consumer of slot i.
func (r *RateControlRing) Done(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &r.params[i]
	if p.consumers == 0 {
		panic(fmt.Sprintf("encctx: done on rate control slot %d without consumers", i))
	}
	p.consumers--
	if p.consumers == 0 && p.state == SlotFinalizing {
		p.state = SlotReusable
	}
}

// State returns slot i's lifecycle state.
func (r *RateControlRing) State(i int) SlotState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.params[i].state
}

// Snapshot copies slot i under the ring lock. The owning GOP writes
// active and finalizing slots without the lock, so Snapshot is only safe
// on such a slot once every stage touching it has stopped. Readers that
// run alongside the stages use IdleSnapshot.
func (r *RateControlRing) Snapshot(i int) RateControlParam {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.params[i]
}

func (r *RateControlRing) initializeLocked(i int) {
	r.params[i] = RateControlParam{
		Size:              -1,
		RollingTargetBits: r.avgFrameBandwidth,
		RollingActualBits: r.avgFrameBandwidth,
	}
}

// States copies every slot's lifecycle state, indexed by slot.
func (r *RateControlRing) States() []SlotState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SlotState, len(r.params))
	for i := range r.params {
		out[i] = r.params[i].state
	}
	return out
}

// IdleSnapshot copies slot i if no GOP currently owns it. ok is false for
// active and finalizing slots, whose fields are written without the lock.
func (r *RateControlRing) IdleSnapshot(i int) (p RateControlParam, st SlotState, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st = r.params[i].state
	if st == SlotActive || st == SlotFinalizing {
		return RateControlParam{}, st, false
	}
	return r.params[i], st, true
}
