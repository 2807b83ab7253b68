package encctx

import (
	"sync"
	"testing"
)

func TestRateControlRing_seeded_slots(t *testing.T) {
	const bw = 41666
	r := NewRateControlRing(8, bw)
	for i := 0; i < r.Depth(); i++ {
		p := r.Snapshot(i)
		if p.RollingTargetBits != bw || p.RollingActualBits != bw {
			t.Errorf("slot %d rolling bits = %d/%d, want %d", i, p.RollingTargetBits, p.RollingActualBits, bw)
		}
		if p.Size != -1 {
			t.Errorf("slot %d size = %d, want -1", i, p.Size)
		}
		if p.ProcessedFrameNumber != 0 || p.TotalActualBits != 0 || p.ExtendMaxQ != 0 {
			t.Errorf("slot %d counters not zero: %+v", i, p)
		}
		if r.State(i) != SlotUninitialized {
			t.Errorf("slot %d state = %v", i, r.State(i))
		}
	}
}

func TestRateControlRing_InitializeSlot_resets(t *testing.T) {
	r := NewRateControlRing(2, 1000)
	p := r.Slot(1)
	p.TotalActualBits = 99
	p.RollingActualBits = 5
	r.InitializeSlot(1)
	if p.TotalActualBits != 0 || p.RollingActualBits != 1000 || p.Size != -1 {
		t.Errorf("InitializeSlot left %+v", *p)
	}
}

func TestRateControlRing_Advance_modulo(t *testing.T) {
	for _, depth := range []int{1, 3, 8, ParallelGOPMaxNumber} {
		r := NewRateControlRing(depth, 0)
		initial := r.Head()
		for k := 1; k <= 3*depth+1; k++ {
			got := r.Advance()
			if want := (initial + k) % depth; got != want || r.Head() != want {
				t.Fatalf("depth %d after %d advances: head = %d, want %d", depth, k, got, want)
			}
		}
	}
}

func TestRateControlRing_Slot_by_gop_index(t *testing.T) {
	r := NewRateControlRing(4, 0)
	if r.Slot(6) != r.Slot(2) {
		t.Error("gop 6 and gop 2 should share a slot in a ring of 4")
	}
	if r.Slot(1) == r.Slot(2) {
		t.Error("gop 1 and gop 2 should not share a slot")
	}
	if r.Active() != r.Slot(0) {
		t.Error("Active should start at slot 0")
	}
}

func TestRateControlRing_slot_lifecycle(t *testing.T) {
	r := NewRateControlRing(2, 500)
	r.Begin(0, 0, -1)
	if r.State(0) != SlotActive {
		t.Fatalf("state after Begin = %v", r.State(0))
	}

	p := r.Slot(0)
	p.ProcessedFrameNumber = 16
	p.TotalActualBits = 12345

	r.Retain(0)
	r.Advance()
	r.Finalize(0, true)
	if r.State(0) != SlotFinalizing {
		t.Fatalf("state with pending consumer = %v, want finalizing", r.State(0))
	}
	if p.Size != 16 || !p.EndOfSeqSeen {
		t.Errorf("Finalize should fix size and end of sequence: %+v", *p)
	}
	if p.TotalActualBits != 12345 {
		t.Error("previous GOP accumulators must survive the advance")
	}

	r.Done(0)
	if r.State(0) != SlotReusable {
		t.Fatalf("state after last consumer = %v, want reusable", r.State(0))
	}

	if got := r.Advance(); got != 0 {
		t.Fatalf("Advance = %d, want 0", got)
	}
	if r.State(0) != SlotUninitialized || p.TotalActualBits != 0 || p.RollingTargetBits != 500 {
		t.Errorf("reusable slot should be re-initialized on advance: %+v", *p)
	}
}

func TestRateControlRing_IdleSnapshot_owned_slots(t *testing.T) {
	r := NewRateControlRing(2, 500)
	r.Begin(0, 0, 8)
	r.Retain(0)

	tests := []struct {
		name   string
		step   func()
		state  SlotState
		wantOK bool
	}{
		{"active", func() {}, SlotActive, false},
		{"finalizing", func() { r.Finalize(0, false) }, SlotFinalizing, false},
		{"reusable", func() { r.Done(0) }, SlotReusable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.step()
			p, st, ok := r.IdleSnapshot(0)
			if st != tt.state || ok != tt.wantOK {
				t.Fatalf("IdleSnapshot = %v, %v; want %v, %v", st, ok, tt.state, tt.wantOK)
			}
			if ok && p != r.Snapshot(0) {
				t.Errorf("idle copy %+v differs from Snapshot", p)
			}
		})
	}

	if _, st, ok := r.IdleSnapshot(1); !ok || st != SlotUninitialized {
		t.Errorf("untouched slot = %v, %v", st, ok)
	}
}

func TestRateControlRing_Finalize_without_consumers(t *testing.T) {
	r := NewRateControlRing(2, 0)
	r.Begin(1, 32, 16)
	r.Finalize(1, false)
	if r.State(1) != SlotReusable {
		t.Errorf("state = %v, want reusable", r.State(1))
	}
	if r.Slot(1).Size != 16 {
		t.Error("known size must not be overwritten")
	}
}

func TestRateControlRing_contract_violations_panic(t *testing.T) {
	tests := []struct {
		name string
		fn   func(r *RateControlRing)
	}{
		{"advance_into_active", func(r *RateControlRing) {
			r.Begin(1, 0, -1)
			r.Advance()
		}},
		{"initialize_active", func(r *RateControlRing) {
			r.Begin(0, 0, -1)
			r.InitializeSlot(0)
		}},
		{"begin_twice", func(r *RateControlRing) {
			r.Begin(0, 0, -1)
			r.Begin(0, 8, -1)
		}},
		{"finalize_uninitialized", func(r *RateControlRing) { r.Finalize(0, false) }},
		{"done_without_retain", func(r *RateControlRing) {
			r.Begin(0, 0, -1)
			r.Done(0)
		}},
		{"retain_uninitialized", func(r *RateControlRing) { r.Retain(1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRateControlRing(2, 0)
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			tt.fn(r)
		})
	}
}

func TestRateControlRing_concurrent_gops(t *testing.T) {
	const depth = 4
	r := NewRateControlRing(depth, 100)

	// Open every slot, then let one goroutine per GOP accumulate and finish
	// while others are still running.
	for i := 0; i < depth; i++ {
		r.Begin(i, uint64(i*16), 16)
		r.Retain(i)
	}

	var wg sync.WaitGroup
	for i := 0; i < depth; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := r.Slot(uint64(i))
			for f := 0; f < 16; f++ {
				p.ProcessedFrameNumber++
				p.TotalActualBits += 10
			}
			r.Finalize(i, false)
			r.Done(i)
		}(i)
	}
	wg.Wait()

	for i := 0; i < depth; i++ {
		if r.State(i) != SlotReusable {
			t.Errorf("slot %d state = %v", i, r.State(i))
		}
		if p := r.Snapshot(i); p.TotalActualBits != 160 {
			t.Errorf("slot %d bits = %d, want 160", i, p.TotalActualBits)
		}
	}
}
