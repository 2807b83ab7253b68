package encctx

import "fmt"

// Slot is one fixed position of a SlotPool. Its index never changes; its
// content is reset and reused whenever a new picture number maps onto it.
type Slot[T any] struct {
	Index    int
	Value    T
	occupied bool
	picture  uint64
	init     func(int) T
}

// Occupied reports whether the slot currently holds a picture.
func (s *Slot[T]) Occupied() bool { return s.occupied }

// PictureNumber returns the picture held by the slot. Only meaningful while
// Occupied is true.
func (s *Slot[T]) PictureNumber() uint64 { return s.picture }

// Store places v for picture pn into the slot. Storing over a different
// in-flight picture means the pool is shallower than the stage's reorder
// distance, which is a configuration bug, so Store panics.
func (s *Slot[T]) Store(pn uint64, v T) {
	if s.occupied && s.picture != pn {
		panic(fmt.Sprintf("encctx: slot %d holds picture %d, cannot store picture %d (pool depth below reorder distance)",
			s.Index, s.picture, pn))
	}
	s.occupied = true
	s.picture = pn
	s.Value = v
}

// Take returns the slot content and resets the slot.
func (s *Slot[T]) Take() (uint64, T) {
	pn, v := s.picture, s.Value
	s.Reset()
	return pn, v
}

// Reset empties the slot and restores its stage-specific initial value.
func (s *Slot[T]) Reset() {
	s.occupied = false
	s.picture = 0
	if s.init != nil {
		s.Value = s.init(s.Index)
	} else {
		var zero T
		s.Value = zero
	}
}

// SlotPool is a fixed-depth array of reusable slots addressed by
// picture number modulo depth. All slots are allocated up front; the pool
// never grows.
type SlotPool[T any] struct {
	slots []Slot[T]
}

// NewSlotPool allocates depth slots, each initialized by init(index).
func NewSlotPool[T any](depth int, init func(int) T) *SlotPool[T] {
	if depth <= 0 {
		panic(fmt.Sprintf("encctx: slot pool depth must be positive, got %d", depth))
	}
	p := &SlotPool[T]{slots: make([]Slot[T], depth)}
	for i := range p.slots {
		p.slots[i].Index = i
		p.slots[i].init = init
		p.slots[i].Reset()
	}
	return p
}

// Depth returns the number of slots.
func (p *SlotPool[T]) Depth() int { return len(p.slots) }

// Slot returns the slot that picture pn maps to.
func (p *SlotPool[T]) Slot(pn uint64) *Slot[T] {
	return &p.slots[pn%uint64(len(p.slots))]
}

// At returns the slot at a fixed index.
func (p *SlotPool[T]) At(index int) *Slot[T] {
	return &p.slots[index]
}

// Occupancy counts occupied slots. It scans the pool and is meant for
// introspection, not for the hot path.
func (p *SlotPool[T]) Occupancy() int {
	n := 0
	for i := range p.slots {
		if p.slots[i].occupied {
			n++
		}
	}
	return n
}

// ReorderQueue restores picture-number order from out-of-order arrival.
// Put and Drain must be called from the goroutine that owns the stage.
type ReorderQueue[T any] struct {
	pool *SlotPool[T]
	head uint64
}

// NewReorderQueue builds a queue over a fresh pool of the given depth.
func NewReorderQueue[T any](depth int, init func(int) T) *ReorderQueue[T] {
	return &ReorderQueue[T]{pool: NewSlotPool(depth, init)}
}

// Pool exposes the underlying slots.
func (q *ReorderQueue[T]) Pool() *SlotPool[T] { return q.pool }

// Head returns the next picture number due for release.
func (q *ReorderQueue[T]) Head() uint64 { return q.head }

// Put stores v for picture pn. pn must lie inside [Head, Head+Depth);
// anything else is an ordering bug upstream and panics.
func (q *ReorderQueue[T]) Put(pn uint64, v T) {
	if pn < q.head || pn-q.head >= uint64(q.pool.Depth()) {
		panic(fmt.Sprintf("encctx: picture %d outside reorder window [%d, %d)",
			pn, q.head, q.head+uint64(q.pool.Depth())))
	}
	q.pool.Slot(pn).Store(pn, v)
}

// Drain releases consecutive pictures starting at Head, in order, and
// returns how many were released. It stops at the first missing picture.
func (q *ReorderQueue[T]) Drain(fn func(pn uint64, v T)) int {
	n := 0
	for {
		s := q.pool.Slot(q.head)
		if !s.Occupied() || s.PictureNumber() != q.head {
			return n
		}
		pn, v := s.Take()
		q.head++
		n++
		if fn != nil {
			fn(pn, v)
		}
	}
}
