package encctx

import (
	"fmt"

	"github.com/gammazero/deque"
)

// PreAssignment buffers pictures that picture decision has accepted but not
// yet assigned to a mini-GOP. It is owned by the picture decision stage.
type PreAssignment struct {
	q     deque.Deque[Picture]
	limit int
}

// NewPreAssignment returns an empty buffer bounded by limit.
func NewPreAssignment(limit int) *PreAssignment {
	if limit <= 0 {
		panic(fmt.Sprintf("encctx: pre-assignment limit must be positive, got %d", limit))
	}
	return &PreAssignment{limit: limit}
}

// Push appends p. Exceeding the limit means a mini-GOP longer than the
// configured maximum, which panics.
func (b *PreAssignment) Push(p Picture) {
	if b.q.Len() == b.limit {
		panic(fmt.Sprintf("encctx: pre-assignment buffer full (%d pictures)", b.limit))
	}
	b.q.PushBack(p)
}

// Pop removes the oldest picture. ok is false when the buffer is empty.
func (b *PreAssignment) Pop() (p Picture, ok bool) {
	if b.q.Len() == 0 {
		return Picture{}, false
	}
	return b.q.PopFront(), true
}

// Len returns the number of buffered pictures.
func (b *PreAssignment) Len() int { return b.q.Len() }

// Limit returns the maximum number of buffered pictures.
func (b *PreAssignment) Limit() int { return b.limit }

// Reset drops every buffered picture.
func (b *PreAssignment) Reset() { b.q.Clear() }

// sceneChangeBuffer keeps the most recent scene-change picture numbers.
type sceneChangeBuffer struct {
	q     deque.Deque[uint64]
	limit int
}

func (b *sceneChangeBuffer) push(pn uint64) {
	b.q.PushBack(pn)
	for b.q.Len() > b.limit {
		b.q.PopFront()
	}
}

func (b *sceneChangeBuffer) list() []uint64 {
	out := make([]uint64, b.q.Len())
	for i := range out {
		out[i] = b.q.At(i)
	}
	return out
}
