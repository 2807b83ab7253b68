package encctx

import (
	"fmt"
	"math"
	"sync"
	"unsafe"
)

// ResourceGuard approves every allocation New makes and is told when the
// allocation is released again.
type ResourceGuard interface {
	Reserve(step string, bytes int64) error
	Release(step string, bytes int64)
}

// BudgetGuard refuses reservations once the running total would exceed
// Limit. A zero Limit never refuses.
type BudgetGuard struct {
	Limit int64

	mu   sync.Mutex
	used int64
}

// NewBudgetGuard returns a guard with the given byte limit.
func NewBudgetGuard(limit int64) *BudgetGuard {
	return &BudgetGuard{Limit: limit}
}

// Reserve implements ResourceGuard.Reserve.
func (g *BudgetGuard) Reserve(step string, bytes int64) error {
	if bytes < 0 || bytes == unallocatable {
		return fmt.Errorf("%w: %s needs an unrepresentable number of bytes", ErrInsufficientResources, step)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Limit > 0 && (bytes > g.Limit || g.used > g.Limit-bytes) {
		return fmt.Errorf("%w: %s needs %d bytes, %d of %d in use",
			ErrInsufficientResources, step, bytes, g.used, g.Limit)
	}
	g.used += bytes
	return nil
}

// Release implements ResourceGuard.Release.
func (g *BudgetGuard) Release(step string, bytes int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.used -= bytes
}

// Used returns the bytes currently reserved.
func (g *BudgetGuard) Used() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.used
}

// unallocatable is the estimate for sizes that cannot be represented.
// Reserve never approves it.
const unallocatable = math.MaxInt64

// arrayBytes estimates the footprint of n values of T. Negative counts and
// products that overflow int64 saturate to unallocatable.
func arrayBytes[T any](n int) int64 {
	var zero T
	size := int64(unsafe.Sizeof(zero))
	if n < 0 || (size > 0 && int64(n) > unallocatable/size) {
		return unallocatable
	}
	return size * int64(n)
}

// addBytes sums estimates, saturating to unallocatable.
func addBytes(a, b int64) int64 {
	if a == unallocatable || b == unallocatable || a > unallocatable-b {
		return unallocatable
	}
	return a + b
}
