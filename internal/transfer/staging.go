package transfer

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"golang.org/x/sync/semaphore"
)

var ErrStagingBudgetExhausted = errors.New("staging memory budget exhausted")

// Allocator hands out staging buffers.
type Allocator interface {
	Acquire(size uint64) (*Staging, error)
}

// Staging is the transfer-local region data passes through on its way
// between the caller and the device. It must not outlive the transfer.
type Staging struct {
	buf     []byte
	release func()
	once    sync.Once
}

func NewStaging(buf []byte, release func()) *Staging {
	return &Staging{buf: buf, release: release}
}

func (s *Staging) Bytes() []byte {
	return s.buf
}

// Release returns the memory to its allocator. It is safe to call more than once.
func (s *Staging) Release() {
	s.once.Do(func() {
		s.buf = nil

		if s.release != nil {
			s.release()
		}
	})
}

// BudgetAllocator caps the total number of staging bytes in flight.
type BudgetAllocator struct {
	sem   *semaphore.Weighted
	limit int64
}

var _ Allocator = (*BudgetAllocator)(nil)

// NewBudgetAllocator creates an allocator with a limit in bytes. A limit of
// zero or less disables the cap.
func NewBudgetAllocator(limit int64) *BudgetAllocator {
	a := &BudgetAllocator{limit: limit}
	if limit > 0 {
		a.sem = semaphore.NewWeighted(limit)
	}

	return a
}

// Acquire never waits: if the budget cannot cover size right now it fails.
func (a *BudgetAllocator) Acquire(size uint64) (*Staging, error) {
	if size > math.MaxInt {
		return nil, fmt.Errorf("%d bytes is not addressable", size)
	}

	if a.sem == nil {
		return NewStaging(make([]byte, size), nil), nil
	}

	if size > uint64(a.limit) {
		return nil, fmt.Errorf("%w: %d bytes requested, limit is %d", ErrStagingBudgetExhausted, size, a.limit)
	}

	weight := int64(size)
	if !a.sem.TryAcquire(weight) {
		return nil, fmt.Errorf("%w: %d bytes requested", ErrStagingBudgetExhausted, size)
	}

	return NewStaging(make([]byte, size), func() {
		a.sem.Release(weight)
	}), nil
}
