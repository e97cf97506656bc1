package memory

import (
	"context"
	"sync"
)

// Allocator is an in-memory messagehub.SequenceAllocator.
type Allocator struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewAllocator creates an Allocator whose partitions start at 1.
func NewAllocator() *Allocator {
	return &Allocator{counters: make(map[string]int64)}
}

// NextSequenceNumber returns the next number of the partition.
func (a *Allocator) NextSequenceNumber(ctx context.Context, partitionKey string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.counters[partitionKey]++
	return a.counters[partitionKey], nil
}
