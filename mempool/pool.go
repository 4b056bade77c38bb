package mempool

import (
	"errors"
	"strings"
	"sync"

	"stakechain/core/runtime"
	"stakechain/native/fees"
)

var (
	// ErrPoolFull is returned when the pool is at capacity.
	ErrPoolFull = errors.New("mempool: pool is full")
	// ErrEmptyCall is returned for extrinsics without a call name.
	ErrEmptyCall = errors.New("mempool: call name must not be empty")
)

// Lanes groups extrinsics into the root-priority and signed queues.
type Lanes struct {
	Root   []runtime.Extrinsic
	Signed []runtime.Extrinsic
}

// Classify separates extrinsics by origin, preserving arrival order within
// each lane.
func Classify(exts []runtime.Extrinsic) Lanes {
	lanes := Lanes{Root: make([]runtime.Extrinsic, 0, len(exts)), Signed: make([]runtime.Extrinsic, 0, len(exts))}
	for _, ext := range exts {
		if ext.Origin.Root {
			lanes.Root = append(lanes.Root, ext)
			continue
		}
		lanes.Signed = append(lanes.Signed, ext)
	}
	return lanes
}

// Usage captures how much of the reserved root capacity a block consumes.
type Usage struct {
	Target    int
	Used      int
	TotalRoot int
	// SignedByDomain counts the pending signed backlog by call module.
	SignedByDomain map[string]int
}

// Schedule orders the lanes so the first maxCalls entries honour the root
// reservation; unused reserved slots fall back to signed calls and vice
// versa. The returned slice holds every extrinsic.
func Schedule(lanes Lanes, maxCalls int, quota RootQuota) ([]runtime.Extrinsic, Usage) {
	total := len(lanes.Root) + len(lanes.Signed)
	if total == 0 {
		return nil, Usage{}
	}
	if maxCalls <= 0 || maxCalls > total {
		maxCalls = total
	}
	target := quota.ReservedSlots(maxCalls)

	rootTake := min(target, len(lanes.Root))
	signedTake := min(maxCalls-rootTake, len(lanes.Signed))
	if remaining := maxCalls - rootTake - signedTake; remaining > 0 {
		extra := min(remaining, len(lanes.Root)-rootTake)
		rootTake += extra
		remaining -= extra
		signedTake += min(remaining, len(lanes.Signed)-signedTake)
	}

	ordered := make([]runtime.Extrinsic, 0, total)
	ordered = append(ordered, lanes.Root[:rootTake]...)
	ordered = append(ordered, lanes.Signed[:signedTake]...)
	ordered = append(ordered, lanes.Root[rootTake:]...)
	ordered = append(ordered, lanes.Signed[signedTake:]...)

	breakdown := make(map[string]int)
	for _, ext := range lanes.Signed {
		breakdown[fees.DomainOf(ext.Call.Name)]++
	}
	return ordered, Usage{Target: target, Used: rootTake, TotalRoot: len(lanes.Root), SignedByDomain: breakdown}
}

// Pool is a bounded FIFO of submitted extrinsics.
type Pool struct {
	mu       sync.Mutex
	queue    []runtime.Extrinsic
	capacity int
	quota    RootQuota
	last     Usage
}

// NewPool returns a pool holding at most capacity extrinsics; zero means
// unbounded.
func NewPool(capacity int, quota RootQuota) *Pool {
	return &Pool{capacity: capacity, quota: quota}
}

// Add queues ext.
func (p *Pool) Add(ext runtime.Extrinsic) error {
	if strings.TrimSpace(ext.Call.Name) == "" {
		return ErrEmptyCall
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.capacity > 0 && len(p.queue) >= p.capacity {
		return ErrPoolFull
	}
	p.queue = append(p.queue, ext)
	return nil
}

// Drain removes and returns up to limit extrinsics for the next block. A
// non-positive limit drains everything.
func (p *Pool) Drain(limit int) []runtime.Extrinsic {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil
	}
	ordered, usage := Schedule(Classify(p.queue), limit, p.quota)
	p.last = usage
	if limit <= 0 || limit > len(ordered) {
		limit = len(ordered)
	}
	out := append([]runtime.Extrinsic(nil), ordered[:limit]...)
	p.queue = append([]runtime.Extrinsic(nil), ordered[limit:]...)
	return out
}

// Requeue puts extrinsics of a failed block back at the front of the pool in
// their original order. Capacity is not enforced since they were already
// admitted.
func (p *Pool) Requeue(exts []runtime.Extrinsic) {
	if len(exts) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	queue := make([]runtime.Extrinsic, 0, len(exts)+len(p.queue))
	queue = append(queue, exts...)
	p.queue = append(queue, p.queue...)
}

// Len returns the number of queued extrinsics.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// LastUsage reports the lane usage of the most recent Drain.
func (p *Pool) LastUsage() Usage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}
