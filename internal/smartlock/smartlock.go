// Package smartlock provides a keyed reader/writer-style coordinator:
// callers take exclusive ownership of an arbitrary set of string keys
// (transaction ids, in practice), and a separate "reorg" mode takes
// global exclusive ownership once every keyed holder has drained.
//
// The map-of-mutexes shape is grounded on lnd's multimutex.HashMutex,
// generalized from a single key to a key set and extended with the
// global-exclusive reorg mode spec'd for chain reorganizations.
package smartlock

import (
	"context"
	"sort"
	"sync"
)

// SmartLock is safe for concurrent use.
type SmartLock struct {
	mu sync.Mutex

	// held is the set of keys currently owned by some WithLock call.
	held map[string]struct{}

	// waiters is the FIFO queue of keyed acquisitions blocked because
	// their key set intersects held, or because a reorg is in
	// progress or waiting.
	waiters []*waiter

	// reorgWaiting is true once a ReorgLock call has announced intent
	// to acquire; it blocks new keyed acquisitions from starting even
	// before every current holder has drained.
	reorgWaiting bool

	// reorgHeld is true while a ReorgLock body is running.
	reorgHeld bool

	// runningKeyed is the number of WithLock bodies currently
	// executing; ReorgLock waits for this to reach zero.
	runningKeyed int
	drained      chan struct{}
}

type waiter struct {
	keys  []string
	ready chan struct{}
}

// New returns an idle SmartLock.
func New() *SmartLock {
	return &SmartLock{
		held: make(map[string]struct{}),
	}
}

// WithLock runs body once every key in keys is free. The full key set
// is acquired atomically, so two calls with intersecting sets can never
// interleave partial acquisition and deadlock each other. Calls whose
// key sets intersect run one at a time but are not served in arrival
// order: a release wakes every queued waiter whose keys are free, the
// woken waiters race to re-acquire, and a new call that finds its keys
// free takes them without queuing behind older waiters. A pending or active
// ReorgLock takes priority over new keyed acquisitions once current
// holders drain.
func (l *SmartLock) WithLock(ctx context.Context, keys []string, body func() error) error {
	keys = normalize(keys)

	if err := l.acquire(ctx, keys); err != nil {
		return err
	}
	defer l.release(keys)

	return body()
}

func (l *SmartLock) acquire(ctx context.Context, keys []string) error {
	for {
		l.mu.Lock()
		if !l.reorgWaiting && !l.reorgHeld && !l.intersects(keys) {
			for _, k := range keys {
				l.held[k] = struct{}{}
			}
			l.runningKeyed++
			l.mu.Unlock()
			return nil
		}

		w := &waiter{keys: keys, ready: make(chan struct{})}
		l.waiters = append(l.waiters, w)
		l.mu.Unlock()

		select {
		case <-w.ready:
			// woken because our keys became free; loop to
			// re-check against reorg state and re-acquire.
		case <-ctx.Done():
			l.removeWaiter(w)
			return ctx.Err()
		}
	}
}

func (l *SmartLock) release(keys []string) {
	l.mu.Lock()
	for _, k := range keys {
		delete(l.held, k)
	}
	l.runningKeyed--
	if l.runningKeyed == 0 && l.drained != nil {
		close(l.drained)
		l.drained = nil
	}
	l.wakeEligible()
	l.mu.Unlock()
}

// ReorgLock runs body in global-exclusive mode: no WithLock body may
// be running concurrently, and no new WithLock call may begin until
// body returns.
func (l *SmartLock) ReorgLock(ctx context.Context, body func() error) error {
	l.mu.Lock()
	l.reorgWaiting = true
	for l.runningKeyed > 0 {
		drained := make(chan struct{})
		l.drained = drained
		l.mu.Unlock()

		select {
		case <-drained:
		case <-ctx.Done():
			l.mu.Lock()
			l.reorgWaiting = false
			l.wakeEligible()
			l.mu.Unlock()
			return ctx.Err()
		}
		l.mu.Lock()
	}
	l.reorgWaiting = false
	l.reorgHeld = true
	l.mu.Unlock()

	err := body()

	l.mu.Lock()
	l.reorgHeld = false
	l.wakeEligible()
	l.mu.Unlock()

	return err
}

// wakeEligible wakes every queued waiter whose key set no longer
// intersects held, unless a reorg is pending or running. It does not
// stop at a waiter that still can't proceed; later waiters with free
// keys are woken past it. A woken waiter re-checks in acquire and, if
// its keys were taken in the meantime, queues again at the back.
func (l *SmartLock) wakeEligible() {
	if l.reorgWaiting || l.reorgHeld {
		return
	}

	remaining := l.waiters[:0]
	for _, w := range l.waiters {
		if !l.intersects(w.keys) {
			close(w.ready)
			continue
		}
		remaining = append(remaining, w)
	}
	l.waiters = remaining
}

func (l *SmartLock) removeWaiter(target *waiter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, w := range l.waiters {
		if w == target {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return
		}
	}
}

func (l *SmartLock) intersects(keys []string) bool {
	for _, k := range keys {
		if _, ok := l.held[k]; ok {
			return true
		}
	}
	return false
}

func normalize(keys []string) []string {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
