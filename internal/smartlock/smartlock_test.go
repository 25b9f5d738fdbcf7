package smartlock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithLock_DisjointKeysRunConcurrently(t *testing.T) {
	l := New()

	var running int32
	var maxRunning int32
	release := make(chan struct{})

	run := func(key string) chan struct{} {
		done := make(chan struct{})
		go func() {
			_ = l.WithLock(context.Background(), []string{key}, func() error {
				n := atomic.AddInt32(&running, 1)
				for {
					old := atomic.LoadInt32(&maxRunning)
					if n <= old || atomic.CompareAndSwapInt32(&maxRunning, old, n) {
						break
					}
				}
				<-release
				atomic.AddInt32(&running, -1)
				return nil
			})
			close(done)
		}()
		return done
	}

	d1 := run("a")
	d2 := run("b")

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 2, atomic.LoadInt32(&running))

	close(release)
	<-d1
	<-d2
}

func TestWithLock_IntersectingKeysSerialize(t *testing.T) {
	l := New()

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	started := make(chan struct{})
	release := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = l.WithLock(context.Background(), []string{"tx1", "tx2"}, func() error {
			close(started)
			<-release
			mu.Lock()
			order = append(order, 1)
			mu.Unlock()
			return nil
		})
	}()

	<-started

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = l.WithLock(context.Background(), []string{"tx2", "tx3"}, func() error {
			mu.Lock()
			order = append(order, 2)
			mu.Unlock()
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, []int{1, 2}, order)
}

func TestReorgLock_ExcludesKeyedHolders(t *testing.T) {
	l := New()

	keyedDone := make(chan struct{})
	keyedRelease := make(chan struct{})

	go func() {
		_ = l.WithLock(context.Background(), []string{"tx1"}, func() error {
			close(keyedDone)
			<-keyedRelease
			return nil
		})
	}()
	<-keyedDone

	reorgStarted := make(chan struct{})
	go func() {
		_ = l.ReorgLock(context.Background(), func() error {
			close(reorgStarted)
			return nil
		})
	}()

	select {
	case <-reorgStarted:
		t.Fatal("reorg lock acquired while keyed holder still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(keyedRelease)

	select {
	case <-reorgStarted:
	case <-time.After(time.Second):
		t.Fatal("reorg lock never acquired after keyed holder released")
	}
}

func TestReorgLock_BlocksNewKeyedAcquisitions(t *testing.T) {
	l := New()

	reorgStarted := make(chan struct{})
	reorgRelease := make(chan struct{})

	go func() {
		_ = l.ReorgLock(context.Background(), func() error {
			close(reorgStarted)
			<-reorgRelease
			return nil
		})
	}()
	<-reorgStarted

	keyedAcquired := make(chan struct{})
	go func() {
		_ = l.WithLock(context.Background(), []string{"tx9"}, func() error {
			close(keyedAcquired)
			return nil
		})
	}()

	select {
	case <-keyedAcquired:
		t.Fatal("keyed lock acquired while reorg lock held")
	case <-time.After(50 * time.Millisecond):
	}

	close(reorgRelease)

	select {
	case <-keyedAcquired:
	case <-time.After(time.Second):
		t.Fatal("keyed lock never acquired after reorg released")
	}
}

func TestWithLock_ContextCanceledWhileWaiting(t *testing.T) {
	l := New()

	release := make(chan struct{})
	go func() {
		_ = l.WithLock(context.Background(), []string{"a"}, func() error {
			<-release
			return nil
		})
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.WithLock(ctx, []string{"a"}, func() error {
		t.Fatal("body should not run")
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}
