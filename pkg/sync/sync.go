// Package sync provides the small concurrency primitives the fetch engine
// needs beyond the standard library: a resizable counting semaphore for
// bounding batch concurrency, a wait group that can time out, and a
// close-once stop channel for broadcasting cancellation.
package sync

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// TimeoutGroup is similar to sync.WaitGroup but Wait can also time out.
//
// WARNING: not safe to Wait from multiple goroutines concurrently, and not
// meant to be reused across rounds.
type TimeoutGroup struct {
	jobsLeft  atomic.Int32
	postedFin atomic.Int32
	fin       chan struct{}
}

func NewTimeoutGroup() *TimeoutGroup {
	return &TimeoutGroup{fin: make(chan struct{}, 1)}
}

func (tg *TimeoutGroup) Add(delta int) { tg.jobsLeft.Add(int32(delta)) }

func (tg *TimeoutGroup) Wait() { tg.WaitTimeoutWithStop(24*time.Hour, nil) }

func (tg *TimeoutGroup) WaitTimeout(timeout time.Duration) (timedOut bool) {
	timedOut, _ = tg.WaitTimeoutWithStop(timeout, nil)
	return
}

func (tg *TimeoutGroup) WaitTimeoutWithStop(timeout time.Duration, stop <-chan struct{}) (timedOut, stopped bool) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-tg.fin:
		tg.postedFin.Store(0)
	case <-t.C:
		timedOut = true
	case <-stop:
		stopped = true
	}
	return
}

func (tg *TimeoutGroup) Done() {
	if left := tg.jobsLeft.Dec(); left == 0 {
		if posted := tg.postedFin.Swap(1); posted == 0 {
			tg.fin <- struct{}{}
		}
	} else if left < 0 {
		panic(fmt.Sprintf("sync: jobs left went below zero: %d", left))
	}
}

// StopCh is a channel that can be closed exactly once, to broadcast
// cancellation to every listener. No strategy in fetch uses it.
type StopCh struct {
	once sync.Once
	ch   chan struct{}
}

func NewStopCh() *StopCh { return &StopCh{ch: make(chan struct{})} }

func (sc *StopCh) Listen() <-chan struct{} { return sc.ch }

func (sc *StopCh) Close() { sc.once.Do(func() { close(sc.ch) }) }

// DynSemaphore is a counting semaphore whose capacity can be resized while
// in use; BatchFetcher uses it to bound concurrency.
type DynSemaphore struct {
	size int
	cur  int
	c    *sync.Cond
	mu   sync.Mutex
}

func NewDynSemaphore(n int) *DynSemaphore {
	s := &DynSemaphore{size: n}
	s.c = sync.NewCond(&s.mu)
	return s
}

func (s *DynSemaphore) SetSize(n int) {
	if n < 1 {
		panic("sync: semaphore size must be >= 1")
	}
	s.mu.Lock()
	s.size = n
	s.mu.Unlock()
	s.c.Broadcast()
}

func (s *DynSemaphore) Acquire() {
	s.mu.Lock()
	for s.cur+1 > s.size {
		s.c.Wait()
	}
	s.cur++
	s.mu.Unlock()
}

func (s *DynSemaphore) Release() {
	s.mu.Lock()
	if s.cur == 0 {
		s.mu.Unlock()
		panic("sync: semaphore released more times than acquired")
	}
	s.cur--
	s.c.Signal()
	s.mu.Unlock()
}

// LimitedWaitGroup combines a WaitGroup with a DynSemaphore so callers can
// spawn goroutines without overrunning a concurrency cap.
type LimitedWaitGroup struct {
	wg   sync.WaitGroup
	sema *DynSemaphore
}

func NewLimitedWaitGroup(n int) *LimitedWaitGroup {
	return &LimitedWaitGroup{sema: NewDynSemaphore(n)}
}

func (l *LimitedWaitGroup) Add() {
	l.sema.Acquire()
	l.wg.Add(1)
}

func (l *LimitedWaitGroup) Done() {
	l.wg.Done()
	l.sema.Release()
}

func (l *LimitedWaitGroup) Wait() { l.wg.Wait() }
