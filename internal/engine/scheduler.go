package engine

import (
	"sync"
	"time"
)

// Scheduler is the orchestration domain's only timing primitive: a
// single goroutine runs every submitted task, so no two orchestration
// operations ever overlap. Components reschedule themselves through it
// rather than calling each other across tick boundaries.
type Scheduler struct {
	tasks   chan func()
	stopped chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func NewScheduler() *Scheduler {
	s := &Scheduler{
		tasks:   make(chan func(), 64),
		stopped: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		select {
		case fn := <-s.tasks:
			fn()
		case <-s.stopped:
			return
		}
	}
}

// Now submits a task for the next free slot on the loop.
func (s *Scheduler) Now(fn func()) {
	select {
	case s.tasks <- fn:
	case <-s.stopped:
	}
}

// After submits a task once the delay elapses. Tasks scheduled after
// Close are dropped.
func (s *Scheduler) After(d time.Duration, fn func()) {
	time.AfterFunc(d, func() {
		s.Now(fn)
	})
}

// Close stops the loop. In-flight tasks finish; pending ones drop.
func (s *Scheduler) Close() {
	s.once.Do(func() { close(s.stopped) })
	s.wg.Wait()
}
