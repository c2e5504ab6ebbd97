package engine_test

import (
	"testing"
	"time"

	"github.com/datallboy/gonzbd/internal/engine"
)

func TestSchedulerRunsTasksInOrder(t *testing.T) {
	s := engine.NewScheduler()
	defer s.Close()

	results := make(chan int, 3)
	for i := 1; i <= 3; i++ {
		i := i
		s.Now(func() { results <- i })
	}

	for want := 1; want <= 3; want++ {
		select {
		case got := <-results:
			if got != want {
				t.Fatalf("task order: got %d, want %d", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("task never ran")
		}
	}
}

func TestSchedulerTasksNeverOverlap(t *testing.T) {
	s := engine.NewScheduler()
	defer s.Close()

	var running, maxRunning int
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		last := i == 9
		s.Now(func() {
			// Single-goroutine execution means no other task can be
			// mutating these counters concurrently.
			running++
			if running > maxRunning {
				maxRunning = running
			}
			time.Sleep(time.Millisecond)
			running--
			if last {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tasks did not finish")
	}
	if maxRunning != 1 {
		t.Fatalf("observed %d overlapping tasks", maxRunning)
	}
}

func TestSchedulerAfter(t *testing.T) {
	s := engine.NewScheduler()
	defer s.Close()

	fired := make(chan time.Time, 1)
	start := time.Now()
	s.After(50*time.Millisecond, func() { fired <- time.Now() })

	select {
	case at := <-fired:
		if at.Sub(start) < 50*time.Millisecond {
			t.Fatalf("task fired early after %v", at.Sub(start))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delayed task never ran")
	}
}

func TestSchedulerCloseDropsPending(t *testing.T) {
	s := engine.NewScheduler()
	s.Close()

	// Must not block or panic once closed.
	s.Now(func() { t.Error("task ran after Close") })
	s.Close()
	time.Sleep(20 * time.Millisecond)
}
