package engine_test

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/datallboy/gonzbd/internal/app"
	"github.com/datallboy/gonzbd/internal/engine"
	"github.com/datallboy/gonzbd/internal/infra/logger"
	"github.com/datallboy/gonzbd/internal/nzb"
)

type memStore struct {
	mu     sync.Mutex
	events []app.Event
}

func (s *memStore) RecordEvent(archive, event, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, app.Event{Archive: archive, Event: event, Detail: detail})
	return nil
}

func (s *memStore) RecentEvents(limit int) ([]app.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]app.Event, len(s.events))
	copy(out, s.events)
	return out, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) has(event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.Event == event {
			return true
		}
	}
	return false
}

type memNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *memNotifier) Notify(event, name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, event+" "+name)
}

func (n *memNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type memPool struct {
	mu     sync.Mutex
	begun  int
	active []nzb.FetchWorker
}

func (p *memPool) Begin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.begun++
}

func (p *memPool) Active() []nzb.FetchWorker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *memPool) begunCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.begun
}

type scannerHarness struct {
	ctx     *app.Context
	qm      *engine.QueueManager
	sched   *engine.Scheduler
	scanner *engine.Scanner
	store   *memStore
	pool    *memPool
}

func newScannerHarness(t *testing.T) *scannerHarness {
	t.Helper()
	ctx := newTestContext(t)
	store := &memStore{}
	pool := &memPool{}
	ctx.Store = store
	ctx.Workers = pool

	qm := engine.NewQueueManager(ctx)
	ctx.Queue = qm

	parser := &nzb.Parser{
		Queue: ctx.Downloads,
		Resolver: &nzb.Resolver{
			WorkingDir: ctx.Config.Dirs.Working,
		},
		Log: logger.NewWriter(io.Discard, logger.LevelError),
	}
	reload := &engine.PostponedLoader{
		Dirs:    ctx.Config.Dirs,
		Queue:   ctx.Downloads,
		Workers: pool,
		Store:   store,
		Log:     logger.NewWriter(io.Discard, logger.LevelError),
	}

	sched := engine.NewScheduler()
	t.Cleanup(sched.Close)

	return &scannerHarness{
		ctx:     ctx,
		qm:      qm,
		sched:   sched,
		scanner: engine.NewScanner(ctx, sched, qm, parser, reload),
		store:   store,
		pool:    pool,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestScannerActivatesQueuedManifest(t *testing.T) {
	h := newScannerHarness(t)
	writeNZB(t, h.ctx.Config.Dirs.Queue, "fresh")

	h.scanner.Start()

	active := filepath.Join(h.ctx.Config.Dirs.Current, "fresh.nzb")
	waitFor(t, "manifest to enter the active area", func() bool {
		_, err := os.Stat(active)
		return err == nil
	})
	waitFor(t, "fetch units to be queued", func() bool {
		return h.ctx.Downloads.Len() == 1
	})
	waitFor(t, "worker pool kick", func() bool {
		return h.pool.begunCount() > 0
	})
	waitFor(t, "history event", func() bool {
		return h.store.has("activated")
	})
	if h.qm.Len() != 0 {
		t.Fatalf("pending queue length = %d, want 0", h.qm.Len())
	}
}

func TestScannerResumesLeftoverManifest(t *testing.T) {
	h := newScannerHarness(t)
	// A manifest sitting in the active area from a previous run wins
	// over anything pending.
	writeNZB(t, h.ctx.Config.Dirs.Current, "leftover")
	writeNZB(t, h.ctx.Config.Dirs.Queue, "pending")

	h.scanner.Start()

	waitFor(t, "resume event", func() bool {
		return h.store.has("resumed")
	})
	if _, err := os.Stat(filepath.Join(h.ctx.Config.Dirs.Queue, "pending.nzb")); err != nil {
		t.Fatal("pending manifest must stay queued while another resumes")
	}
}

func TestScannerDiscardsUnparsableManifest(t *testing.T) {
	h := newScannerHarness(t)
	bad := filepath.Join(h.ctx.Config.Dirs.Current, "broken.nzb")
	if err := os.WriteFile(bad, []byte("<nzb><file></nzb>"), 0644); err != nil {
		t.Fatal(err)
	}

	h.scanner.Start()

	waitFor(t, "discard event", func() bool {
		return h.store.has("discarded")
	})
	waitFor(t, "manifest relocation", func() bool {
		_, err := os.Stat(filepath.Join(h.ctx.Config.Dirs.Temp, "broken.nzb"))
		return err == nil
	})
	if _, err := os.Stat(bad); !os.IsNotExist(err) {
		t.Fatal("bad manifest still in the active area")
	}
}

func TestScannerSkipsDegenerateNotification(t *testing.T) {
	h := newScannerHarness(t)
	notifier := &memNotifier{}
	h.ctx.Notifier = notifier

	// Exactly one new manifest found with nothing else pending: the
	// activation is self-evident and not announced a second time.
	writeNZB(t, h.ctx.Config.Dirs.Queue, "only")
	h.scanner.Start()

	waitFor(t, "activation", func() bool {
		return h.store.has("activated")
	})
	if notifier.count() != 0 {
		t.Fatalf("degenerate activation was notified %d times", notifier.count())
	}
}

func TestScannerNotifiesWhenQueueRemains(t *testing.T) {
	h := newScannerHarness(t)
	notifier := &memNotifier{}
	h.ctx.Notifier = notifier

	writeNZB(t, h.ctx.Config.Dirs.Queue, "aaa")
	writeNZB(t, h.ctx.Config.Dirs.Queue, "bbb")
	h.scanner.Start()

	waitFor(t, "notification", func() bool {
		return notifier.count() > 0
	})
}

func TestScannerHonorsPause(t *testing.T) {
	h := newScannerHarness(t)
	h.qm.Pause()
	writeNZB(t, h.ctx.Config.Dirs.Queue, "parked")

	h.scanner.Start()

	// Give a couple of idle cycles a chance to run.
	time.Sleep(100 * time.Millisecond)
	if h.store.has("activated") {
		t.Fatal("paused queue must not activate archives")
	}
	if h.qm.Len() != 1 {
		t.Fatalf("pending queue length = %d, want 1", h.qm.Len())
	}
}
