package engine_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/datallboy/gonzbd/internal/engine"
	"github.com/datallboy/gonzbd/internal/infra/logger"
	"github.com/datallboy/gonzbd/internal/nzb"
)

type stubWorker struct {
	current *nzb.Segment
	aborted bool
}

func (w *stubWorker) Current() *nzb.Segment { return w.current }
func (w *stubWorker) Abort()                { w.aborted = true }

func newLoader(t *testing.T) (*engine.PostponedLoader, *memStore, *memPool) {
	t.Helper()
	ctx := newTestContext(t)
	store := &memStore{}
	pool := &memPool{}
	return &engine.PostponedLoader{
		Dirs:    ctx.Config.Dirs,
		Queue:   ctx.Downloads,
		Workers: pool,
		Store:   store,
		Log:     logger.NewWriter(io.Discard, logger.LevelError),
	}, store, pool
}

func TestLoadNoPostponedState(t *testing.T) {
	l, _, _ := newLoader(t)
	a := nzb.NewArchive("/queue/nothing.nzb")

	loaded, err := l.Load(a)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded {
		t.Fatal("Load reported a restore with no held directory")
	}
}

func TestLoadRestoresHeldDirectory(t *testing.T) {
	l, store, _ := newLoader(t)
	a := nzb.NewArchive("/queue/comeback.nzb")

	held := filepath.Join(l.Dirs.Postponed, a.Name)
	if err := os.MkdirAll(held, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(held, "partial.rar.segment0001"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	// Stray content from an unrelated run occupies the working area.
	if err := os.WriteFile(filepath.Join(l.Dirs.Working, "stray.bin"), []byte("y"), 0644); err != nil {
		t.Fatal(err)
	}

	// The archive also has files parked in the postponed index.
	f := nzb.NewFile("subject", 0, "poster", a)
	nzb.NewSegment(100, 1, "one@example", f)
	l.Queue.Push(nzb.PriorityContent, f)
	l.Queue.PostponeArchive(a)
	if l.Queue.PostponedCount() != 1 {
		t.Fatal("setup: expected one postponed file")
	}

	loaded, err := l.Load(a)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !loaded {
		t.Fatal("Load did not report the restore")
	}

	if _, err := os.Stat(filepath.Join(l.Dirs.Working, "partial.rar.segment0001")); err != nil {
		t.Fatalf("held content not restored into the working area: %v", err)
	}
	if _, err := os.Stat(held); !os.IsNotExist(err) {
		t.Fatal("held directory still present after restore")
	}
	if _, err := os.Stat(filepath.Join(l.Dirs.Temp, "stray", "stray.bin")); err != nil {
		t.Fatalf("stray working content not relocated: %v", err)
	}
	if l.Queue.PostponedCount() != 0 {
		t.Fatal("postponed index not purged")
	}
	if !store.has("postponed-restored") {
		t.Fatal("restore not recorded in history")
	}
}

func TestLoadCancelsStaleWorkers(t *testing.T) {
	l, _, pool := newLoader(t)
	a := nzb.NewArchive("/queue/busy.nzb")
	f := nzb.NewFile("subject", 0, "poster", a)
	seg := nzb.NewSegment(100, 1, "one@example", f)

	other := nzb.NewArchive("/queue/other.nzb")
	otherSeg := nzb.NewSegment(100, 1, "two@example", nzb.NewFile("s", 0, "p", other))

	busy := &stubWorker{current: seg}
	bystander := &stubWorker{current: otherSeg}
	pool.active = []nzb.FetchWorker{busy, bystander}

	if err := os.MkdirAll(filepath.Join(l.Dirs.Postponed, a.Name), 0755); err != nil {
		t.Fatal(err)
	}

	loaded, err := l.Load(a)
	if err != nil || !loaded {
		t.Fatalf("Load = %v, %v", loaded, err)
	}
	if !busy.aborted {
		t.Fatal("worker mid-fetch on the archive was not disconnected")
	}
	if bystander.aborted {
		t.Fatal("worker on another archive was disconnected")
	}
	if !l.Queue.DontRequeue(seg) {
		t.Fatal("cancelled segment may requeue a stale unit")
	}
}
