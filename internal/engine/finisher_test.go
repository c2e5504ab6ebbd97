package engine_test

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/datallboy/gonzbd/internal/engine"
	"github.com/datallboy/gonzbd/internal/infra/logger"
	"github.com/datallboy/gonzbd/internal/nzb"
)

func newCompletion(t *testing.T) (*engine.Completion, *memStore) {
	t.Helper()
	ctx := newTestContext(t)
	store := &memStore{}
	return &engine.Completion{
		Resolver: &nzb.Resolver{WorkingDir: ctx.Config.Dirs.Working},
		Dirs:     ctx.Config.Dirs,
		Store:    store,
		Log:      logger.NewWriter(io.Discard, logger.LevelError),
	}, store
}

func TestTryFinishIncomplete(t *testing.T) {
	c, store := newCompletion(t)

	a := nzb.NewArchive(filepath.Join(t.TempDir(), "partial.nzb"))
	nzb.NewFile("subject one", 0, "poster", a)
	nzb.NewFile("subject two", 0, "poster", a)

	// Only the first file's bytes are on disk.
	if err := os.WriteFile(filepath.Join(c.Resolver.WorkingDir, "gonzbd-tmp-partial.file0001"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	finished, err := c.TryFinish(a)
	if err != nil {
		t.Fatalf("TryFinish failed: %v", err)
	}
	if finished {
		t.Fatal("archive with a missing file reported finished")
	}
	if store.has("finished") {
		t.Fatal("incomplete archive recorded as finished")
	}
}

func TestTryFinishMovesFilesAndRetiresManifest(t *testing.T) {
	c, store := newCompletion(t)

	manifest := filepath.Join(t.TempDir(), "done.nzb")
	if err := os.WriteFile(manifest, []byte("<nzb/>"), 0644); err != nil {
		t.Fatal(err)
	}
	a := nzb.NewArchive(manifest)
	nzb.NewFile("subject one", 0, "poster", a)
	nzb.NewFile("subject two", 0, "poster", a)

	for _, name := range []string{"gonzbd-tmp-done.file0001", "gonzbd-tmp-done.file0002"} {
		if err := os.WriteFile(filepath.Join(c.Resolver.WorkingDir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	finished, err := c.TryFinish(a)
	if err != nil {
		t.Fatalf("TryFinish failed: %v", err)
	}
	if !finished {
		t.Fatal("complete archive not reported finished")
	}

	for _, name := range []string{"gonzbd-tmp-done.file0001", "gonzbd-tmp-done.file0002"} {
		if _, err := os.Stat(filepath.Join(c.Dirs.Dest, name)); err != nil {
			t.Fatalf("file not moved to the destination: %v", err)
		}
		if _, err := os.Stat(filepath.Join(c.Resolver.WorkingDir, name)); !os.IsNotExist(err) {
			t.Fatal("file still in the working area")
		}
	}
	if _, err := os.Stat(manifest); !os.IsNotExist(err) {
		t.Fatal("manifest not retired")
	}
	if !store.has("finished") {
		t.Fatal("finish not recorded in history")
	}
}

func TestTryFinishConcurrentCallersMoveOnce(t *testing.T) {
	// The parser and several fetch workers can all notice completion at
	// the same moment; exactly one of them gets to move the files.
	c, store := newCompletion(t)

	manifest := filepath.Join(t.TempDir(), "race.nzb")
	if err := os.WriteFile(manifest, []byte("<nzb/>"), 0644); err != nil {
		t.Fatal(err)
	}
	a := nzb.NewArchive(manifest)
	nzb.NewFile("subject one", 0, "poster", a)
	nzb.NewFile("subject two", 0, "poster", a)
	for _, name := range []string{"gonzbd-tmp-race.file0001", "gonzbd-tmp-race.file0002"} {
		if err := os.WriteFile(filepath.Join(c.Resolver.WorkingDir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	const callers = 4
	var finished atomic.Int32
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := c.TryFinish(a)
			if ok {
				finished.Add(1)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("TryFinish failed: %v", err)
		}
	}
	if got := finished.Load(); got != 1 {
		t.Fatalf("finished reported by %d callers, want 1", got)
	}
	for _, name := range []string{"gonzbd-tmp-race.file0001", "gonzbd-tmp-race.file0002"} {
		if _, err := os.Stat(filepath.Join(c.Dirs.Dest, name)); err != nil {
			t.Fatalf("file not moved to the destination: %v", err)
		}
	}
	if !store.has("finished") {
		t.Fatal("finish not recorded in history")
	}
}

func TestTryFinishUnresolvableFileIsNotFatal(t *testing.T) {
	c, _ := newCompletion(t)

	a := nzb.NewArchive("/queue/odd.nzb")
	f := nzb.NewFile("subject", 0, "poster", a)
	// First known segment is not segment 1 and carries no payload, so
	// no name can be derived yet.
	nzb.NewSegment(100, 2, "two@example", f)

	finished, err := c.TryFinish(a)
	if err != nil {
		t.Fatalf("TryFinish must swallow resolution misses, got %v", err)
	}
	if finished {
		t.Fatal("unresolvable archive reported finished")
	}
}

func TestTryFinishEmptyArchive(t *testing.T) {
	c, _ := newCompletion(t)
	a := nzb.NewArchive("/queue/hollow.nzb")

	finished, err := c.TryFinish(a)
	if err != nil || finished {
		t.Fatalf("empty archive: finished=%v err=%v", finished, err)
	}
}
