package engine

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/datallboy/gonzbd/internal/app"
	"github.com/datallboy/gonzbd/internal/infra/config"
	"github.com/datallboy/gonzbd/internal/infra/logger"
	"github.com/datallboy/gonzbd/internal/nzb"
	"github.com/segmentio/ksuid"
)

// PostponedLoader restores a previously set-aside archive's partial
// working state. The ordering inside Load is deliberate: restore the
// directory first, then purge the postponed index, then cancel stale
// workers. A worker that finishes mid-swap must never write into a
// half-restored directory or re-derive a name from the previous
// generation of on-disk state.
type PostponedLoader struct {
	Dirs    config.DirsConfig
	Queue   *nzb.DownloadQueue
	Workers app.WorkerPool
	Store   app.Store
	Log     *logger.Logger
}

// Load checks the postponed holding area for a directory matching the
// archive's display name and swaps it into the working area. Returns
// true if a directory was restored, whether or not any worker had to
// be cancelled.
func (l *PostponedLoader) Load(a *nzb.Archive) (bool, error) {
	held := filepath.Join(l.Dirs.Postponed, a.Name)
	if !dirExists(held) {
		return false, nil
	}

	if err := l.clearWorkingDir(); err != nil {
		return false, err
	}
	if err := moveDir(held, l.Dirs.Working); err != nil {
		return false, err
	}

	removed := l.Queue.RemovePostponed(a.Name)
	if removed > 0 {
		l.Log.Debug("unpostponed %d files for %s", removed, a.Name)
	}

	var workers []nzb.FetchWorker
	if l.Workers != nil {
		workers = l.Workers.Active()
	}
	if l.Queue.CancelArchive(a, workers) {
		l.Log.Debug("aborted stale fetches to ensure a safe postponed load of %s",
			a.Name)
	}

	l.Log.Info("loaded postponed directory: %s", a.Name)
	if l.Store != nil {
		if err := l.Store.RecordEvent(a.Name, "postponed-restored", ""); err != nil {
			l.Log.Warn("failed to record history for %s: %v", a.Name, err)
		}
	}
	return true, nil
}

// clearWorkingDir makes room for the swap. Stray leftovers from a
// prior run are relocated into the temp area under a name derived from
// their first entry.
func (l *PostponedLoader) clearWorkingDir() error {
	entries, err := os.ReadDir(l.Dirs.Working)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if len(entries) == 0 {
		return os.Remove(l.Dirs.Working)
	}

	name := entries[0].Name()
	if ext := filepath.Ext(name); ext != "" {
		name = strings.TrimSuffix(name, ext)
	}
	if name == "" {
		name = "stray-working-" + ksuid.New().String()
	}
	dest := filepath.Join(l.Dirs.Temp, name)
	if _, err := os.Stat(dest); err == nil {
		dest = dest + "-" + ksuid.New().String()
	}

	l.Log.Warn("relocating stray working dir contents to %s", dest)
	return moveDir(l.Dirs.Working, dest)
}
