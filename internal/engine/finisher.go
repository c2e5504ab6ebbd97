package engine

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/datallboy/gonzbd/internal/app"
	"github.com/datallboy/gonzbd/internal/infra/config"
	"github.com/datallboy/gonzbd/internal/infra/logger"
	"github.com/datallboy/gonzbd/internal/nzb"
)

// Completion decides whether an archive's files are all on disk and,
// if so, moves them to the destination directory and retires the
// manifest. Extraction, repair and notification hooks sit behind this
// boundary and are not part of this core.
type Completion struct {
	Resolver *nzb.Resolver
	Dirs     config.DirsConfig
	Store    app.Store
	Log      *logger.Logger

	// mu serializes finish attempts: several fetch workers and the
	// parser can all check the same archive as its last segments land,
	// and the existence checks plus the moves must not interleave.
	mu sync.Mutex
}

// TryFinish reports whether the archive finished. An unresolved file
// keeps the archive unfinished rather than failing the check.
func (c *Completion) TryFinish(a *nzb.Archive) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var dests []string
	for _, f := range a.Files {
		dest, err := c.Resolver.Destination(f)
		if err != nil {
			var resErr *nzb.ResolutionError
			if errors.As(err, &resErr) {
				return false, nil
			}
			return false, err
		}
		if !fileExists(dest) {
			return false, nil
		}
		dests = append(dests, dest)
	}
	if len(dests) == 0 {
		return false, nil
	}

	for _, dest := range dests {
		final := filepath.Join(c.Dirs.Dest, filepath.Base(dest))
		if err := moveFile(dest, final); err != nil {
			return false, err
		}
	}

	// Retire the manifest so the scanner stops treating the archive
	// as active.
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		c.Log.Warn("failed to remove finished manifest %s: %v", a.Path, err)
	}

	c.Log.Info("finished archive: %s (%d files)", a.Name, len(dests))
	if c.Store != nil {
		if err := c.Store.RecordEvent(a.Name, "finished", ""); err != nil {
			c.Log.Warn("failed to record history for %s: %v", a.Name, err)
		}
	}
	return true, nil
}
