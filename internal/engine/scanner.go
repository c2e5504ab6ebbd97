package engine

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/datallboy/gonzbd/internal/app"
	"github.com/datallboy/gonzbd/internal/infra/logger"
	"github.com/datallboy/gonzbd/internal/nzb"
)

// Scanner is the recurring reconciliation loop: it keeps the archive
// queue in sync with the queue directory, resumes an in-flight
// manifest after a restart, and promotes the next pending archive to
// active. It runs entirely on the Scheduler's goroutine.
type Scanner struct {
	ctx    *app.Context
	sched  *Scheduler
	qm     *QueueManager
	parser *nzb.Parser
	reload *PostponedLoader
	log    *logger.Logger

	interval  time.Duration
	idleDelay time.Duration

	// Only touched on the scheduler goroutine.
	firstRun bool
	active   *nzb.Archive
}

func NewScanner(ctx *app.Context, sched *Scheduler, qm *QueueManager,
	parser *nzb.Parser, reload *PostponedLoader) *Scanner {
	return &Scanner{
		ctx:       ctx,
		sched:     sched,
		qm:        qm,
		parser:    parser,
		reload:    reload,
		log:       ctx.Logger.Component("scanner"),
		interval:  time.Duration(ctx.Config.Scan.IntervalSeconds) * time.Second,
		idleDelay: time.Duration(ctx.Config.Scan.IdleDelaySeconds) * time.Second,
		firstRun:  true,
	}
}

// Start schedules the first tick immediately.
func (s *Scanner) Start() {
	s.sched.Now(s.tick)
}

func (s *Scanner) tick() {
	delay := s.scan()
	s.sched.After(delay, s.tick)
}

// scan performs one reconciliation pass and returns the delay until
// the next one. Errors local to one archive never abort the loop.
func (s *Scanner) scan() time.Duration {
	currents := listManifests(s.ctx.Config.Dirs.Current)

	newFound := s.reconcileQueueDir()
	s.qm.DropMissing()

	if s.firstRun {
		// Deferred persistence: apply the order file from the previous
		// run before the first write.
		if err := s.qm.SortFromDisk(); err != nil {
			s.log.Error("failed to sort queue from disk: %v", err)
		}
		s.firstRun = false
	}

	if s.active != nil {
		for _, c := range currents {
			if c == s.active.Path {
				// Still downloading; nothing to promote.
				return s.interval
			}
		}
		// Manifest left the active area: the archive finished or was
		// discarded.
		s.active = nil
	}

	if len(currents) > 0 {
		// A leftover manifest in the active area wins over the pending
		// queue: resume it.
		a := nzb.NewArchive(currents[0])
		s.activate(a, "Resuming", true)
		return s.interval
	}

	if s.qm.Len() == 0 || s.qm.Paused() {
		return s.idleDelay
	}

	a, err := s.qm.PopFront()
	if err != nil {
		s.log.Error("failed to pop next archive: %v", err)
		return s.idleDelay
	}

	activePath := filepath.Join(s.ctx.Config.Dirs.Current, filepath.Base(a.Path))
	if err := moveFile(a.Path, activePath); err != nil {
		s.log.Error("failed to move %s into the active area: %v", a.Name, err)
		return s.idleDelay
	}
	a.Path = activePath

	// Skip the extra notification when the queue was empty and exactly
	// one manifest was just discovered; "found new archive" already
	// said everything.
	notify := !(newFound == 1 && s.qm.Len() == 0)
	s.activate(a, "Downloading", notify)
	return s.interval
}

// reconcileQueueDir enqueues anything on disk the queue doesn't know
// about and returns how many new manifests were found.
func (s *Scanner) reconcileQueueDir() int {
	var newFound int
	for _, path := range listManifests(s.ctx.Config.Dirs.Queue) {
		if s.qm.Known(path) {
			continue
		}
		if _, err := s.qm.AddScanned(path, !s.firstRun); err != nil {
			if !errors.Is(err, nzb.ErrDuplicate) {
				s.log.Error("failed to enqueue %s: %v", filepath.Base(path), err)
			}
			continue
		}
		newFound++
	}
	return newFound
}

// activate restores any postponed state for the archive, parses its
// manifest and kicks the worker pool when fetch units were queued. A
// parse failure relocates the manifest to the temp area and leaves the
// loop running.
func (s *Scanner) activate(a *nzb.Archive, verb string, notify bool) {
	if err := s.qm.Persist(); err != nil {
		s.log.Error("failed to persist queue order: %v", err)
	}

	if notify {
		s.log.Info("%s: %s", verb, a.Name)
		if s.ctx.Notifier != nil {
			s.ctx.Notifier.Notify(verb, a.Name)
		}
	}

	if s.reload != nil {
		if _, err := s.reload.Load(a); err != nil {
			s.log.Error("failed to load postponed state for %s: %v", a.Name, err)
		}
	}

	s.log.Info("parsing: %s", filepath.Base(a.Path))
	queued, err := s.parser.Parse(a)
	if err != nil {
		s.log.Error("problem while parsing the archive: %v", err)
		s.discard(a)
		return
	}

	s.active = a
	if s.ctx.Store != nil {
		event := "activated"
		if verb == "Resuming" {
			event = "resumed"
		}
		if err := s.ctx.Store.RecordEvent(a.Name, event, ""); err != nil {
			s.log.Warn("failed to record history for %s: %v", a.Name, err)
		}
	}

	if queued && s.ctx.Workers != nil {
		s.ctx.Workers.Begin()
	}
}

func (s *Scanner) discard(a *nzb.Archive) {
	dest := filepath.Join(s.ctx.Config.Dirs.Temp, filepath.Base(a.Path))
	s.log.Error("moving bad archive out of the active area: %s", dest)
	if err := moveFile(a.Path, dest); err != nil {
		s.log.Error("failed to discard %s: %v", a.Name, err)
	}
	if s.ctx.Store != nil {
		if err := s.ctx.Store.RecordEvent(a.Name, "discarded", "parse failure"); err != nil {
			s.log.Warn("failed to record history for %s: %v", a.Name, err)
		}
	}
}

func listManifests(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && nzb.IsManifest(e.Name()) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths
}
