package engine

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/datallboy/gonzbd/internal/app"
	"github.com/datallboy/gonzbd/internal/infra/logger"
	"github.com/datallboy/gonzbd/internal/nzb"
)

// queueListName is the persisted queue-order file, kept inside the
// queue directory next to the manifests it orders.
const queueListName = ".queue.list"

// QueueManager owns the ordered list of pending archives. Ids are
// assigned once at enqueue time and never reused within a process
// lifetime. Every mutation persists the new order to disk; a failed
// persistence write surfaces to the caller instead of being assumed
// successful.
type QueueManager struct {
	mu       sync.Mutex
	log      *logger.Logger
	queueDir string
	tempDir  string
	listPath string
	queued   []*nzb.Archive
	nextID   int64
	paused   bool
}

func NewQueueManager(ctx *app.Context) *QueueManager {
	queueDir := ctx.Config.Dirs.Queue
	return &QueueManager{
		log:      ctx.Logger.Component("queue"),
		queueDir: queueDir,
		tempDir:  ctx.Config.Dirs.Temp,
		listPath: filepath.Join(queueDir, queueListName),
	}
}

// ValidateManifest performs the basic well-formedness gate applied at
// the queue boundary: the candidate exists, is non-empty, and opens an
// <nzb> document.
func ValidateManifest(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &nzb.ValidationError{Path: path, Reason: "not readable"}
	}
	if !info.Mode().IsRegular() || info.Size() == 0 {
		return &nzb.ValidationError{Path: path, Reason: "not a regular non-empty file"}
	}

	f, err := os.Open(path)
	if err != nil {
		return &nzb.ValidationError{Path: path, Reason: "not readable"}
	}
	defer f.Close()

	head := make([]byte, 8192)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return &nzb.ValidationError{Path: path, Reason: "not readable"}
	}
	if !bytes.Contains(bytes.ToLower(head[:n]), []byte("<nzb")) {
		return &nzb.ValidationError{Path: path, Reason: "no <nzb> document found"}
	}
	return nil
}

// Enqueue validates the candidate, copies it into the queue directory
// if it lives elsewhere, and appends (or prepends) it. Duplicates by
// normalized path are rejected with ErrDuplicate and logged, never
// fatal. Returns the assigned id.
func (m *QueueManager) Enqueue(path string, atFront bool) (int64, error) {
	return m.add(path, atFront, true)
}

// AddScanned is the scanner's enqueue: persistence can be deferred on
// the very first reconciliation tick, where an explicit sort step
// writes the order afterwards.
func (m *QueueManager) AddScanned(path string, persist bool) (int64, error) {
	return m.add(path, false, persist)
}

func (m *QueueManager) add(path string, atFront, persist bool) (int64, error) {
	if err := ValidateManifest(path); err != nil {
		return 0, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, err
	}

	target := filepath.Join(m.queueDir, filepath.Base(abs))
	targetNorm, err := filepath.Abs(target)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.queued {
		if normPath(a.Path) == targetNorm {
			m.log.Error("unable to add %s to the queue: it already exists",
				filepath.Base(abs))
			return 0, nzb.ErrDuplicate
		}
	}

	if filepath.Dir(abs) != normPath(m.queueDir) {
		if err := copyFile(abs, target); err != nil {
			return 0, fmt.Errorf("failed to copy manifest into queue dir: %w", err)
		}
	}

	a := nzb.NewArchive(target)
	m.nextID++
	a.ID = m.nextID

	if atFront {
		m.queued = append([]*nzb.Archive{a}, m.queued...)
	} else {
		m.queued = append(m.queued, a)
	}

	if persist {
		if err := m.writeListLocked(); err != nil {
			return 0, err
		}
	}

	m.log.Info("found new archive: %s", a.Name)
	return a.ID, nil
}

// DequeueByIDs removes matching entries, relocating their backing
// manifests to the temp holding area. Reports whether every id was
// known.
func (m *QueueManager) DequeueByIDs(ids []int64) (bool, error) {
	if len(ids) == 0 {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	allValid := true
	for _, id := range ids {
		i := m.indexOfLocked(id)
		if i < 0 {
			allValid = false
			continue
		}
		a := m.queued[i]
		m.log.Info("dequeueing: %s", a.Name)
		hold := filepath.Join(m.tempDir, filepath.Base(a.Path))
		if err := moveFile(a.Path, hold); err != nil {
			m.log.Error("failed to relocate %s to temp dir: %v", a.Name, err)
		}
		m.queued = append(m.queued[:i], m.queued[i+1:]...)
	}

	if err := m.writeListLocked(); err != nil {
		return allValid, err
	}
	return allValid, nil
}

func (m *QueueManager) MoveToFront(id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOfLocked(id)
	if i < 0 {
		return false, nzb.ErrUnknownID
	}
	a := m.queued[i]
	m.queued = append(m.queued[:i], m.queued[i+1:]...)
	m.queued = append([]*nzb.Archive{a}, m.queued...)
	return true, m.writeListLocked()
}

func (m *QueueManager) MoveToBack(id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOfLocked(id)
	if i < 0 {
		return false, nzb.ErrUnknownID
	}
	a := m.queued[i]
	m.queued = append(m.queued[:i], m.queued[i+1:]...)
	m.queued = append(m.queued, a)
	return true, m.writeListLocked()
}

// MoveToIndex places the entry at the given zero-based position,
// clamped to the current bounds.
func (m *QueueManager) MoveToIndex(id int64, index int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOfLocked(id)
	if i < 0 {
		return false, nzb.ErrUnknownID
	}
	a := m.queued[i]
	m.queued = append(m.queued[:i], m.queued[i+1:]...)
	if index < 0 {
		index = 0
	}
	if index > len(m.queued) {
		index = len(m.queued)
	}
	m.queued = append(m.queued[:index],
		append([]*nzb.Archive{a}, m.queued[index:]...)...)
	return true, m.writeListLocked()
}

// MoveRelative shifts the entry by the given amount. A shift that
// would push it past either end is a no-op: nothing mutates, nothing
// is rewritten.
func (m *QueueManager) MoveRelative(id int64, shift int, down bool) (bool, error) {
	if shift < 0 {
		return false, fmt.Errorf("invalid shift: %d", shift)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOfLocked(id)
	if i < 0 {
		return false, nzb.ErrUnknownID
	}
	if !down && i-shift <= -1 {
		return false, nil
	}
	if down && i+shift >= len(m.queued) {
		return false, nil
	}

	a := m.queued[i]
	m.queued = append(m.queued[:i], m.queued[i+1:]...)
	j := i - shift
	if down {
		j = i + shift
	}
	m.queued = append(m.queued[:j],
		append([]*nzb.Archive{a}, m.queued[j:]...)...)
	return true, m.writeListLocked()
}

// Listing returns id and display-name pairs in current queue order.
func (m *QueueManager) Listing() []app.QueueEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]app.QueueEntry, 0, len(m.queued))
	for _, a := range m.queued {
		entries = append(entries, app.QueueEntry{ID: a.ID, Name: a.Name})
	}
	return entries
}

// PopFront removes and returns the next archive to activate.
func (m *QueueManager) PopFront() (*nzb.Archive, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queued) == 0 {
		return nil, errors.New("queue is empty")
	}
	a := m.queued[0]
	m.queued = m.queued[1:]
	return a, m.writeListLocked()
}

// Known reports whether the normalized path is already queued.
func (m *QueueManager) Known(path string) bool {
	norm := normPath(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.queued {
		if normPath(a.Path) == norm {
			return true
		}
	}
	return false
}

// DropMissing removes in-memory entries whose backing manifest is no
// longer on disk. Memory-only: the next persisted mutation writes the
// corrected order.
func (m *QueueManager) DropMissing() {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.queued[:0]
	for _, a := range m.queued {
		if _, err := os.Stat(a.Path); err == nil {
			kept = append(kept, a)
		} else {
			m.log.Info("archive %s disappeared from the queue dir", a.Name)
		}
	}
	m.queued = kept
}

// SortFromDisk reorders the in-memory queue to match the persisted
// order: listed entries first in list order, unknown survivors
// appended in scan order, listed-but-missing entries dropped. The
// result is persisted.
func (m *QueueManager) SortFromDisk() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, err := m.readListLocked()
	if err != nil {
		return err
	}

	unsorted := make([]*nzb.Archive, len(m.queued))
	copy(unsorted, m.queued)

	var arranged []*nzb.Archive
	for _, line := range order {
		for i, a := range unsorted {
			if a != nil && filepath.Base(a.Path) == line {
				arranged = append(arranged, a)
				unsorted[i] = nil
				break
			}
		}
	}
	for _, a := range unsorted {
		if a != nil {
			arranged = append(arranged, a)
		}
	}
	m.queued = arranged

	return m.writeListLocked()
}

// Persist rewrites the order file from the current in-memory queue.
func (m *QueueManager) Persist() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeListLocked()
}

func (m *QueueManager) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
}

func (m *QueueManager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = false
}

func (m *QueueManager) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

func (m *QueueManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queued)
}

func (m *QueueManager) indexOfLocked(id int64) int {
	for i, a := range m.queued {
		if a.ID == id {
			return i
		}
	}
	return -1
}

// writeListLocked persists one base name per line in queue order.
// Duplicates should be structurally impossible, but persistence must
// not amplify a bug into a corrupt file, so it de-dups and warns.
func (m *QueueManager) writeListLocked() error {
	var names []string
	seen := make(map[string]bool)
	dupes := false
	for _, a := range m.queued {
		name := filepath.Base(a.Path)
		if seen[name] {
			dupes = true
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	if dupes {
		m.log.Warn("found duplicates in queue while writing to disk: %v", names)
	}

	var buf bytes.Buffer
	for _, name := range names {
		buf.WriteString(name)
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(m.listPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to persist queue order: %w", err)
	}
	return nil
}

func (m *QueueManager) readListLocked() ([]string, error) {
	f, err := os.Open(m.listPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

func normPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	return abs
}
