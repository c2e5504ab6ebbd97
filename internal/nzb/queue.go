package nzb

import (
	"container/heap"
	"sync"
)

// Priority classes for queued segments. Numerically lower drains
// first: repair fetches always jump ahead of ordinary content.
const (
	PriorityRepair  = 0
	PriorityContent = 10
)

// FetchWorker is the queue's view of one active fetch connection. The
// worker owns at most one segment at a time. Abort disconnects the
// open transfer and marks the connection logged out; a transfer cannot
// be paused, only dropped.
type FetchWorker interface {
	Current() *Segment
	Abort()
}

type queuedSegment struct {
	priority int
	seq      uint64
	segment  *Segment
}

type segmentHeap []*queuedSegment

func (h segmentHeap) Len() int { return len(h) }

func (h segmentHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	// FIFO within a priority class
	return h[i].seq < h[j].seq
}

func (h segmentHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *segmentHeap) Push(x any) { *h = append(*h, x.(*queuedSegment)) }

func (h *segmentHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// DownloadQueue is the thread-safe priority FIFO of segments awaiting
// fetch. The orchestration loop pushes, any number of workers block in
// Pop. It also tracks which files currently have queued segments, and
// keeps the postponed-files index under its own dedicated lock.
type DownloadQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  segmentHeap
	seq    uint64
	files  map[*File]int
	closed bool

	postponedMu sync.Mutex
	postponed   map[*File]struct{}
}

func NewDownloadQueue() *DownloadQueue {
	q := &DownloadQueue{
		files:     make(map[*File]int),
		postponed: make(map[*File]struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a fetch target at the given priority. A file expands
// to all of its segments in sequence order. A segment already in the
// queue is not enqueued twice.
func (q *DownloadQueue) Push(priority int, t FetchTarget) {
	f, seg := t.target()

	q.mu.Lock()
	defer q.mu.Unlock()

	if seg != nil {
		q.pushLocked(priority, f, seg)
	} else {
		for _, s := range f.Segments {
			q.pushLocked(priority, f, s)
		}
	}
	q.cond.Broadcast()
}

func (q *DownloadQueue) pushLocked(priority int, f *File, s *Segment) {
	if s.inQueue {
		return
	}
	s.inQueue = true
	q.seq++
	heap.Push(&q.items, &queuedSegment{priority: priority, seq: q.seq, segment: s})
	q.files[f]++
}

// Pop blocks until a segment is available and returns the lowest
// priority value first, FIFO within a class. Returns false once the
// queue is closed and drained.
func (q *DownloadQueue) Pop() (*Segment, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	return q.popLocked(), true
}

// TryPop is the non-blocking variant.
func (q *DownloadQueue) TryPop() (*Segment, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	return q.popLocked(), true
}

func (q *DownloadQueue) popLocked() *Segment {
	item := heap.Pop(&q.items).(*queuedSegment)
	s := item.segment
	s.inQueue = false
	f := s.File
	if q.files[f] <= 1 {
		delete(q.files, f)
	} else {
		q.files[f]--
	}
	return s
}

// Close releases every blocked Pop. Remaining items still drain.
func (q *DownloadQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *DownloadQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// HasFile reports whether the file currently has queued segments.
func (q *DownloadQueue) HasFile(f *File) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.files[f]
	return ok
}

// HasArchive reports whether any of the archive's files contribute
// fetch units right now.
func (q *DownloadQueue) HasArchive(a *Archive) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for f := range q.files {
		if f.Archive == a {
			return true
		}
	}
	return false
}

// PostponeArchive pulls the archive's still-queued segments out of the
// active queue and moves their files into the postponed index.
func (q *DownloadQueue) PostponeArchive(a *Archive) {
	q.mu.Lock()
	var kept segmentHeap
	var moved []*File
	for _, item := range q.items {
		if item.segment.File.Archive == a {
			item.segment.inQueue = false
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
	heap.Init(&q.items)
	for f := range q.files {
		if f.Archive == a {
			delete(q.files, f)
			moved = append(moved, f)
		}
	}
	q.mu.Unlock()

	q.postponedMu.Lock()
	for _, f := range moved {
		q.postponed[f] = struct{}{}
	}
	q.postponedMu.Unlock()
}

// RemovePostponed drops every postponed entry belonging to the named
// archive and returns how many were dropped.
func (q *DownloadQueue) RemovePostponed(archiveName string) int {
	q.postponedMu.Lock()
	defer q.postponedMu.Unlock()
	var removed int
	for f := range q.postponed {
		if f.Archive.Name == archiveName {
			delete(q.postponed, f)
			removed++
		}
	}
	return removed
}

// PostponedCount reports the size of the postponed-files index.
func (q *DownloadQueue) PostponedCount() int {
	q.postponedMu.Lock()
	defer q.postponedMu.Unlock()
	return len(q.postponed)
}

// CancelArchive flags and aborts every worker mid-fetch on a segment
// of the archive, so none of them finishes into a half-restored
// working directory or requeues a stale unit. Runs under the queue
// lock: worker visibility and the distinct-files bookkeeping must
// change together. Returns whether any worker was cancelled.
func (q *DownloadQueue) CancelArchive(a *Archive, workers []FetchWorker) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	var cancelled []FetchWorker
	for _, w := range workers {
		cur := w.Current()
		if cur != nil && cur.File.Archive == a {
			cur.dontRequeue = true
			cancelled = append(cancelled, w)
		}
	}
	for _, w := range cancelled {
		w.Abort()
	}

	if len(cancelled) > 0 {
		// Stale membership would otherwise claim the archive still
		// contributes fetch units.
		for f := range q.files {
			if f.Archive == a {
				delete(q.files, f)
			}
		}
	}
	return len(cancelled) > 0
}

// DontRequeue reports whether the segment's disconnect was deliberate.
// Checked by workers before putting a dropped segment back.
func (q *DownloadQueue) DontRequeue(s *Segment) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return s.dontRequeue
}
