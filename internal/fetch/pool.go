package fetch

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/datallboy/gonzbd/internal/infra/logger"
	"github.com/datallboy/gonzbd/internal/inspect"
	"github.com/datallboy/gonzbd/internal/nzb"
)

const maxRetries = 3

var errCancelled = errors.New("transfer cancelled")

// Fetcher is the wire-protocol boundary: it turns a segment into raw
// article payload. Implementations own connections, authentication and
// rate handling.
type Fetcher interface {
	Fetch(ctx context.Context, seg *nzb.Segment) ([]byte, error)
}

// FetcherFunc adapts a plain function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, seg *nzb.Segment) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, seg *nzb.Segment) ([]byte, error) {
	return f(ctx, seg)
}

// Finisher is consulted when a file's last segment lands, so a
// completed archive can retire without waiting for the next scan.
type Finisher interface {
	TryFinish(a *nzb.Archive) (bool, error)
}

// Pool drains the download queue with a fixed number of workers. Each
// worker owns at most one segment at a time and honors the
// do-not-requeue flag set during safe cancellation.
type Pool struct {
	queue    *nzb.DownloadQueue
	resolver *nzb.Resolver
	fetcher  Fetcher
	finisher Finisher
	log      *logger.Logger
	size     int

	mu      sync.Mutex
	workers []*worker
	started bool
	retries map[*nzb.Segment]int
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewPool(size int, queue *nzb.DownloadQueue, resolver *nzb.Resolver,
	fetcher Fetcher, finisher Finisher, log *logger.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		queue:    queue,
		resolver: resolver,
		fetcher:  fetcher,
		finisher: finisher,
		log:      log.Component("fetch"),
		size:     size,
		retries:  make(map[*nzb.Segment]int),
	}
}

// Begin starts the workers on first use. Later calls are a nudge and a
// no-op: idle workers already block in Pop.
func (p *Pool) Begin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	for i := 1; i <= p.size; i++ {
		w := &worker{id: i, pool: p}
		p.workers = append(p.workers, w)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run(ctx)
		}()
	}
	p.log.Info("started %d fetch workers", p.size)
}

// Active exposes the workers for the safe-cancellation path.
func (p *Pool) Active() []nzb.FetchWorker {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]nzb.FetchWorker, len(p.workers))
	for i, w := range p.workers {
		out[i] = w
	}
	return out
}

// Stop closes the shared queue and waits for the workers to drain out.
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.queue.Close()
	p.wg.Wait()
}

// worker is one fetch connection. current and the per-fetch cancel are
// guarded by mu: the safe-cancellation path reads and aborts from the
// orchestration domain.
type worker struct {
	id   int
	pool *Pool

	mu      sync.Mutex
	current *nzb.Segment
	abort   context.CancelFunc
}

func (w *worker) Current() *nzb.Segment {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Abort drops the open transfer. A transfer cannot be paused, only
// aborted; the worker's loop decides requeue based on the segment's
// do-not-requeue flag.
func (w *worker) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.abort != nil {
		w.abort()
	}
}

func (w *worker) run(ctx context.Context) {
	for {
		seg, ok := w.pool.queue.Pop()
		if !ok {
			return
		}

		fctx, cancel := context.WithCancel(ctx)
		w.mu.Lock()
		w.current = seg
		w.abort = cancel
		w.mu.Unlock()

		err := w.pool.process(fctx, seg)
		if err == nil {
			w.pool.clearRetry(seg)
		}

		w.mu.Lock()
		w.current = nil
		w.abort = nil
		w.mu.Unlock()
		cancel()

		if err != nil {
			w.pool.handleFailure(seg, err)
		}

		if ctx.Err() != nil {
			return
		}
	}
}

func (p *Pool) process(ctx context.Context, seg *nzb.Segment) error {
	data, err := p.fetcher.Fetch(ctx, seg)
	if err != nil {
		return err
	}

	// An aborted transfer can still hand back a full payload. A flagged
	// segment must not promote a filename or land in a freshly restored
	// working directory.
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.queue.DontRequeue(seg) {
		return errCancelled
	}

	seg.SetArticle(data, inspect.TrailerChecksum(data))

	// The first fetched payload of a file promotes its provisional
	// name; SegmentDestination runs under the file's name lock.
	dest, err := p.resolver.SegmentDestination(seg)
	if err != nil {
		return err
	}

	// Plain-text articles (rare, but posts of small files exist)
	// spool as fetched.
	payload, err := inspect.Decode(data)
	if errors.Is(err, inspect.ErrHeaderNotFound) {
		payload = data
	} else if err != nil {
		return err
	}

	if err := os.WriteFile(dest, payload, 0644); err != nil {
		return err
	}

	seg.File.MarkDecoded(seg.Number)

	if p.finisher != nil && seg.File.AllDecoded() {
		if _, err := p.finisher.TryFinish(seg.File.Archive); err != nil {
			p.log.Warn("completion check for %s: %v", seg.File.Archive.Name, err)
		}
	}
	return nil
}

func (p *Pool) handleFailure(seg *nzb.Segment, err error) {
	if p.queue.DontRequeue(seg) {
		p.log.Debug("segment %s cancelled, not requeueing", seg.MessageID)
		p.clearRetry(seg)
		return
	}

	var resErr *nzb.ResolutionError
	if errors.As(err, &resErr) {
		p.log.Error("giving up on file %d of %s: %v",
			seg.File.Number, seg.File.Archive.Name, err)
		p.clearRetry(seg)
		return
	}

	p.mu.Lock()
	p.retries[seg]++
	attempts := p.retries[seg]
	p.mu.Unlock()

	if attempts > maxRetries {
		p.log.Error("segment %s permanently failed after %d attempts: %v",
			seg.MessageID, maxRetries, err)
		p.clearRetry(seg)
		return
	}

	p.log.Warn("retrying segment %s (attempt %d/%d): %v",
		seg.MessageID, attempts, maxRetries, err)
	p.queue.Push(nzb.PriorityContent, seg)
}

// clearRetry drops a segment's retry count once it completes or is
// abandoned, so the bookkeeping does not grow for the daemon's life.
func (p *Pool) clearRetry(seg *nzb.Segment) {
	p.mu.Lock()
	delete(p.retries, seg)
	p.mu.Unlock()
}
