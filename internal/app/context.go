package app

import (
	"time"

	"github.com/datallboy/gonzbd/internal/infra/config"
	"github.com/datallboy/gonzbd/internal/infra/logger"
	"github.com/datallboy/gonzbd/internal/nzb"
)

// QueueEntry is one row of the archive queue listing.
type QueueEntry struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// QueueControl is the contract the RPC/CLI layer calls into. Every
// mutation reports success plus an error carrying the reason; none of
// them partially applies.
type QueueControl interface {
	Listing() []QueueEntry
	Enqueue(path string, atFront bool) (int64, error)
	DequeueByIDs(ids []int64) (bool, error)
	MoveToFront(id int64) (bool, error)
	MoveToBack(id int64) (bool, error)
	MoveToIndex(id int64, index int) (bool, error)
	MoveRelative(id int64, shift int, down bool) (bool, error)
	Pause()
	Resume()
	Paused() bool
}

// WorkerPool is the externally managed pool of fetch connections.
// Begin nudges it when new work lands in the download queue; Active
// exposes the workers for the safe-cancellation path.
type WorkerPool interface {
	Begin()
	Active() []nzb.FetchWorker
}

// Notifier receives user-facing queue transitions (new archive found,
// download starting, resume). The default just logs.
type Notifier interface {
	Notify(event, name string)
}

// Event is one archive lifecycle record.
type Event struct {
	ID        string    `json:"id"`
	Archive   string    `json:"archive"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists archive lifecycle history.
type Store interface {
	RecordEvent(archive, event, detail string) error
	RecentEvents(limit int) ([]Event, error)
	Close() error
}

// Context holds the core environment and shared resources for gonzbd.
// It acts as the single source of truth for the wired-up application.
type Context struct {
	Config *config.Config
	Logger *logger.Logger

	Store     Store
	Downloads *nzb.DownloadQueue
	Queue     QueueControl
	Workers   WorkerPool
	Notifier  Notifier
}

// NewContext initializes the base environment. The remaining fields
// are wired by the caller once their components exist.
func NewContext(cfg *config.Config, log *logger.Logger) *Context {
	return &Context{
		Config:    cfg,
		Logger:    log,
		Downloads: nzb.NewDownloadQueue(),
	}
}

// LogNotifier is the fallback Notifier.
type LogNotifier struct {
	Log *logger.Logger
}

func (n *LogNotifier) Notify(event, name string) {
	n.Log.Info("%s: %s", event, name)
}
