package history

import (
	"context"
	"time"

	"github.com/nerrad567/relayhub/internal/state"
)

// writeTimeout bounds a single insert.
const writeTimeout = 5 * time.Second

// Logger is the logging interface used by the recorder and pruner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Recorder is a state.Observer that appends every change to a Repository.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a recorder writing to repo.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

// OnChange implements state.Observer. Write failures are logged and dropped.
func (r *Recorder) OnChange(c state.Change) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.repo.Record(ctx, c); err != nil {
		r.logger.Warn("state history write failed",
			"device_id", c.DeviceID,
			"kind", c.Kind,
			"error", err,
		)
	}
}

// Pruner periodically deletes entries past the retention window.
type Pruner struct {
	repo      Repository
	retention time.Duration
	interval  time.Duration
	logger    Logger
}

// NewPruner creates a pruner. It does nothing until Run is called.
func NewPruner(repo Repository, retention, interval time.Duration, logger Logger) *Pruner {
	return &Pruner{
		repo:      repo,
		retention: retention,
		interval:  interval,
		logger:    logger,
	}
}

// Run prunes once immediately and then every interval until ctx is cancelled.
func (p *Pruner) Run(ctx context.Context) {
	if p.retention <= 0 || p.interval <= 0 {
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.pruneOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pruner) pruneOnce(ctx context.Context) {
	n, err := p.repo.Prune(ctx, p.retention)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("state history prune failed", "error", err)
		}
		return
	}
	if n > 0 {
		p.logger.Info("state history pruned", "deleted", n, "retention", p.retention)
	}
}
