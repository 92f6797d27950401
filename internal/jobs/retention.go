// Package jobs contains background maintenance jobs.
package jobs

import (
	"context"
	"log"
	"sync"
	"time"
)

// Pruner deletes events older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionJob periodically deletes relay events older than the retention
// window. It runs on a configurable interval (default: 1 hour).
type RetentionJob struct {
	pruner    Pruner
	retention time.Duration
	interval  time.Duration
	logger    *log.Logger
	now       func() time.Time
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewRetentionJob creates a new retention job.
func NewRetentionJob(p Pruner, retention, interval time.Duration, logger *log.Logger) *RetentionJob {
	if interval == 0 {
		interval = 1 * time.Hour
	}
	return &RetentionJob{
		pruner:    p,
		retention: retention,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the background job.
func (j *RetentionJob) Start() {
	j.wg.Add(1)
	go j.run()
	j.logger.Printf("RetentionJob: started (retention=%v, interval=%v)", j.retention, j.interval)
}

// Stop gracefully stops the background job. It is safe to call more than once.
func (j *RetentionJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.stopCh)
		j.wg.Wait()
		j.logger.Println("RetentionJob: stopped")
	})
}

func (j *RetentionJob) run() {
	defer j.wg.Done()

	// Run immediately on start
	j.RunOnce(context.Background())

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.RunOnce(context.Background())
		case <-j.stopCh:
			return
		}
	}
}

// RunOnce prunes everything older than the retention window.
func (j *RetentionJob) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoff := j.now().Add(-j.retention)
	n, err := j.pruner.Prune(ctx, cutoff)
	if err != nil {
		j.logger.Printf("RetentionJob: failed to prune events: %v", err)
		return
	}
	if n > 0 {
		j.logger.Printf("RetentionJob: pruned %d events older than %s", n, cutoff.Format(time.RFC3339))
	}
}
