package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/dbscope/internal/engine"
	"github.com/nerrad567/dbscope/internal/session"
)

// Reporter periodically samples pool and session statistics and writes
// them through a Client.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Reporter struct {
	client   *Client
	interval time.Duration

	mu           sync.Mutex
	engines      []*engine.Engine
	resourceName string
	managerStats func() session.Stats

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewReporter creates a reporter that samples every interval.
//
// Parameters:
//   - client: Connected metrics client
//   - interval: Sampling period (values <= 0 fall back to 30s)
//
// Returns:
//   - *Reporter: Reporter; call Start to begin sampling
func NewReporter(client *Client, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reporter{
		client:   client,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// AddEngine registers an engine whose pool statistics are sampled.
func (r *Reporter) AddEngine(e *engine.Engine) {
	r.mu.Lock()
	r.engines = append(r.engines, e)
	r.mu.Unlock()
}

// SetManagerStats registers the session manager counter source.
//
// Parameters:
//   - resourceName: Namespace tag for the samples
//   - stats: Snapshot function, typically (*session.Manager).Stats
func (r *Reporter) SetManagerStats(resourceName string, stats func() session.Stats) {
	r.mu.Lock()
	r.resourceName = resourceName
	r.managerStats = stats
	r.mu.Unlock()
}

// Start begins periodic sampling until Stop is called or ctx is cancelled.
func (r *Reporter) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopChan:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sample()
			}
		}
	}()
}

// Stop halts sampling and waits for the sampling goroutine to exit.
// Idempotent.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}

// sample writes one round of pool and session statistics.
func (r *Reporter) sample() {
	r.mu.Lock()
	engines := make([]*engine.Engine, len(r.engines))
	copy(engines, r.engines)
	resourceName := r.resourceName
	managerStats := r.managerStats
	r.mu.Unlock()

	for _, e := range engines {
		stats := e.Stats()
		r.client.WritePoolStats(e.Name(), stats.OpenConnections, stats.InUse, stats.Idle, stats.WaitCount)
	}

	if managerStats != nil {
		s := managerStats()
		r.client.WriteSessionStats(resourceName, s.Sessions, s.Commits, s.Rollbacks, s.FinalizeErrors, s.Live)
	}
}
