package worker

import (
	"context"
	"os"
	"reflect"
	"sync"
	"time"

	"smartswipe/syncclient/helpers"
	"smartswipe/syncclient/internal/screen"
)

// Worker revalidates the mounted screens on a fixed interval
type Worker struct {
	ctx             context.Context
	refreshers      []screen.Refresher
	logger          helpers.LoggerInterface
	refreshInterval time.Duration
}

// NewWorker creates a new worker
func NewWorker(
	ctx context.Context,
	refreshers []screen.Refresher,
	logger helpers.LoggerInterface,
	refreshInterval time.Duration,
) *Worker {
	return &Worker{
		ctx:             ctx,
		refreshers:      refreshers,
		logger:          logger,
		refreshInterval: refreshInterval,
	}
}

// Start refreshes every screen, then again after each interval, until the
// worker context is cancelled
func (w *Worker) Start() error {
	ticker := time.NewTicker(w.refreshInterval)
	defer ticker.Stop()

	for {
		w.RunOnce()

		select {
		case <-w.ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce refreshes every screen once and reports how many failed
func (w *Worker) RunOnce() int {
	start := time.Now()
	failed := w.runRefreshers()
	if os.Getenv("SMARTSWIPE_ENVIRONMENT") != "production" {
		w.logger.LogInfo("refresh took %s (%d/%d failed)", time.Since(start), failed, len(w.refreshers))
	}
	return failed
}

// runRefreshers runs all the refreshers in parallel
func (w *Worker) runRefreshers() int {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for _, r := range w.refreshers {
		wg.Add(1)
		go func(r screen.Refresher) {
			defer wg.Done()
			if !w.refresh(r) {
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(r)
	}
	wg.Wait()
	return failed
}

// refresh revalidates one screen and logs its failure
func (w *Worker) refresh(r screen.Refresher) bool {
	name := r.Name()
	if name == "" {
		name = reflect.TypeOf(r).Elem().Name()
	}

	if err := r.Refresh(w.ctx); err != nil {
		w.logger.LogError(name, err)
		return false
	}
	return true
}
