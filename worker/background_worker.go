package worker

import (
	"log/slog"
	"sync"
	"time"
)

// Sweeper drops state that expired before now and reports how much it dropped.
type Sweeper interface {
	Sweep(now time.Time) int
}

// BackgroundWorker periodically sweeps expired conversation sessions
type BackgroundWorker struct {
	sweeper      Sweeper
	interval     time.Duration
	now          func() time.Time
	stopCh       chan struct{}
	wg           sync.WaitGroup
	isRunning    bool
	runningMutex sync.Mutex
}

// NewBackgroundWorkerConfig represents the configuration for the background worker
type NewBackgroundWorkerConfig struct {
	Sweeper  Sweeper
	Interval time.Duration // Time between sweeps
}

// NewBackgroundWorker creates a new background worker instance
func NewBackgroundWorker(config NewBackgroundWorkerConfig) *BackgroundWorker {
	interval := config.Interval
	if interval <= 0 {
		interval = time.Minute
		slog.Warn("invalid sweep interval, using default", "interval", interval)
	}

	return &BackgroundWorker{
		sweeper:  config.Sweeper,
		interval: interval,
		now:      time.Now,
	}
}

// Start starts the background worker. A stopped worker can be started again.
func (w *BackgroundWorker) Start() {
	w.runningMutex.Lock()
	defer w.runningMutex.Unlock()

	if w.isRunning {
		return
	}

	w.isRunning = true
	w.stopCh = make(chan struct{})
	w.wg.Add(1)
	go w.run(w.stopCh)
}

// Stop stops the background worker and waits for the current sweep to finish
func (w *BackgroundWorker) Stop() {
	w.runningMutex.Lock()
	if !w.isRunning {
		w.runningMutex.Unlock()
		return
	}
	slog.Info("stopping session sweeper")
	close(w.stopCh)
	w.isRunning = false
	w.runningMutex.Unlock()

	w.wg.Wait()
}

func (w *BackgroundWorker) run(stopCh <-chan struct{}) {
	defer w.wg.Done()
	slog.Info("session sweeper started", "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.SweepNow()
		case <-stopCh:
			slog.Info("session sweeper stopped")
			return
		}
	}
}

// SweepNow runs one sweep immediately and returns the number of removed sessions.
func (w *BackgroundWorker) SweepNow() int {
	removed := w.sweeper.Sweep(w.now())
	if removed > 0 {
		slog.Debug("expired sessions removed", "count", removed)
	}
	return removed
}
