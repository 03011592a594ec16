package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/mbeckert/subhub/internal/pkg/env"
)

// SweepFunc expires all overdue subscriptions as of the given time and
// returns how many it transitioned.
type SweepFunc func(ctx context.Context, asOf time.Time) (int, error)

// Manager manages the global job queue and the expiry sweep
type Manager struct {
	queue       *Queue
	sweep       SweepFunc
	sweepTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

// NewManager wires a manager around the queue and the sweep callback.
func NewManager(queue *Queue, sweep SweepFunc) *Manager {
	return &Manager{
		queue:  queue,
		sweep:  sweep,
		stopCh: make(chan struct{}),
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	sweepInterval := time.Duration(env.GetEnvInt("SWEEP_INTERVAL_MINUTES", 1440)) * time.Minute
	m.sweepTicker = time.NewTicker(sweepInterval)
	m.wg.Add(1)
	go m.sweepWorker(sweepInterval)

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}

	close(m.stopCh)
	m.running = false

	m.wg.Wait()

	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// sweepWorker runs the expiry sweep on its interval. One run also fires on
// startup so a long downtime does not leave terms past their end date active
// until the first tick.
func (m *Manager) sweepWorker(interval time.Duration) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started expiry sweep worker (interval: %s)", interval)

	m.runSweepOnce()

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Expiry sweep worker stopping")
			return
		case <-m.sweepTicker.C:
			m.runSweepOnce()
		}
	}
}

func (m *Manager) runSweepOnce() {
	if m.sweep == nil {
		return
	}
	if _, err := m.sweep(context.Background(), time.Now()); err != nil {
		log.Errorf("[JobQueue Manager] Expiry sweep error: %v", err)
	}
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// RunSweepOnce exposes a manual trigger for a single expiry sweep (admin use).
func (m *Manager) RunSweepOnce() {
	m.runSweepOnce()
}
