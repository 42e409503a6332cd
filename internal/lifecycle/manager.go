// Package lifecycle runs the long-lived jobs of the server and tears them
// down in reverse order of registration.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"agentdeck/internal/logging"
)

const defaultShutdownTimeout = 10 * time.Second

type job struct {
	name string
	run  func(context.Context) error
}

type Manager struct {
	logger          *slog.Logger
	shutdownTimeout time.Duration

	mu           sync.Mutex
	runJobs      []job
	shutdownJobs []job
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithShutdownTimeout bounds the context handed to each shutdown job.
func WithShutdownTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.shutdownTimeout = d
		}
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{logger: logging.Discard(), shutdownTimeout: defaultShutdownTimeout}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("module", "lifecycle")
	return m
}

func (m *Manager) AddRun(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.runJobs = append(m.runJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

// AddShutdown registers fn to run after every run job has returned. Later
// registrations run first.
func (m *Manager) AddShutdown(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.shutdownJobs = append(m.shutdownJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

// StartAndWait runs every run job until parent is done, a signal in sig
// arrives, or a job fails. Then it runs the shutdown jobs and returns the
// joined errors.
func (m *Manager) StartAndWait(parent context.Context, sig ...os.Signal) error {
	ctx := parent
	stopSignal := func() {}
	if len(sig) > 0 {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(parent, sig...)
		stopSignal = stop
	}
	defer stopSignal()

	runCtx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()

	runJobs := m.snapshot(&m.runJobs)
	errCh := make(chan error, len(runJobs))
	var wg sync.WaitGroup
	for _, j := range runJobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			m.logger.Debug("run job started", "job", j.name)
			if err := j.run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error("run job failed", "job", j.name, "err", err)
				errCh <- fmt.Errorf("%s: %w", j.name, err)
				cancelRuns()
			}
		}(j)
	}

	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		m.logger.Info("shutdown requested")
		cancelRuns()
	case runErr = <-errCh:
		cancelRuns()
	case <-doneCh:
	}
	<-doneCh

	return errors.Join(runErr, m.shutdown())
}

func (m *Manager) shutdown() error {
	jobs := m.snapshot(&m.shutdownJobs)
	var out error
	for i := len(jobs) - 1; i >= 0; i-- {
		j := jobs[i]
		ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
		err := j.run(ctx)
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("shutdown job failed", "job", j.name, "err", err)
			out = errors.Join(out, fmt.Errorf("%s: %w", j.name, err))
			continue
		}
		m.logger.Debug("shutdown job done", "job", j.name)
	}
	return out
}

func (m *Manager) snapshot(src *[]job) []job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]job(nil), (*src)...)
}
