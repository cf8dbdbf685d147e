// Package scheduler runs the dispatch tick on a fixed interval. The tick
// function executes on a single goroutine, so ticks never overlap; a slow
// tick simply delays the next one.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type Scheduler struct {
	interval time.Duration
	tickFn   func(context.Context)

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// tickMu guards lastTick separately from mu: Stop holds mu while
	// waiting for the loop goroutine, which records tick times.
	tickMu   sync.Mutex
	lastTick time.Time
}

func New(interval time.Duration, tickFn func(context.Context)) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	return &Scheduler{
		interval: interval,
		tickFn:   tickFn,
		done:     make(chan struct{}),
	}, nil
}

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		slog.Info("dispatch scheduler started", "interval", s.interval.String())

		s.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				slog.Info("dispatch scheduler stopping")
				return
			case <-ticker.C:
				s.safeTick(ctx)
			}
		}
	}()

	return true
}

func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	slog.Info("dispatch scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// LastTick returns when the most recent tick started; zero before the first.
func (s *Scheduler) LastTick() time.Time {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	return s.lastTick
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatch tick panic recovered", "panic", r)
		}
	}()

	start := time.Now()
	s.tickMu.Lock()
	s.lastTick = start
	s.tickMu.Unlock()

	s.tickFn(ctx)
	slog.Info("dispatch tick completed", "duration_ms", time.Since(start).Milliseconds())
}
