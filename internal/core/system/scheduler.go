package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrSchedulerClosed is returned for work posted after Close, and for work
// still queued when Close ran.
var ErrSchedulerClosed = errors.New("scheduler closed")

type job struct {
	run    func()
	cancel func(error)
}

// Scheduler marshals work onto the host thread. It is a PhaseInput system:
// everything posted before a tick starts runs at the start of that tick.
type Scheduler struct {
	mu     sync.Mutex
	queue  []job
	closed bool
}

func NewScheduler() *Scheduler {
	return &Scheduler{queue: make([]job, 0, 16)}
}

func (s *Scheduler) Phase() Phase { return PhaseInput }

func (s *Scheduler) Update(_ time.Duration) {
	s.mu.Lock()
	pending := s.queue
	s.queue = make([]job, 0, cap(pending))
	s.mu.Unlock()

	for _, j := range pending {
		j.run()
	}
}

func (s *Scheduler) push(j job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}
	s.queue = append(s.queue, j)
	return nil
}

// Run queues fn for the next tick and waits for it to finish. It must not be
// called from the host thread itself. If ctx ends before the tick picks the
// work up, fn is skipped.
func (s *Scheduler) Run(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	err := s.push(job{
		run: func() {
			if err := ctx.Err(); err != nil {
				done <- err
				return
			}
			done <- protect(fn)
		},
		cancel: func(err error) { done <- err },
	})
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects new work and fails everything still queued.
func (s *Scheduler) Close() {
	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	s.closed = true
	s.mu.Unlock()

	for _, j := range pending {
		j.cancel(ErrSchedulerClosed)
	}
}

// Pending returns the number of queued jobs.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduled work panicked: %v", r)
		}
	}()
	return fn()
}
