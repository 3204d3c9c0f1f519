package core_processor

import (
	"context"
	"fmt"
	"sync"
)

// SessionSerializer runs work for the same key strictly one at a time, in submission order,
// while different keys proceed in parallel. Each active key owns one goroutine that exits
// as soon as its queue is empty.
type SessionSerializer struct {
	mu      sync.Mutex
	workers map[string]*sessionWorker
}

type sessionWorker struct {
	pending []func()
}

func NewSessionSerializer() *SessionSerializer {
	return &SessionSerializer{workers: make(map[string]*sessionWorker)}
}

// Do queues fn behind earlier work for key and waits for it. If ctx ends first, Do returns
// ctx.Err() and fn still runs later with the cancelled ctx.
func (s *SessionSerializer) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	job := func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("session %s: panic: %v", key, r)
			}
		}()
		done <- fn(ctx)
	}

	s.mu.Lock()
	w, running := s.workers[key]
	if !running {
		w = &sessionWorker{}
		s.workers[key] = w
	}
	w.pending = append(w.pending, job)
	s.mu.Unlock()

	if !running {
		go s.drain(key, w)
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SessionSerializer) drain(key string, w *sessionWorker) {
	for {
		s.mu.Lock()
		if len(w.pending) == 0 {
			delete(s.workers, key)
			s.mu.Unlock()
			return
		}
		job := w.pending[0]
		w.pending[0] = nil
		w.pending = w.pending[1:]
		s.mu.Unlock()

		job()
	}
}

// Active is the number of keys with queued or running work.
func (s *SessionSerializer) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}
