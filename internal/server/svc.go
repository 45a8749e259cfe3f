package server

import (
	"errors"
	"sync"
)

// ErrSvcClosed is returned for work queued on a stopped service.
var ErrSvcClosed = errors.New("service stopped")

// ChanSvc runs queued functions one at a time, in queue order.
type ChanSvc struct {
	queue chan func()
	done  chan struct{}
	once  sync.Once
}

// NewSvc creates a stopped service. Call RunSvc to start it.
func NewSvc() *ChanSvc {
	return &ChanSvc{queue: make(chan func(), 64), done: make(chan struct{})}
}

// SvcSync queues code and waits for its result.
func SvcSync[T any](s *ChanSvc, code func() (T, error)) (T, error) {
	result := make(chan struct{})
	var value T
	var err error
	if !Svc(s, func() {
		defer close(result)
		value, err = code()
	}) {
		return value, ErrSvcClosed
	}
	select {
	case <-result:
		return value, err
	case <-s.done:
		// the runner may still be inside code
		select {
		case <-result:
			return value, err
		default:
			var zero T
			return zero, ErrSvcClosed
		}
	}
}

// Svc queues code. It reports false when the service is stopped.
func Svc(s *ChanSvc, code func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.queue <- code:
		return true
	case <-s.done:
		return false
	}
}

// RunSvc runs the service until Stop.
func RunSvc(s *ChanSvc) {
	go func() {
		for {
			select {
			case cmd := <-s.queue:
				cmd()
			case <-s.done:
				return
			}
		}
	}()
}

// Stop stops the service. Queued work that hasn't started is dropped.
func (s *ChanSvc) Stop() {
	s.once.Do(func() { close(s.done) })
}
