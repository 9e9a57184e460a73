// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/shardrt/pkg/core/device"
	"github.com/gomlx/shardrt/pkg/support/xsync"
	"github.com/pkg/errors"
)

// hostStream executes its tasks in order in a dedicated goroutine.
//
// The queue is unbounded, so enqueueing never blocks.
type hostStream struct {
	dev      device.Device
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []func() error
	closed   bool
	err      error
	pending  *xsync.DynamicWaitGroup
	inflight *xsync.DynamicWaitGroup // Shared by all streams of the device.
}

func newStream(dev device.Device, inflight *xsync.DynamicWaitGroup) *hostStream {
	s := &hostStream{
		dev:      dev,
		pending:  xsync.NewDynamicWaitGroup(),
		inflight: inflight,
	}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

func (s *hostStream) enqueue(task func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		exceptions.Panicf("cpu: enqueueing work on a freed stream of %s", s.dev)
	}
	s.pending.Add(1)
	s.inflight.Add(1)
	s.queue = append(s.queue, task)
	s.cond.Signal()
}

func (s *hostStream) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		task := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		err := s.execute(task)
		if err != nil {
			s.mu.Lock()
			if s.err == nil {
				s.err = err
			}
			s.mu.Unlock()
		}
		s.pending.Done()
		s.inflight.Done()
	}
}

// execute runs the task converting panics to errors, so a failing task doesn't take down the process
// before the stream is waited on.
func (s *hostStream) execute(task func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = errors.Errorf("panic: %v", r)
			}
		}
	}()
	return task()
}

func (s *hostStream) wait() {
	s.pending.Wait()
}

func (s *hostStream) takeError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.err
	s.err = nil
	return err
}

func (s *hostStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
}

// event holds the completion channel of its last record.
type event struct {
	mu   sync.Mutex
	done chan struct{}
}

func (e *event) record(done chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.done = done
}

func (e *event) last() chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}
