// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

package bootstrap_test

import (
	"errors"
	"sync"
	"time"

	"github.com/grafthost/graft/internal/host"
)

// fakeStream is an in-memory diagnostic stream.
type fakeStream struct {
	mu               sync.Mutex
	next             uint64
	listeners        map[uint64]host.DiagnosticListener
	failSubscribe    bool
	subscribeCalls   int
	unsubscribeCalls int
}

func newFakeStream() *fakeStream {
	return &fakeStream{listeners: make(map[uint64]host.DiagnosticListener)}
}

func (s *fakeStream) Subscribe(fn host.DiagnosticListener) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribeCalls++
	if s.failSubscribe {
		return 0, errors.New("stream not ready")
	}
	s.next++
	s.listeners[s.next] = fn
	return s.next, nil
}

func (s *fakeStream) Unsubscribe(token uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribeCalls++
	if _, ok := s.listeners[token]; !ok {
		return errors.New("unknown token")
	}
	delete(s.listeners, token)
	return nil
}

func (s *fakeStream) Emit(line string) {
	s.mu.Lock()
	fns := make([]host.DiagnosticListener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(line)
	}
}

func (s *fakeStream) listenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func (s *fakeStream) setFailSubscribe(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSubscribe = fail
}

// fakeTicker collects tick callbacks and lets tests drive them manually.
type fakeTicker struct {
	mu  sync.Mutex
	fns []host.TickFunc
}

func (tk *fakeTicker) OnTick(fn host.TickFunc) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	tk.fns = append(tk.fns, fn)
}

// Tick advances every attached callback by delta, dropping finished ones.
func (tk *fakeTicker) Tick(delta time.Duration) {
	tk.mu.Lock()
	fns := tk.fns
	tk.mu.Unlock()

	var keep []host.TickFunc
	for _, fn := range fns {
		if fn(delta) {
			keep = append(keep, fn)
		}
	}

	tk.mu.Lock()
	tk.fns = keep
	tk.mu.Unlock()
}

func (tk *fakeTicker) attached() int {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return len(tk.fns)
}
