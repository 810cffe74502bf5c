// Package supervisor tracks the coordinator's long-lived goroutines so a
// restart can tear all of them down in one call.
package supervisor

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

type handle struct {
	owner  string
	cancel context.CancelFunc
}

// Supervisor owns a set of cancellable goroutines. Handles are kept in
// insertion order; StopAll cancels them newest first, mirroring how later
// loops depend on channels fed by earlier ones.
type Supervisor struct {
	mu      sync.Mutex
	handles []handle
}

// New creates an empty supervisor.
func New() *Supervisor {
	return &Supervisor{}
}

// Spawn starts run in a goroutine under a context cancelled by StopAll.
// The owner tag only serves logging.
func (s *Supervisor) Spawn(owner string, run func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.handles = append(s.handles, handle{owner: owner, cancel: cancel})
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Spawn",
		"owner":    owner,
	}).Debug("Supervised goroutine started")

	go run(ctx)
}

// StopAll cancels every supervised goroutine in reverse insertion order and
// forgets the handles. Cancellation is fire-and-forget; loops drain on their
// own. Safe to call repeatedly and with no handles registered.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	handles := s.handles
	s.handles = nil
	s.mu.Unlock()

	for i := len(handles) - 1; i >= 0; i-- {
		handles[i].cancel()
		logrus.WithFields(logrus.Fields{
			"function": "StopAll",
			"owner":    handles[i].owner,
		}).Debug("Supervised goroutine cancelled")
	}
}

// Len reports the number of live handles.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}
