// Package task runs the named goroutine loops owned by a link.
package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-visa1/logger"
)

// startTimeout bounds how long Start waits for a loop goroutine to come up.
const startTimeout = 5 * time.Second

// LoopFunc is one iteration of a loop. It receives the manager's context and
// returns false to stop the loop.
type LoopFunc func(ctx context.Context) bool

// Manager starts, stops and waits for loop goroutines.
//
// Stop cancels the context handed to every loop; Wait blocks until all loops
// returned and then re-arms the manager so it can be started again.
type Manager struct {
	pctx   context.Context
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
	count  atomic.Int32
	mu     sync.RWMutex // protects ctx and cancel
	taskMu sync.RWMutex // serializes task creation against Wait
}

// NewManager creates a Manager whose loops are cancelled when ctx is done.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	mgr := &Manager{pctx: ctx, logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

func (mgr *Manager) getContext() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start runs fn repeatedly in a new goroutine until it returns false or the
// manager is stopped. A panic inside fn is logged and ends the loop.
func (mgr *Manager) Start(name string, fn LoopFunc) error {
	ctx := mgr.getContext()
	if ctx.Err() != nil {
		return fmt.Errorf("task: manager already stopped, cannot start %s", name)
	}

	mgr.logger.Debug("task: start", "name", name)

	started := make(chan struct{})

	mgr.taskMu.RLock()
	mgr.wg.Add(1)
	go func() {
		defer mgr.wg.Done()

		mgr.count.Add(1)
		close(started)

		defer func() {
			mgr.count.Add(-1)
			mgr.logger.Debug("task: terminated", "name", name, "taskCount", mgr.TaskCount())
		}()

		mgr.runLoop(ctx, name, fn)
	}()
	mgr.taskMu.RUnlock()

	select {
	case <-started:
		return nil
	case <-time.After(startTimeout):
		return fmt.Errorf("task: timeout waiting for %s to start", name)
	}
}

func (mgr *Manager) runLoop(ctx context.Context, name string, fn LoopFunc) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("task: panic in loop", "name", name, "panic", r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if !fn(ctx) {
				return
			}
		}
	}
}

// Stop signals every running loop to exit.
func (mgr *Manager) Stop() {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.cancel != nil {
		mgr.cancel()
	}
}

// Wait blocks until all loops have returned, then prepares a fresh context
// so the manager can be reused.
func (mgr *Manager) Wait() {
	mgr.taskMu.Lock()
	defer mgr.taskMu.Unlock()

	mgr.wg.Wait()

	mgr.mu.Lock()
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	mgr.mu.Unlock()
}

// TaskCount returns the number of running loops.
func (mgr *Manager) TaskCount() int {
	return int(mgr.count.Load())
}
