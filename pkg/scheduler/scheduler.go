// Package scheduler runs named callbacks after a delay on a bounded pool of
// workers. Scheduled tasks cannot be cancelled individually; callers that
// need to back out re-validate their own state when the callback runs.
package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wakegate/wakegate/logger"
	"github.com/wakegate/wakegate/pkg/metrics"
)

// ErrStopped is returned by After once the scheduler has been stopped
var ErrStopped = errors.New("scheduler stopped")

const DefaultWorkers = 8

type task struct {
	name string
	fn   func()
}

// Scheduler dispatches due tasks to a fixed set of workers.
type Scheduler struct {
	clock   Clock
	workers int

	mu      sync.Mutex
	timers  map[uint64]Timer
	seq     uint64
	running bool
	stopped bool

	// inflight counts tasks that fired and have not finished yet
	inflight int
	idle     *sync.Cond

	queue  chan task
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a scheduler. workers below 1 uses DefaultWorkers and a nil
// clock uses RealClock.
func New(clock Clock, workers int) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	if workers < 1 {
		workers = DefaultWorkers
	}
	s := &Scheduler{
		clock:   clock,
		workers: workers,
		timers:  make(map[uint64]Timer),
		queue:   make(chan task, workers*4),
		stopCh:  make(chan struct{}),
	}
	s.idle = sync.NewCond(&s.mu)
	return s
}

// Clock returns the clock the scheduler reads time from
func (s *Scheduler) Clock() Clock {
	return s.clock
}

// Start launches the worker pool. Calling it more than once is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.stopped {
		return
	}
	s.running = true
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	logger.Debug("[SCHEDULER] started", "workers", s.workers)
}

// After runs fn on a worker once d has elapsed. Tasks scheduled before Start
// are held until the workers are running.
func (s *Scheduler) After(d time.Duration, name string, fn func()) error {
	if fn == nil {
		return fmt.Errorf("scheduler: nil callback for task %q", name)
	}
	if d < 0 {
		d = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}

	s.seq++
	id := s.seq
	s.timers[id] = s.clock.AfterFunc(d, func() { s.fire(id, task{name: name, fn: fn}) })
	metrics.SchedulerTasksPending.Set(float64(len(s.timers)))
	return nil
}

// Pending returns the number of tasks waiting for their delay to elapse
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Wait blocks until no fired task is queued or running. Tasks still waiting
// on their timer are not waited for.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.inflight > 0 {
		s.idle.Wait()
	}
}

// Stop drops every pending timer and waits for in-flight callbacks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	dropped := len(s.timers)
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	metrics.SchedulerTasksPending.Set(0)
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	// Tasks that fired but never reached a worker
	s.mu.Lock()
	s.inflight = 0
	s.idle.Broadcast()
	s.mu.Unlock()

	logger.Info("[SCHEDULER] stopped", "dropped_tasks", dropped)
}

func (s *Scheduler) fire(id uint64, t task) {
	s.mu.Lock()
	if _, ok := s.timers[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	metrics.SchedulerTasksPending.Set(float64(len(s.timers)))
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.inflight++
	s.mu.Unlock()

	select {
	case s.queue <- t:
	case <-s.stopCh:
		s.done()
	}
}

func (s *Scheduler) worker(n int) {
	defer s.wg.Done()
	for {
		select {
		case t := <-s.queue:
			s.run(n, t)
		case <-s.stopCh:
			// Finish whatever already made it into the queue
			for {
				select {
				case t := <-s.queue:
					s.run(n, t)
				default:
					return
				}
			}
		}
	}
}

func (s *Scheduler) run(n int, t task) {
	defer s.done()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[SCHEDULER] task panicked", "task", t.name, "worker", n, "panic", r)
		}
	}()
	t.fn()
}

func (s *Scheduler) done() {
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	if s.inflight == 0 {
		s.idle.Broadcast()
	}
	s.mu.Unlock()
}
