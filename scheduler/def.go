package scheduler

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	iface "LiveDetect/interface"
	"LiveDetect/logger"
	"LiveDetect/monitor"
)

// Detector is the downstream detect operation; in production it is the
// engine pipeline.
type Detector interface {
	Detect(iface.Frame) (iface.DetectionBatch, error)
}

// Scheduler decides for each incoming frame whether it reaches the pipeline.
// Frames are submitted from the camera/producer goroutine; a single worker
// drains the one-slot hand-off at the pipeline's own pace, so the backlog
// never grows past one frame.
//
// Skip policy: drop skipBudget frames, then admit one, O(1) state.
// Coalesce policy: admit every frame into the slot; a newer frame replaces a
// still-queued one so only the freshest is processed.
type Scheduler struct {
	det Detector

	mu         sync.Mutex
	cond       *sync.Cond
	pending    *iface.Frame
	policy     iface.SchedulingPolicy
	skipBudget int
	arrivals   uint64
	closed     bool
	done       chan struct{}
}

// New creates a scheduler and starts its worker.
func New(det Detector, policy iface.SchedulingPolicy, skipBudget int) *Scheduler {
	if skipBudget < 0 {
		skipBudget = 0
	}
	s := &Scheduler{
		det:        det,
		policy:     policy,
		skipBudget: skipBudget,
		done:       make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.runWorker()
	return s
}

// Submit makes the admit/drop decision and returns immediately. The returned
// flag reports whether the frame was admitted; dropped frames leave no trace
// in the detection stream.
func (s *Scheduler) Submit(frame iface.Frame) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		monitor.FramesDropped.Inc()
		return false
	}

	if s.policy == iface.PolicySkip && s.skipBudget > 0 {
		s.arrivals++
		if s.arrivals%uint64(s.skipBudget+1) != 0 {
			s.mu.Unlock()
			monitor.FramesDropped.Inc()
			return false
		}
	}

	replaced := s.pending != nil
	f := frame
	s.pending = &f
	s.cond.Signal()
	s.mu.Unlock()

	if replaced {
		// The queued frame was coalesced away; only the freshest survives.
		monitor.FramesDropped.Inc()
	}
	monitor.FramesAdmitted.Inc()
	return true
}

// SetPolicy switches the admission policy for subsequent frames.
func (s *Scheduler) SetPolicy(policy iface.SchedulingPolicy) {
	s.mu.Lock()
	s.policy = policy
	s.arrivals = 0
	s.mu.Unlock()
}

// SetSkipBudget changes how many frames the skip policy discards between
// admitted ones.
func (s *Scheduler) SetSkipBudget(budget int) {
	if budget < 0 {
		budget = 0
	}
	s.mu.Lock()
	s.skipBudget = budget
	s.arrivals = 0
	s.mu.Unlock()
}

// Policy returns the active policy and skip budget.
func (s *Scheduler) Policy() (iface.SchedulingPolicy, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy, s.skipBudget
}

// Close stops the worker after the in-flight frame, if any, finishes. A
// still-queued frame is discarded.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.pending = nil
	s.cond.Broadcast()
	s.mu.Unlock()
	<-s.done
}

func (s *Scheduler) runWorker() {
	defer func() {
		if r := recover(); r != nil {
			output := fmt.Sprintf("scheduler worker panic: %v. Restarting in 1s...", r)
			logger.Log().Error(output)
			time.Sleep(1 * time.Second)
			go s.runWorker()
			return
		}
		close(s.done)
	}()

	logger.Log().Info("---scheduler worker created")
	for {
		s.mu.Lock()
		for s.pending == nil && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		frame := *s.pending
		s.pending = nil
		s.mu.Unlock()

		// A failed frame never blocks the next one; errors are local to the
		// call that produced them.
		if _, err := s.det.Detect(frame); err != nil {
			logger.Log().Error("detect failed", zap.Error(err))
		}
	}
}
