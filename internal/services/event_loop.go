package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrLoopStopped is returned when posting to a stopped event loop
var ErrLoopStopped = errors.New("event loop stopped")

// EventLoop serialises every mutation of payment state onto one goroutine.
// Network calls run elsewhere and post their completions back here.
type EventLoop struct {
	events    chan func()
	stopCh    chan struct{}
	doneCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	mu        sync.Mutex
	started   bool
	logger    *logrus.Logger
}

// NewEventLoop creates a new event loop; call Start before posting
func NewEventLoop(logger *logrus.Logger) *EventLoop {
	return &EventLoop{
		events: make(chan func(), 256),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
	}
}

// Start begins draining events
func (l *EventLoop) Start() {
	l.startOnce.Do(func() {
		l.mu.Lock()
		l.started = true
		l.mu.Unlock()
		go l.run()
	})
}

// Stop stops the loop and waits for the current event to finish.
// Events still queued are dropped.
func (l *EventLoop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})

	l.mu.Lock()
	started := l.started
	l.mu.Unlock()
	if started {
		<-l.doneCh
	}
}

func (l *EventLoop) run() {
	defer close(l.doneCh)

	for {
		select {
		case fn := <-l.events:
			l.dispatch(fn)
		case <-l.stopCh:
			return
		}
	}
}

func (l *EventLoop) dispatch(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithField("panic", r).Error("Event handler panicked")
		}
	}()
	fn()
}

// Post queues fn to run on the loop
func (l *EventLoop) Post(fn func()) error {
	select {
	case <-l.stopCh:
		return ErrLoopStopped
	default:
	}

	select {
	case l.events <- fn:
		return nil
	case <-l.stopCh:
		return ErrLoopStopped
	}
}

// Call runs fn on the loop and waits for it. Never call it from the loop itself.
func (l *EventLoop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := l.Post(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopCh:
		return ErrLoopStopped
	}
}

// Go runs work off the loop and posts the completion it returns back onto the loop.
// A nil completion is skipped.
func (l *EventLoop) Go(work func() func()) {
	go func() {
		completion := work()
		if completion == nil {
			return
		}
		if err := l.Post(completion); err != nil {
			l.logger.WithError(err).Debug("Dropped completion after loop stop")
		}
	}()
}

// Timer is a cancellable scheduled event
type Timer interface {
	Stop() bool
}

// Scheduler turns delays into events on the loop
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// LoopScheduler fires timers as events on an EventLoop
type LoopScheduler struct {
	loop *EventLoop
}

// NewLoopScheduler creates a scheduler bound to loop
func NewLoopScheduler(loop *EventLoop) *LoopScheduler {
	return &LoopScheduler{loop: loop}
}

// AfterFunc schedules fn to run on the loop after d
func (s *LoopScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, func() {
		if err := s.loop.Post(fn); err != nil {
			s.loop.logger.WithError(err).Debug("Dropped timer after loop stop")
		}
	})
}
