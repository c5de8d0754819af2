package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

// Trigger names, also used by the manual trigger endpoint.
const (
	TriggerSend      = "send"
	TriggerSignals   = "signals"
	TriggerFollowUps = "followups"
	TriggerWarmup    = "warmup"
)

// ErrUnknownTrigger is returned by RunTrigger for names outside the four
// registered triggers.
var ErrUnknownTrigger = fmt.Errorf("unknown trigger")

// TriggerFunc is one trigger's handler.
type TriggerFunc func(ctx context.Context) error

// Intervals configures the firing cadence of the four triggers.
type Intervals struct {
	Send     time.Duration
	Signals  time.Duration
	FollowUp time.Duration
	Warmup   time.Duration
}

// stopGrace bounds how long Stop waits for an in-flight handler before its
// context is cancelled anyway.
const stopGrace = 30 * time.Second

// Scheduler owns the set of active timers. Each trigger serializes its own
// firings (a slow cycle delays, never overlaps, the next one of the same
// trigger) while different triggers run concurrently. Stop halts the timers
// and waits for in-flight handlers to finish on their own; a handler is only
// cut off after the grace period.
type Scheduler struct {
	triggers map[string]TriggerFunc
	logger   *logrus.Entry

	// handlerCtx outlives the ticker loops so stopping the scheduler does not
	// interrupt a dispatch already in flight.
	handlerCtx     context.Context
	cancelHandlers context.CancelFunc
	cancelLoops    context.CancelFunc
	wg             sync.WaitGroup
}

// StartScheduler registers the four fixed-interval triggers and starts their
// timers. The returned handle is the only way to stop them.
func StartScheduler(ss *SendScheduler, sw *SignalWatcher, we *WarmupEngine, intervals Intervals) *Scheduler {
	return start(
		map[string]TriggerFunc{
			TriggerSend:      ss.RunBatch,
			TriggerSignals:   sw.Run,
			TriggerFollowUps: ss.EnqueueDueFollowUps,
			TriggerWarmup:    we.RunDailyCycle,
		},
		map[string]time.Duration{
			TriggerSend:      intervals.Send,
			TriggerSignals:   intervals.Signals,
			TriggerFollowUps: intervals.FollowUp,
			TriggerWarmup:    intervals.Warmup,
		},
	)
}

func start(triggers map[string]TriggerFunc, intervals map[string]time.Duration) *Scheduler {
	loopCtx, cancelLoops := context.WithCancel(context.Background())
	handlerCtx, cancelHandlers := context.WithCancel(context.Background())
	s := &Scheduler{
		triggers:       triggers,
		logger:         logrus.WithField("component", "scheduler"),
		handlerCtx:     handlerCtx,
		cancelHandlers: cancelHandlers,
		cancelLoops:    cancelLoops,
	}

	for name, interval := range intervals {
		s.spawn(loopCtx, name, interval)
	}

	s.logger.Info("scheduler started")
	return s
}

func (s *Scheduler) spawn(loopCtx context.Context, name string, interval time.Duration) {
	handler := s.triggers[name]
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				s.logger.WithField("trigger", name).Info("trigger stopped")
				return
			case <-ticker.C:
				s.invoke(s.handlerCtx, name, handler)
			}
		}
	}()
}

// invoke runs one handler firing. Errors and panics are logged and captured,
// never allowed to kill the timer loop.
func (s *Scheduler) invoke(ctx context.Context, name string, handler TriggerFunc) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("trigger %s panicked: %v", name, r)
			s.logger.WithField("trigger", name).Error(err)
			sentry.CaptureException(err)
		}
	}()

	start := time.Now()
	if err := handler(ctx); err != nil {
		s.logger.WithError(err).WithField("trigger", name).Error("trigger failed")
		sentry.CaptureException(err)
		return
	}
	s.logger.WithFields(logrus.Fields{
		"trigger":  name,
		"duration": time.Since(start).String(),
	}).Debug("trigger completed")
}

// RunTrigger invokes one trigger synchronously, for the operator endpoint and
// for environments without a timer host. Returns the handler's duration.
func (s *Scheduler) RunTrigger(ctx context.Context, name string) (time.Duration, error) {
	handler, ok := s.triggers[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTrigger, name)
	}
	start := time.Now()
	err := handler(ctx)
	return time.Since(start), err
}

// Stop halts every timer and blocks until in-flight handler invocations have
// finished. A running handler keeps its context and is never interrupted
// mid-dispatch; only one that outlives the grace period gets cancelled.
func (s *Scheduler) Stop() {
	s.cancelLoops()
	cutoff := time.AfterFunc(stopGrace, s.cancelHandlers)
	s.wg.Wait()
	cutoff.Stop()
	s.cancelHandlers()
	s.logger.Info("scheduler stopped")
}
