// Package scheduler aggregates synchronization triggers from every signal
// source and serializes them into synchronization passes.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/fencewise/geosync/internal/pkg/logger"
	"github.com/fencewise/geosync/internal/pubsub"
)

// TriggerSource identifies what asked for a synchronization pass.
type TriggerSource string

const (
	SourceForeground         TriggerSource = "app.foreground"
	SourceBackground         TriggerSource = "app.background"
	SourceConnectionEnabled  TriggerSource = "connection.enabled"
	SourceConnectionDisabled TriggerSource = "connection.disabled"
	SourceConnectionUpdated  TriggerSource = "connection.updated"
	SourceRegionCrossing     TriggerSource = "region.crossing"
	SourceUIActivated        TriggerSource = "ui.activated"
	SourceUIDeactivated      TriggerSource = "ui.deactivated"
	SourcePushSilent         TriggerSource = "push.silent"
	SourceBackgroundTask     TriggerSource = "task.background"
	SourceManual             TriggerSource = "manual"
	SourcePeriodic           TriggerSource = "periodic"
)

// Trigger is a single request for a pass.
type Trigger struct {
	Source TriggerSource
	At     time.Time
}

// Synchronizable is a component the scheduler drives.
type Synchronizable interface {
	// Name identifies the component in logs and results.
	Name() string
	// ShouldParticipate reports whether the component wants the pass the
	// given source asked for.
	ShouldParticipate(source TriggerSource) bool
	// PerformSynchronization runs the pass. It reports whether anything was
	// uploaded.
	PerformSynchronization(ctx context.Context) (bool, error)
}

// CoalescePolicy is what happens to triggers that arrive while a pass is
// already running.
type CoalescePolicy string

const (
	// CoalesceDrop ignores triggers arriving mid-pass.
	CoalesceDrop CoalescePolicy = "drop"
	// CoalesceFollowUp folds triggers arriving mid-pass into one follow-up
	// pass after the current one finishes.
	CoalesceFollowUp CoalescePolicy = "followup"
)

// Options configures a scheduler.
type Options struct {
	// Coalesce selects the mid-pass trigger policy. Defaults to follow-up.
	Coalesce CoalescePolicy
	// PassTimeout bounds a single pass. Zero means no bound.
	PassTimeout time.Duration
	// Sources are trigger publishers the scheduler subscribes on Start and
	// unsubscribes on Stop.
	Sources []*pubsub.Publisher[Trigger]
}

// Result describes one component's outcome in a pass.
type Result struct {
	Trigger      Trigger
	Target       string
	Participated bool
	Uploaded     bool
	Err          error
}

// Scheduler serializes synchronization passes: at most one runs at a time,
// and triggers aggregate rather than queue. Start and Stop are idempotent.
type Scheduler struct {
	targets []Synchronizable
	opts    Options
	log     *logger.Logger
	results *pubsub.Publisher[Result]

	mu        sync.Mutex
	running   bool
	inflight  bool
	pending   *Trigger
	srcTokens []func()

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a scheduler over the given targets.
func New(targets []Synchronizable, opts Options, exec pubsub.Executor, log *logger.Logger) *Scheduler {
	if opts.Coalesce == "" {
		opts.Coalesce = CoalesceFollowUp
	}
	return &Scheduler{
		targets: targets,
		opts:    opts,
		log:     log.WithComponent("scheduler"),
		results: pubsub.NewPublisher[Result](exec),
	}
}

// Results publishes per-target outcomes as passes complete.
func (s *Scheduler) Results() *pubsub.Publisher[Result] {
	return s.results
}

// Start launches the pass loop. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.wake = make(chan struct{}, 1)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run()

	for _, src := range s.opts.Sources {
		src := src
		tok := src.Subscribe(s.enqueue)
		s.srcTokens = append(s.srcTokens, func() { src.Unsubscribe(tok) })
	}
}

// Stop halts the pass loop, waiting for an in-flight pass to finish.
// Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.pending = nil
	unsubscribe := s.srcTokens
	s.srcTokens = nil
	close(s.stop)
	s.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
	s.wg.Wait()
}

// Trigger requests a pass. Requests arriving between passes coalesce into
// one; requests arriving mid-pass follow the coalesce policy. Never blocks.
func (s *Scheduler) Trigger(source TriggerSource) {
	s.enqueue(Trigger{Source: source, At: time.Now()})
}

func (s *Scheduler) enqueue(trig Trigger) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	if s.inflight && s.opts.Coalesce == CoalesceDrop {
		s.mu.Unlock()
		s.log.Debug("Dropping trigger during pass", "source", string(trig.Source))
		return
	}
	s.pending = &trig
	wake := s.wake
	s.mu.Unlock()

	select {
	case wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			trig := s.pending
			s.pending = nil
			if trig == nil {
				s.mu.Unlock()
				break
			}
			s.inflight = true
			s.mu.Unlock()

			s.pass(*trig)

			s.mu.Lock()
			s.inflight = false
			s.mu.Unlock()

			select {
			case <-s.stop:
				return
			default:
			}
		}
	}
}

func (s *Scheduler) pass(trig Trigger) {
	ctx := context.Background()
	if s.opts.PassTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.PassTimeout)
		defer cancel()
	}

	s.log.Debug("Synchronization pass starting", "source", string(trig.Source))

	for _, target := range s.targets {
		if !target.ShouldParticipate(trig.Source) {
			s.results.Publish(Result{Trigger: trig, Target: target.Name()})
			continue
		}

		uploaded, err := target.PerformSynchronization(ctx)
		if err != nil {
			s.log.Warn("Synchronization failed", "target", target.Name(), "source", string(trig.Source), "error", err)
		}
		s.results.Publish(Result{
			Trigger:      trig,
			Target:       target.Name(),
			Participated: true,
			Uploaded:     uploaded,
			Err:          err,
		})
	}
}
