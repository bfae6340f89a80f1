package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"repowatch/internal/discovery"
	"repowatch/internal/eventbus"
	rtsup "repowatch/internal/runtime/supervisor"
	logx "repowatch/pkg/logx"
)

var ErrNotRunning = errors.New("scheduler not running")

// Runner runs one discovery cycle. *discovery.Monitor implements it.
type Runner interface {
	RunCycle(ctx context.Context) (discovery.CycleReport, error)
}

// Job is one scheduled repository.
type Job struct {
	Name   string
	Runner Runner
}

type Config struct {
	// Spec is a ParseSchedule string applied to every job.
	Spec         string
	Workers      int
	CycleTimeout time.Duration
	Timezone     string // IANA name; empty means local
	HistorySize  int
	QueueSize    int
}

type HistoryItem struct {
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Outcome is the result of one job in RunOnce.
type Outcome struct {
	Name   string
	Report discovery.CycleReport
	Err    error
}

// SkipEvent is published when a tick is dropped because the job is busy.
type SkipEvent struct {
	Name string    `json:"name"`
	At   time.Time `json:"at"`
}

type task struct {
	job   Job
	state *runState
}

// runState tracks one job across ticks. busy covers queued and running.
type runState struct {
	mu   sync.Mutex
	busy bool
}

func (r *runState) tryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busy {
		return false
	}
	r.busy = true
	return true
}

func (r *runState) release() {
	r.mu.Lock()
	r.busy = false
	r.mu.Unlock()
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus
	cfg Config

	c      *cron.Cron
	jobs   []Job
	states map[string]*runState

	queue chan task
	sup   *rtsup.Supervisor

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Service{cfg: cfg, log: log, bus: bus, states: map[string]*runState{}}
}

// Start registers jobs, starts the workers and runs every job once right away.
func (s *Service) Start(ctx context.Context, jobs []Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return errors.New("scheduler already started")
	}

	workers := max(1, s.cfg.Workers)
	qsize := s.cfg.QueueSize
	if qsize <= 0 {
		qsize = 256
	}
	s.queue = make(chan task, qsize)
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log.With(logx.String("comp", "scheduler"))))
	for i := 0; i < workers; i++ {
		q := s.queue
		s.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.worker(c, q)
			return nil
		})
	}

	if err := s.installLocked(jobs, nil); err != nil {
		s.sup.Cancel()
		s.sup, s.queue = nil, nil
		return err
	}
	s.log.Info("scheduler started",
		logx.Int("workers", workers),
		logx.Int("jobs", len(jobs)),
		logx.String("schedule", s.cfg.Spec),
		logx.String("tz", s.location().String()),
	)
	return nil
}

// Replace swaps the job set and schedule. Jobs that did not exist before run
// immediately; existing ones keep their run state so an in-flight cycle is
// not doubled. The worker count is fixed at Start.
func (s *Service) Replace(cfg Config, jobs []Job) error {
	s.mu.Lock()
	if s.c == nil {
		s.mu.Unlock()
		return ErrNotRunning
	}
	known := make(map[string]bool, len(s.jobs))
	for _, j := range s.jobs {
		known[j.Name] = true
	}
	old, prevCfg := s.c, s.cfg
	s.cfg = cfg
	if err := s.installLocked(jobs, known); err != nil {
		s.cfg = prevCfg
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	// Running cron callbacks take s.mu, so wait for them unlocked.
	<-old.Stop().Done()
	s.log.Info("scheduler reloaded", logx.Int("jobs", len(jobs)), logx.String("schedule", cfg.Spec))
	return nil
}

// installLocked builds a fresh cron for jobs and starts it. Jobs whose name
// is not in known are enqueued at once.
func (s *Service) installLocked(jobs []Job, known map[string]bool) error {
	spec, err := ParseSchedule(s.cfg.Spec)
	if err != nil {
		return err
	}
	c := cron.New(cron.WithParser(cronParser), cron.WithLocation(s.location()))

	states := make(map[string]*runState, len(jobs))
	for _, j := range jobs {
		st := s.states[j.Name]
		if st == nil {
			st = &runState{}
		}
		states[j.Name] = st
		t := task{job: j, state: st}
		if _, err := c.AddFunc(spec.CronSpec(), func() { s.enqueue(t) }); err != nil {
			return fmt.Errorf("schedule %s: %w", j.Name, err)
		}
	}

	s.c = c
	s.jobs = append([]Job(nil), jobs...)
	s.states = states
	c.Start()

	for _, j := range jobs {
		if !known[j.Name] {
			s.enqueueLocked(task{job: j, state: states[j.Name]})
		}
	}
	return nil
}

// Stop stops the cron and waits for in-flight cycles until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, sup := s.c, s.sup
	s.c, s.sup, s.queue = nil, nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("scheduler stop incomplete", logx.Err(err))
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) enqueue(t task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueueLocked(t)
}

func (s *Service) enqueueLocked(t task) {
	if s.queue == nil {
		s.log.Debug("scheduler not running; dropping tick", logx.String("repo", t.job.Name))
		return
	}
	if !t.state.tryAcquire() {
		s.log.Debug("previous cycle still in flight; skipping tick", logx.String("repo", t.job.Name))
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeSchedulerSkip, Data: SkipEvent{Name: t.job.Name, At: time.Now()}})
		return
	}
	select {
	case s.queue <- t:
	default:
		t.state.release()
		s.log.Warn("scheduler queue full; dropping tick", logx.String("repo", t.job.Name), logx.Int("queue_cap", cap(s.queue)))
	}
}

func (s *Service) worker(ctx context.Context, q <-chan task) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-q:
			s.execOne(ctx, t)
		}
	}
}

func (s *Service) execOne(ctx context.Context, t task) {
	defer t.state.release()
	start := time.Now()
	_, err := s.runJob(ctx, t.job)
	s.appendHistory(HistoryItem{Name: t.job.Name, Started: start, Duration: time.Since(start), Error: errString(err)})
}

// runJob runs one cycle with the cycle timeout, turning a panic into an error.
func (s *Service) runJob(ctx context.Context, j Job) (rep discovery.CycleReport, err error) {
	s.mu.Lock()
	timeout := s.cfg.CycleTimeout
	s.mu.Unlock()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("cycle panicked", logx.String("repo", j.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("%s: panic: %v", j.Name, r)
		}
	}()
	return j.Runner.RunCycle(ctx)
}

// RunOnce runs every job once, at most Workers at a time, and returns the
// outcomes in job order. One job failing does not stop the others.
func (s *Service) RunOnce(ctx context.Context, jobs []Job) []Outcome {
	s.mu.Lock()
	workers := max(1, s.cfg.Workers)
	s.mu.Unlock()

	out := make([]Outcome, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, j := range jobs {
		g.Go(func() error {
			rep, err := s.runJob(gctx, j)
			out[i] = Outcome{Name: j.Name, Report: rep, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(item HistoryItem) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()
	if size <= 0 {
		size = 200
	}
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}

func (s *Service) location() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
