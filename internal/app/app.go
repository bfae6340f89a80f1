package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"repowatch/internal/config"
	"repowatch/internal/discovery"
	"repowatch/internal/eventbus"
	"repowatch/internal/notifier"
	"repowatch/internal/notifier/sinks"
	"repowatch/internal/observability/status"
	rtsup "repowatch/internal/runtime/supervisor"
	"repowatch/internal/scheduler"
	"repowatch/internal/storage"
	"repowatch/internal/vcs"
	"repowatch/internal/vcs/gitrepo"
	"repowatch/internal/vcs/svn"
	"repowatch/internal/watermark"
	logx "repowatch/pkg/logx"
	"repowatch/pkg/systemd"
)

// Options are the command-line level knobs.
type Options struct {
	ConfigPath string
	// Interval overrides watch.schedule and watch.interval when > 0.
	Interval time.Duration
	// DryRun keeps watermarks in memory and only logs notifications.
	DryRun bool
}

type App struct {
	cfgPath string
	opts    Options

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	marks *watermark.Store
	sinks *sinks.Set

	fetcher vcs.Fetcher
	notif   *notifier.Service
	sched   *scheduler.Service
	status  *status.Service
	started time.Time
}

func NewApp(opts Options) (*App, error) {
	return newApp(opts, nil)
}

// newApp builds the app. A nil fetcher selects the svn and git backends.
func newApp(opts Options, fetcher vcs.Fetcher) (*App, error) {
	cfgPath, err := config.Locate(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg, cfgPath, opts.Interval); err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrConfig, err)
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg, cfgPath, opts.DryRun)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	sinkSet, err := sinks.Build(cfg.Notifier.Sinks, opts.DryRun, log.With(logx.String("comp", "notify")))
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = sinkSet.Close()
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	notifSvc := notifier.New(ncfg, sinkSet.Sinks, log.With(logx.String("comp", "notifier")), bus)

	schedCfg, err := mapSchedulerConfig(cfg, opts.Interval)
	if err != nil {
		_ = sinkSet.Close()
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	schedSvc := scheduler.New(schedCfg, log.With(logx.String("comp", "scheduler")), bus)

	stCfg, err := mapStatusConfig(cfg)
	if err != nil {
		_ = sinkSet.Close()
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	if fetcher == nil {
		reg := vcs.NewRegistry()
		reg.Register(config.KindSVN, svn.New())
		reg.Register(config.KindGit, gitrepo.New())
		fetcher = reg
	}

	a := &App{
		cfgPath: cfgPath,
		opts:    opts,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		marks:   watermark.New(store),
		sinks:   sinkSet,
		fetcher: fetcher,
		notif:   notifSvc,
		sched:   schedSvc,
	}
	a.status = status.New(stCfg, a.snapshot, log.With(logx.String("comp", "status")))
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// jobs builds one discovery monitor per configured repository.
func (a *App) jobs(cfg *config.Config) []scheduler.Job {
	deps := discovery.Deps{
		Fetcher:     a.fetcher,
		Watermarks:  a.marks,
		Notifier:    a.notif,
		Formatter:   discovery.Formatter{Location: location(cfg)},
		MaxDetailed: cfg.Watch.MaxDetailedOrDefault(),
		Log:         a.log.With(logx.String("comp", "discovery")),
		Bus:         a.bus,
	}
	out := make([]scheduler.Job, 0, len(cfg.Repositories))
	for _, r := range cfg.Repositories {
		out = append(out, scheduler.Job{Name: r.Name, Runner: discovery.NewMonitor(r, deps)})
	}
	return out
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg, a.cfgPath, a.opts.Interval)
	})

	a.started = time.Now()
	a.startJournal()
	a.notif.Start(a.sup.Context())
	a.status.Start(a.sup.Context())

	cfg := a.cfgm.Get()
	if err := a.sched.Start(a.sup.Context(), a.jobs(cfg)); err != nil {
		return err
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		if err := systemd.Watchdog(c); err != nil {
			a.log.Warn("systemd watchdog stopped", logx.Err(err))
		}
		return nil
	})

	if _, err := systemd.Ready(); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}
	a.reportStatus(cfg)
	a.log.Info("app started",
		logx.String("config", a.cfgPath),
		logx.Int("repositories", len(cfg.Repositories)),
		logx.Any("sinks", a.notif.Sinks()),
		logx.Bool("dry_run", a.opts.DryRun),
	)
	return nil
}

// applyConfig pushes a committed config into the running services.
func (a *App) applyConfig(prev, next *config.Config) {
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		switch s {
		case "storage", "notifier.sinks":
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLogConfig(next))

	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	if scfg, err := mapSchedulerConfig(next, a.opts.Interval); err != nil {
		a.log.Warn("invalid watch config; keeping previous", logx.Err(err))
	} else if err := a.sched.Replace(scfg, a.jobs(next)); err != nil {
		a.log.Warn("scheduler reload failed", logx.Err(err))
	}

	if stCfg, err := mapStatusConfig(next); err != nil {
		a.log.Warn("invalid status config; keeping previous", logx.Err(err))
	} else {
		a.status.Reconfigure(a.sup.Context(), stCfg)
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: sections})
	a.reportStatus(next)

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Snapshot is the runtime view served on /status.
type Snapshot struct {
	Config        string                  `json:"config"`
	Started       time.Time               `json:"started"`
	DryRun        bool                    `json:"dry_run"`
	Repositories  []string                `json:"repositories"`
	Sinks         []string                `json:"sinks"`
	Cycles        []scheduler.HistoryItem `json:"cycles"`
	Notifications []notifier.HistoryItem  `json:"notifications"`
	Goroutines    rtsup.Counters          `json:"goroutines"`
}

func (a *App) snapshot() any {
	snap := Snapshot{
		Config:        a.cfgPath,
		Started:       a.started,
		DryRun:        a.opts.DryRun,
		Sinks:         a.notif.Sinks(),
		Cycles:        a.sched.History(),
		Notifications: a.notif.History(),
	}
	if cfg := a.cfgm.Get(); cfg != nil {
		for _, r := range cfg.Repositories {
			snap.Repositories = append(snap.Repositories, r.Name)
		}
	}
	if a.sup != nil {
		snap.Goroutines = a.sup.Counters()
	}
	return snap
}

func (a *App) reportStatus(cfg *config.Config) {
	msg := fmt.Sprintf("watching %d repositories", len(cfg.Repositories))
	if _, err := systemd.Status(msg); err != nil {
		a.log.Debug("systemd status failed", logx.Err(err))
	}
}

// startJournal appends every finished cycle to the storage journal.
func (a *App) startJournal() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("journal", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				if e.Type != eventbus.TypeCycleCompleted && e.Type != eventbus.TypeCycleFailed {
					continue
				}
				rep, ok := e.Data.(discovery.CycleReport)
				if !ok {
					continue
				}
				a.journal(c, e.Time, rep)
			}
		}
	})
}

func (a *App) journal(ctx context.Context, at time.Time, rep discovery.CycleReport) {
	// Skip the quiet cycles; they would dominate the journal.
	if rep.Error == "" && rep.Found == 0 {
		return
	}
	if err := a.store.AppendCycle(ctx, cycleRecord(at, rep)); err != nil {
		a.log.Warn("journal append failed", logx.String("repo", rep.Repo), logx.Err(err))
	}
}

func cycleRecord(at time.Time, rep discovery.CycleReport) storage.CycleRecord {
	return storage.CycleRecord{
		At:       at,
		Repo:     rep.Repo,
		From:     rep.From,
		To:       rep.To,
		Found:    rep.Found,
		Shown:    rep.Shown,
		Overflow: rep.Overflow,
		Error:    rep.Error,
		TookMS:   rep.Took.Milliseconds(),
	}
}

// RunOnce runs a single cycle for every repository, waits for the queued
// notifications to be delivered and returns the joined cycle errors.
func (a *App) RunOnce(ctx context.Context) error {
	a.notif.Start(ctx)

	cfg := a.cfgm.Get()
	outcomes := a.sched.RunOnce(ctx, a.jobs(cfg))

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	a.notif.Stop(drainCtx)
	cancel()

	var errs []error
	for _, o := range outcomes {
		a.journal(ctx, time.Now(), o.Report)
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	a.log.Info("single pass finished", logx.Int("repositories", len(outcomes)), logx.Int("failed", len(errs)))
	return errors.Join(errs...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}

	// First, cancel the app run context so background loops start unwinding immediately.
	// The notifier worker is not bound to it and keeps draining until its own step.
	if a.sup != nil {
		a.sup.Cancel()
	}

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Scheduler first so no new cycles queue notifications, then drain the notifier.
	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("notifier", 5*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("status", time.Second, func(c context.Context) error { a.status.Stop(c); return nil })
	step("sinks", time.Second, func(context.Context) error { return a.sinks.Close() })
	if a.sup != nil {
		step("supervisor", 2*time.Second, func(c context.Context) error {
			err := a.sup.Wait(c)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
