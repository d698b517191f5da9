package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"motorsched/internal/config"
	"motorsched/internal/device"
	"motorsched/internal/dispatch"
	"motorsched/internal/eventbus"
	"motorsched/internal/metrics"
	"motorsched/internal/observability/diag"
	rtsup "motorsched/internal/runtime/supervisor"
	"motorsched/internal/schedule"
	"motorsched/internal/storage"
	logx "motorsched/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	store   storage.Store
	metrics *metrics.Metrics

	channel *device.Channel
	disp    *dispatch.Dispatcher
	ctrl    *Controller
	diag    *diag.Service
}

type Option func(*options)

type options struct {
	opener device.Opener
	clock  func() time.Time
	ports  func() ([]string, error)
}

// WithOpener replaces the serial opener (tests use an in-memory device).
func WithOpener(o device.Opener) Option { return func(op *options) { op.opener = o } }

func WithClock(now func() time.Time) Option { return func(op *options) { op.clock = now } }

func WithPortLister(fn func() ([]string, error)) Option {
	return func(op *options) { op.ports = fn }
}

// NewApp loads the config at cfgPath (missing file means defaults) and
// builds every component. Nothing runs until Start.
func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var op options
	for _, o := range opts {
		o(&op)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()
	m := metrics.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if store != nil {
		log.Info("dispatch journal enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	readTimeout, err := cfg.SerialReadTimeout()
	if err != nil {
		return nil, err
	}
	chOpts := []device.Option{
		device.WithLogger(log.With(logx.String("comp", "device"))),
		device.WithReadTimeout(readTimeout),
	}
	if op.opener != nil {
		chOpts = append(chOpts, device.WithOpener(op.opener))
	}
	channel := device.New(chOpts...)

	dc, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	dOpts := []dispatch.Option{
		dispatch.WithLogger(log.With(logx.String("comp", "dispatch"))),
		dispatch.WithBus(bus),
		dispatch.WithMetrics(m),
	}
	if op.clock != nil {
		dOpts = append(dOpts, dispatch.WithClock(op.clock))
	}
	disp := dispatch.New(dc, channel, dOpts...)

	ctrl := NewController(ControllerDeps{
		Store:      schedule.New(),
		Channel:    channel,
		Dispatcher: disp,
		Journal:    store,
		Logger:     log.With(logx.String("comp", "controller")),
		Bus:        bus,
		Metrics:    m,
		ListPorts:  op.ports,
	})

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		metrics: m,
		channel: channel,
		disp:    disp,
		ctrl:    ctrl,
	}
	a.diag = diag.New(mapDiagConfig(cfg), m.Registry(), a.Health, log)
	return a, nil
}

func (a *App) Controller() *Controller { return a.ctrl }

func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Context is the app run context; the dispatcher loop is bound to it.
func (a *App) Context() context.Context {
	if a.sup == nil {
		return context.Background()
	}
	return a.sup.Context()
}

// Health is the /healthz body.
func (a *App) Health() any {
	body := map[string]any{
		"status":  "ok",
		"control": a.ctrl.Status(),
	}
	if a.sup != nil {
		body["supervisor"] = a.sup.Snapshot()
	}
	return body
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapDispatchConfig(cfg); err != nil {
			return err
		}
		_, err := mapStorageConfig(cfg)
		return err
	})

	a.diag.Reconfigure(a.sup.Context(), mapDiagConfig(a.cfgm.Get()))

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("journal.record", func(c context.Context) {
		defer unsub()
		recordFirings(c, events, a.store, a.log.With(logx.String("comp", "journal")))
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, last, newCfg)
				last = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("config", a.cfgm.Path()))
	return nil
}

// applyConfig hot-applies logging and diagnostics. Serial and dispatcher
// settings are stored for the next connect or start.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogConfig(newCfg))
		case "diagnostics":
			a.diag.Reconfigure(ctx, mapDiagConfig(newCfg))
		case "dispatcher":
			if dc, err := mapDispatchConfig(newCfg); err == nil {
				a.disp.Apply(dc)
			}
			if a.disp.Running() {
				a.log.Info("dispatcher config changed; takes effect on next start")
			}
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.step(ctx, "dispatcher", 2*time.Second, a.ctrl.Stop)
	a.step(ctx, "device", time.Second, func(context.Context) error { return a.ctrl.Disconnect() })
	a.step(ctx, "diagnostics", time.Second, func(c context.Context) error { a.diag.Stop(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by max (never past ctx's deadline) so
// one component cannot stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

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
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
