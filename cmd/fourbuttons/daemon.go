package main

import (
	"context"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/fourbuttons/internal/activity"
	"github.com/sweeney/fourbuttons/internal/actor"
	"github.com/sweeney/fourbuttons/internal/clock"
	"github.com/sweeney/fourbuttons/internal/config"
	"github.com/sweeney/fourbuttons/internal/control"
	"github.com/sweeney/fourbuttons/internal/gpio"
	"github.com/sweeney/fourbuttons/internal/metrics"
	"github.com/sweeney/fourbuttons/internal/mqtt"
	"github.com/sweeney/fourbuttons/internal/notify"
	"github.com/sweeney/fourbuttons/internal/scheduler"
	"github.com/sweeney/fourbuttons/internal/status"
	"github.com/sweeney/fourbuttons/internal/store"
	"github.com/sweeney/fourbuttons/internal/web"
)

// deps are the external collaborators of the daemon.
type deps struct {
	cfg          *config.Config
	log          *zap.SugaredLogger
	clock        clock.Clock
	store        store.Gateway
	board        gpio.Board
	boardKind    string
	notifier     notify.Notifier
	notifierKind string
	publisher    mqtt.Publisher // nil when MQTT is disabled
	metrics      *metrics.Metrics
	network      func() *status.NetworkInfo
}

// daemon is the wired device: one supervised control actor per activity,
// the button router, the scheduler and the status surfaces.
type daemon struct {
	deps
	tracker  *status.Tracker
	sup      *actor.Supervisor
	refs     map[activity.ID]*actor.Ref[control.Message]
	router   *control.Router
	sched    *scheduler.Scheduler
	reporter *mqtt.Reporter
	web      *web.Server
}

// loopChans drive the main loop. Nil channels never fire.
type loopChans struct {
	sig       <-chan os.Signal
	tick      <-chan time.Time
	heartbeat <-chan time.Time
}

func newDaemon(d deps) *daemon {
	cfg := d.cfg
	dm := &daemon{
		deps: d,
		refs: make(map[activity.ID]*actor.Ref[control.Message], len(cfg.Activities)),
	}

	dm.tracker = status.NewTracker(d.clock.Now(), status.Config{
		TickMs:      cfg.Device.Tick.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Interval.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPPort:    cfg.HTTP.Addr,
		Board:       d.boardKind,
		Notifier:    d.notifierKind,
		Database:    cfg.Database.Path,
	}, cfg.Activities)
	if d.network != nil {
		if net := d.network(); net != nil {
			dm.tracker.SetNetwork(net)
		}
	}

	reporters := []control.Reporter{dm.tracker}
	if d.publisher != nil {
		dm.reporter = mqtt.NewReporter(d.publisher, mqtt.DefaultQueueSize, d.log.Named("mqtt"))
		reporters = append(reporters, dm.reporter)
	}

	dm.sup = actor.NewSupervisor(d.log.Named("supervisor"),
		actor.WithIntensity(cfg.Device.MaxRestarts, cfg.Device.RestartWindow),
		actor.WithRestartHook(func(name string, _ error) { d.metrics.ActorRestart(name) }),
	)

	senders := make(map[activity.ID]scheduler.Sender, len(cfg.Activities))
	for _, def := range cfg.Activities {
		ref := actor.Supervise(dm.sup, string(def.ID), control.Factory(control.Config{
			Definition: def,
			Store:      d.store,
			LEDs:       d.board,
			Notifier:   d.notifier,
			Clock:      d.clock,
			Log:        d.log.Named("control"),
			Metrics:    d.metrics,
			Reporters:  reporters,
			Blink:      cfg.Device.Blink,
		}))
		dm.refs[def.ID] = ref
		senders[def.ID] = ref
	}

	dm.router = control.NewRouter(d.board, dm.refs, d.log.Named("router"))
	dm.sched = scheduler.New(cfg.Activities, d.store, senders, d.log.Named("scheduler"), d.metrics, dm.tracker)

	if cfg.HTTP.Addr != "" {
		opts := web.Options{Metrics: d.metrics.Handler(), Now: d.clock.Now}
		if cfg.HTTP.Press {
			opts.Press = dm.press
		}
		if cfg.HTTP.AccessLog {
			opts.AccessLog = os.Stderr
		}
		dm.web = web.New(cfg.HTTP.Addr, dm.tracker, d.log.Named("web"), opts)
	}
	return dm
}

// press delivers a press that did not come from a button.
func (d *daemon) press(id activity.ID, at time.Time) bool {
	return d.router.Route(gpio.Press{ActivityID: id, At: at})
}

// run publishes STARTUP, runs every component until a signal arrives, the
// console asks to quit or a component fails, then publishes SHUTDOWN.
func (d *daemon) run(ctx context.Context, ch loopChans) error {
	d.publishSystem(mqtt.EventStartup, "")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.sup.Run(gctx) })
	g.Go(func() error { return d.router.Run(gctx) })
	g.Go(func() error { return d.sched.Run(gctx, ch.tick, d.clock.Now) })
	if d.reporter != nil {
		g.Go(func() error { return d.reporter.Run(gctx) })
	}
	if d.web != nil {
		g.Go(func() error {
			if err := d.web.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "http server")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return d.web.Shutdown(shutdownCtx)
		})
		d.log.Infow("http status server listening", "addr", d.cfg.HTTP.Addr)
	}

	var quit <-chan struct{}
	if q, ok := d.board.(interface{ Quit() <-chan struct{} }); ok {
		quit = q.Quit()
	}

	reason := d.loop(gctx, ch, quit)
	d.publishSystem(mqtt.EventShutdown, reason)

	cancel()
	return g.Wait()
}

// loop handles signals and heartbeats until shutdown and returns the
// shutdown reason.
func (d *daemon) loop(ctx context.Context, ch loopChans, quit <-chan struct{}) string {
	for {
		select {
		case s := <-ch.sig:
			name := signalName(s)
			d.log.Infow("shutting down", "signal", name)
			return name
		case <-quit:
			d.log.Infow("shutting down", "signal", "QUIT")
			return "QUIT"
		case <-ctx.Done():
			d.log.Errorw("component failed, shutting down")
			return "ERROR"
		case <-ch.heartbeat:
			d.heartbeat()
		}
	}
}

func (d *daemon) heartbeat() {
	if d.network != nil {
		if net := d.network(); net != nil {
			d.tracker.SetNetwork(net)
		}
	}
	snap := d.publishSystem(mqtt.EventHeartbeat, "")
	d.log.Infow("heartbeat",
		"uptime", snap.Uptime().Truncate(time.Second),
		"outstanding", snap.Outstanding(),
		"mqtt", snap.MQTTConnected)
}

// publishSystem refreshes the status snapshot and publishes it as a
// system event. It returns the snapshot.
func (d *daemon) publishSystem(event, reason string) status.Snapshot {
	if cs, ok := d.publisher.(mqtt.ConnectionStatus); ok {
		d.tracker.SetMQTTConnected(cs.IsConnected())
	}
	snap := d.tracker.Snapshot()
	if d.publisher == nil {
		return snap
	}
	err := d.publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  d.clock.Now(),
		Event:      event,
		Reason:     reason,
		Retained:   event != mqtt.EventHeartbeat,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		d.log.Warnw("failed to publish system event", "event", event, "error", err)
	} else {
		d.log.Debugw("published system event", "event", event)
	}
	return snap
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
