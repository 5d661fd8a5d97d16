// Command fourbuttons runs the four-button reminder device: it lights a
// button when an activity falls due, records the press that acknowledges
// it, and emails an escalation when nobody does.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sweeney/fourbuttons/internal/activity"
	"github.com/sweeney/fourbuttons/internal/clock"
	"github.com/sweeney/fourbuttons/internal/config"
	"github.com/sweeney/fourbuttons/internal/gpio"
	"github.com/sweeney/fourbuttons/internal/logging"
	"github.com/sweeney/fourbuttons/internal/metrics"
	"github.com/sweeney/fourbuttons/internal/mqtt"
	"github.com/sweeney/fourbuttons/internal/notify"
	"github.com/sweeney/fourbuttons/internal/schedule"
	"github.com/sweeney/fourbuttons/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type globalFlags struct {
	configFile string
	envFile    string
	simulate   bool
	logLevel   string
}

func newRootCmd() *cobra.Command {
	var flags globalFlags
	root := &cobra.Command{
		Use:           "fourbuttons",
		Short:         "Four-button reminder device",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd, &flags)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configFile, "config", "c", "", "config file (default: fourbuttons.toml in . or /etc/fourbuttons)")
	pf.StringVar(&flags.envFile, "env-file", ".env", "environment file loaded before the config")
	pf.BoolVar(&flags.simulate, "simulate", false, "use a console board instead of GPIO")
	pf.StringVar(&flags.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(newNextCmd(&flags), newMigrateCmd(&flags), newHistoryCmd(&flags))
	return root
}

// setup loads the configuration and builds the logger. Flags override the
// file only when given.
func setup(cmd *cobra.Command, flags *globalFlags) (*config.Config, *zap.Logger, io.Closer, error) {
	cfg, err := config.Load(config.Options{File: flags.configFile, EnvFile: flags.envFile})
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "fatal: %v\n", err)
		return nil, nil, nil, err
	}
	if cmd.Flags().Changed("simulate") {
		cfg.Device.Simulate = flags.simulate
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	log, closer, err := logging.New(cfg.Log.Logging())
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "fatal: %v\n", err)
		return nil, nil, nil, activity.Configuration(err)
	}
	return cfg, log, closer, nil
}

// openStore opens the database and brings its schema up to date.
func openStore(ctx context.Context, path string, log *zap.SugaredLogger) (*store.SQLiteStore, error) {
	st, err := store.OpenSQLite(path, log)
	if err != nil {
		return nil, err
	}
	if _, err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func runDaemon(cmd *cobra.Command, flags *globalFlags) error {
	cfg, zl, closer, err := setup(cmd, flags)
	if err != nil {
		return err
	}
	defer closer.Close()
	defer zl.Sync()
	log := zl.Sugar()

	if err := run(cmd.Context(), cfg, log); err != nil {
		log.Errorw("fatal", "error", err)
		return err
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openStore(ctx, cfg.Database.Path, log)
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer st.Close()

	pins := gpio.PinsFor(cfg.Activities)
	var board gpio.Board
	var boardKind string
	if cfg.Device.Simulate {
		board = gpio.NewConsoleBoard(os.Stdin, pins, log.Named("console"))
		boardKind = "console"
	} else {
		rb, err := gpio.NewRealBoard(cfg.Device.Chip, pins, cfg.Device.Debounce, log.Named("gpio"))
		if err != nil {
			return errors.Wrap(err, "init gpio")
		}
		board = rb
		boardKind = "gpio"
	}
	defer board.Close()

	var notifier notify.Notifier = notify.LogNotifier{Log: log.Named("notify")}
	notifierKind := "log"
	if cfg.Email.Enabled() {
		mg := notify.NewMailgun(notify.MailgunConfig{
			BaseURL: cfg.Email.BaseURL,
			Domain:  cfg.Email.Domain,
			APIKey:  cfg.Email.APIKey,
			From:    cfg.Email.From,
			To:      cfg.Email.To,
			Timeout: cfg.Email.Timeout,
		}, log.Named("mailgun"))
		notifier = notify.NewRateLimited(mg, cfg.Email.RateEvery, cfg.Email.RateBurst)
		notifierKind = "mailgun"
	}

	var publisher mqtt.Publisher
	if cfg.MQTT.Broker != "" {
		p, err := mqtt.NewRealPublisher(mqtt.Config{
			Broker:     cfg.MQTT.Broker,
			ClientID:   cfg.MQTT.ClientID,
			Username:   cfg.MQTT.Username,
			Password:   cfg.MQTT.Password,
			BufferSize: cfg.MQTT.BufferSize,
		}, log.Named("mqtt"))
		if err != nil {
			return errors.Wrap(err, "init mqtt")
		}
		publisher = p
		defer p.Close()
	}

	d := newDaemon(deps{
		cfg:          cfg,
		log:          log,
		clock:        clock.Real{},
		store:        st,
		board:        board,
		boardKind:    boardKind,
		notifier:     notifier,
		notifierKind: notifierKind,
		publisher:    publisher,
		metrics:      metrics.New(),
		network:      readNetworkInfo,
	})

	log.Infow("started",
		"activities", len(cfg.Activities),
		"tick", cfg.Device.Tick,
		"board", boardKind,
		"notifier", notifierKind,
		"broker", cfg.MQTT.Broker,
		"http", cfg.HTTP.Addr,
		"config", cfg.File,
	)

	ticker := time.NewTicker(cfg.Device.Tick)
	defer ticker.Stop()

	var heartbeat <-chan time.Time
	if cfg.Heartbeat.Interval > 0 {
		hb := time.NewTicker(cfg.Heartbeat.Interval)
		defer hb.Stop()
		heartbeat = hb.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return d.run(ctx, loopChans{
		sig:       sigCh,
		tick:      ticker.C,
		heartbeat: heartbeat,
	})
}

func newNextCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Print when each activity is next due",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, zl, closer, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			defer closer.Close()
			st, err := openStore(cmd.Context(), cfg.Database.Path, zl.Sugar())
			if err != nil {
				return err
			}
			defer st.Close()
			return printNext(cmd.Context(), cmd.OutOrStdout(), cfg.Activities, st, time.Now())
		},
	}
}

// printNext writes one line per activity with its rule, next occurrence
// and last completion.
func printNext(ctx context.Context, out io.Writer, defs []activity.Definition, st store.Gateway, now time.Time) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACTIVITY\tSCHEDULE\tNEXT DUE\tLAST COMPLETED")
	for _, def := range defs {
		if err := st.Ensure(ctx, def.ID, now); err != nil {
			return err
		}
		rec, err := st.Load(ctx, def.ID)
		if err != nil {
			return err
		}
		due := schedule.NextDue(def.Rule, now, rec.Anchor())
		marker := ""
		if !due.After(now) {
			marker = " (due now)"
		}
		last := "never"
		if rec.LastCompleted != nil {
			last = rec.LastCompleted.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s%s\t%s\n", def.ID, def.Rule, due.Format(time.RFC3339), marker, last)
	}
	return w.Flush()
}

func newMigrateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, zl, closer, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			defer closer.Close()
			st, err := store.OpenSQLite(cfg.Database.Path, zl.Sugar())
			if err != nil {
				return err
			}
			defer st.Close()
			applied, err := st.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s) to %s\n", applied, cfg.Database.Path)
			return nil
		},
	}
}

func newHistoryCmd(flags *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [activity...]",
		Short: "Print recorded completions and escalations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, zl, closer, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			defer closer.Close()
			st, err := openStore(cmd.Context(), cfg.Database.Path, zl.Sugar())
			if err != nil {
				return err
			}
			defer st.Close()

			ids := make([]activity.ID, 0, len(cfg.Activities))
			if len(args) == 0 {
				for _, def := range cfg.Activities {
					ids = append(ids, def.ID)
				}
			} else {
				for _, a := range args {
					ids = append(ids, activity.ID(a))
				}
			}
			return printHistory(cmd.Context(), cmd.OutOrStdout(), st, ids, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "entries per activity")
	return cmd
}

type historySource interface {
	History(ctx context.Context, id activity.ID, limit int) ([]store.Event, error)
}

func printHistory(ctx context.Context, out io.Writer, src historySource, ids []activity.ID, limit int) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACTIVITY\tEVENT\tAT")
	for _, id := range ids {
		events, err := src.History(ctx, id, limit)
		if err != nil {
			return err
		}
		for _, e := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.ActivityID, e.Kind, e.At.Format(time.RFC3339))
		}
	}
	return w.Flush()
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)
