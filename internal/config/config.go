// Package config loads the daemon configuration from a TOML file, a .env
// file and FOURBUTTONS_* environment variables, in increasing precedence.
package config

import (
	"io/fs"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sweeney/fourbuttons/internal/activity"
	"github.com/sweeney/fourbuttons/internal/gpio"
	"github.com/sweeney/fourbuttons/internal/logging"
	"github.com/sweeney/fourbuttons/internal/schedule"
)

// EnvPrefix prefixes every environment override, e.g.
// FOURBUTTONS_EMAIL_API_KEY for email.api_key.
const EnvPrefix = "FOURBUTTONS"

// Config is the loaded, validated configuration. Treat it as immutable.
type Config struct {
	Device     DeviceConfig          `mapstructure:"device"`
	Database   DatabaseConfig        `mapstructure:"database"`
	MQTT       MQTTConfig            `mapstructure:"mqtt"`
	HTTP       HTTPConfig            `mapstructure:"http"`
	Email      EmailConfig           `mapstructure:"email"`
	Log        LogConfig             `mapstructure:"log"`
	Heartbeat  HeartbeatConfig       `mapstructure:"heartbeat"`
	Activities []activity.Definition `mapstructure:"-"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

type DeviceConfig struct {
	Tick     time.Duration `mapstructure:"tick"`
	Chip     string        `mapstructure:"chip"`
	Debounce time.Duration `mapstructure:"debounce"`
	Timezone string        `mapstructure:"timezone"`
	// Simulate replaces the GPIO board with a console one reading stdin.
	Simulate bool `mapstructure:"simulate"`
	// MaxRestarts actor restarts are allowed per RestartWindow.
	MaxRestarts   int           `mapstructure:"max_restarts"`
	RestartWindow time.Duration `mapstructure:"restart_window"`
	// Blink is how long an LED blinks after an acknowledging press.
	Blink time.Duration `mapstructure:"blink"`

	Location *time.Location `mapstructure:"-"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// MQTTConfig is disabled when Broker is empty.
type MQTTConfig struct {
	Broker     string `mapstructure:"broker"`
	ClientID   string `mapstructure:"client_id"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	BufferSize int    `mapstructure:"buffer_size"`
}

// HTTPConfig is disabled when Addr is empty.
type HTTPConfig struct {
	Addr      string `mapstructure:"addr"`
	AccessLog bool   `mapstructure:"access_log"`
	// Press enables the virtual press endpoint.
	Press bool `mapstructure:"press"`
}

// EmailConfig configures the Mailgun notifier. Without a domain and API
// key escalations are only logged.
type EmailConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Domain    string        `mapstructure:"domain"`
	APIKey    string        `mapstructure:"api_key"`
	From      string        `mapstructure:"from"`
	To        string        `mapstructure:"to"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateEvery time.Duration `mapstructure:"rate_every"`
	RateBurst int           `mapstructure:"rate_burst"`
}

// Enabled reports whether email escalation is configured.
func (e EmailConfig) Enabled() bool {
	return e.Domain != "" && e.APIKey != ""
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Encoding   string `mapstructure:"encoding"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Logging converts to the logging package's options.
func (l LogConfig) Logging() logging.Config {
	return logging.Config{
		Level:      l.Level,
		Encoding:   l.Encoding,
		File:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
	}
}

// HeartbeatConfig is disabled when Interval is zero.
type HeartbeatConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// activityConfig is one [[activity]] table.
type activityConfig struct {
	ID            string        `mapstructure:"id"`
	Name          string        `mapstructure:"name"`
	Schedule      string        `mapstructure:"schedule"`
	Grace         time.Duration `mapstructure:"grace"`
	EscalateAfter time.Duration `mapstructure:"escalate_after"`
	Button        int           `mapstructure:"button"`
	LED           int           `mapstructure:"led"`
	Message       string        `mapstructure:"message"`
}

const (
	DefaultGrace         = time.Hour
	DefaultEscalateAfter = 2 * time.Hour
)

// defaultActivities is the stock panel wiring. Button 3 and LED 24 are
// fitted but unassigned.
var defaultActivities = []activityConfig{
	{ID: "pills", Name: "Take pills", Schedule: "daily 06:00", Button: 2, LED: 23},
	{ID: "i", Name: "I", Schedule: "weekly thu 06:00", Button: 20, LED: 22},
	{ID: "plants", Name: "Water plants", Schedule: "daily sat 06:00", Button: 21, LED: 27},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device.tick", time.Second)
	v.SetDefault("device.chip", gpio.DefaultChip)
	v.SetDefault("device.debounce", gpio.DefaultDebounce)
	v.SetDefault("device.timezone", "Local")
	v.SetDefault("device.simulate", false)
	v.SetDefault("device.max_restarts", 5)
	v.SetDefault("device.restart_window", 5*time.Minute)
	v.SetDefault("device.blink", time.Second)

	v.SetDefault("database.path", "./db/fourbuttons.db")

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "fourbuttons")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.buffer_size", 256)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.access_log", false)
	v.SetDefault("http.press", true)

	v.SetDefault("email.base_url", "https://api.mailgun.net")
	v.SetDefault("email.domain", "")
	v.SetDefault("email.api_key", "")
	v.SetDefault("email.from", "")
	v.SetDefault("email.to", "")
	v.SetDefault("email.timeout", 10*time.Second)
	v.SetDefault("email.rate_every", 10*time.Minute)
	v.SetDefault("email.rate_burst", 4)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("heartbeat.interval", 15*time.Minute)
}

// Options locate the configuration sources.
type Options struct {
	// File is an explicit config file; it must exist. When empty,
	// fourbuttons.toml is searched for in SearchPaths.
	File        string
	SearchPaths []string
	// EnvFile is loaded into the environment if it exists.
	EnvFile string
}

// DefaultSearchPaths are searched for fourbuttons.toml.
var DefaultSearchPaths = []string{".", "/etc/fourbuttons"}

// Load reads and validates the configuration. Every error is marked
// activity.ErrConfiguration.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, activity.Configuration(errors.Wrapf(err, "load %s", opts.EnvFile))
		}
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName("fourbuttons")
		paths := opts.SearchPaths
		if paths == nil {
			paths = DefaultSearchPaths
		}
		for _, p := range paths {
			v.AddConfigPath(p)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, activity.Configuration(errors.Wrap(err, "read config"))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, activity.Configuration(errors.Wrap(err, "decode config"))
	}
	cfg.File = v.ConfigFileUsed()

	raw := defaultActivities
	if v.IsSet("activity") {
		raw = nil
		if err := v.UnmarshalKey("activity", &raw); err != nil {
			return nil, activity.Configuration(errors.Wrap(err, "decode activities"))
		}
	}

	if err := cfg.finish(raw); err != nil {
		return nil, activity.Configuration(err)
	}
	return &cfg, nil
}

// finish resolves derived fields and validates.
func (c *Config) finish(raw []activityConfig) error {
	loc, err := loadLocation(c.Device.Timezone)
	if err != nil {
		return err
	}
	c.Device.Location = loc

	if c.Device.Tick <= 0 {
		return errors.Newf("device.tick must be positive, got %s", c.Device.Tick)
	}
	if c.Device.Debounce < 0 {
		return errors.Newf("device.debounce must not be negative, got %s", c.Device.Debounce)
	}
	if c.Device.Blink < 0 {
		return errors.Newf("device.blink must not be negative, got %s", c.Device.Blink)
	}
	if c.Database.Path == "" {
		return errors.New("database.path is empty")
	}
	if c.Heartbeat.Interval < 0 {
		return errors.New("heartbeat.interval must not be negative")
	}
	if c.Email.Enabled() && (c.Email.From == "" || c.Email.To == "") {
		return errors.New("email.from and email.to are required when email is configured")
	}

	defs := make([]activity.Definition, 0, len(raw))
	for i, a := range raw {
		def, err := a.definition(loc)
		if err != nil {
			return errors.Wrapf(err, "activity %d", i+1)
		}
		defs = append(defs, def)
	}
	if err := activity.ValidateAll(defs); err != nil {
		return err
	}
	c.Activities = defs
	return nil
}

func (a activityConfig) definition(loc *time.Location) (activity.Definition, error) {
	rule, err := schedule.ParseRule(a.Schedule)
	if err != nil {
		return activity.Definition{}, err
	}
	name := a.Name
	if name == "" {
		name = a.ID
	}
	grace := a.Grace
	if grace == 0 {
		grace = DefaultGrace
	}
	timeout := a.EscalateAfter
	if timeout == 0 {
		timeout = DefaultEscalateAfter
	}
	return activity.Definition{
		ID:                activity.ID(a.ID),
		Name:              name,
		Rule:              rule.In(loc),
		GracePeriod:       grace,
		EscalationTimeout: timeout,
		ButtonPin:         a.Button,
		LEDPin:            a.LED,
		Message:           a.Message,
	}, nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, errors.Wrapf(err, "device.timezone %q", name)
	}
	return loc, nil
}
