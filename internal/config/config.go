// Package config loads config.json with viper. Environment variables with
// the XJTUTOOLBOX_ prefix override the file, and a .env file in the working
// directory is read into the environment first.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/notices"
)

var check = validator.New()

type Config struct {
	Account    AccountConfig    `mapstructure:"account"`
	Login      LoginConfig      `mapstructure:"login"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Background BackgroundConfig `mapstructure:"background"`
	Hook       HookConfig       `mapstructure:"hook"`
	Notice     NoticeConfig     `mapstructure:"notice"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
}

type AccountConfig struct {
	Encrypted  bool `mapstructure:"encrypted"`
	UseKeyring bool `mapstructure:"use_keyring"`
}

type LoginConfig struct {
	// normal or webvpn
	AttendanceMethod string `mapstructure:"attendance_method"`
	VisitorID        string `mapstructure:"visitor_id"`
	UserAgent        string `mapstructure:"user_agent"`
}

type HTTPConfig struct {
	RateLimitMS int `mapstructure:"rate_limit_ms"`
	RetryMax    int `mapstructure:"retry_max"`
}

type ScheduleConfig struct {
	// ISO dates whose events the calendar export leaves out
	Holidays []string `mapstructure:"holidays"`
}

type BackgroundConfig struct {
	Score  Timer `mapstructure:"score"`
	Notice Timer `mapstructure:"notice"`
}

// Timer is one background check.
type Timer struct {
	Enabled bool `mapstructure:"enabled"`
	// HH:MM fire times
	Times    []string `mapstructure:"times"`
	LastFire string   `mapstructure:"last_fire"`
}

type HookConfig struct {
	Score ScoreHook `mapstructure:"score"`
}

type ScoreHook struct {
	Enabled     bool          `mapstructure:"enabled"`
	Program     string        `mapstructure:"program"`
	Args        []string      `mapstructure:"args"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
	KeepPayload bool          `mapstructure:"keep_payload"`
	IncludeAll  bool          `mapstructure:"include_all"`
}

type NoticeConfig struct {
	// list pages read per board
	Pages         int                    `mapstructure:"pages"`
	Subscriptions []notices.Subscription `mapstructure:"subscriptions"`
}

type ServerConfig struct {
	Addr         string   `mapstructure:"addr"`
	TokenHash    string   `mapstructure:"token_hash"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Manager ties a Config to the viper instance and file it came from so it
// can be written back.
type Manager struct {
	v    *viper.Viper
	path string
	Config
}

func defaults(v *viper.Viper) {
	v.SetDefault("account.encrypted", false)
	v.SetDefault("account.use_keyring", false)

	v.SetDefault("login.attendance_method", "normal")
	v.SetDefault("login.visitor_id", "")
	v.SetDefault("login.user_agent", "")

	v.SetDefault("http.rate_limit_ms", 200)
	v.SetDefault("http.retry_max", 3)

	v.SetDefault("schedule.holidays", []string{})

	v.SetDefault("background.score.enabled", false)
	v.SetDefault("background.score.times", []string{"12:00", "20:00"})
	v.SetDefault("background.score.last_fire", "")

	v.SetDefault("background.notice.enabled", false)
	v.SetDefault("background.notice.times", []string{"08:00", "18:00"})
	v.SetDefault("background.notice.last_fire", "")

	v.SetDefault("notice.pages", 1)
	v.SetDefault("notice.subscriptions", []map[string]any{{"source": string(notices.Dean)}})

	v.SetDefault("hook.score.enabled", false)
	v.SetDefault("hook.score.program", "")
	v.SetDefault("hook.score.args", []string{"${payload}"})
	v.SetDefault("hook.score.cooldown", "10m")
	v.SetDefault("hook.score.keep_payload", false)
	v.SetDefault("hook.score.include_all", false)

	v.SetDefault("server.addr", "127.0.0.1:8765")
	v.SetDefault("server.token_hash", "")
	v.SetDefault("server.allow_origins", []string{"http://localhost:5173"})

	v.SetDefault("log.level", "info")
}

// Load reads path; a missing file means defaults.
func Load(path string) (*Manager, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.WithError(err).Warn("could not read .env")
	}

	v := viper.New()
	defaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("XJTUTOOLBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	m := &Manager{v: v, path: path}
	if err := m.decode(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) decode() error {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.Config = cfg
	return nil
}

func (c *Config) Validate() error {
	switch c.Login.AttendanceMethod {
	case "normal", "webvpn":
	default:
		return fmt.Errorf("login.attendance_method must be normal or webvpn, got %q", c.Login.AttendanceMethod)
	}
	for name, timer := range map[string]Timer{"score": c.Background.Score, "notice": c.Background.Notice} {
		for _, t := range timer.Times {
			if _, err := time.Parse("15:04", t); err != nil {
				return fmt.Errorf("background.%s.times: %q is not HH:MM", name, t)
			}
		}
	}
	if c.Notice.Pages < 1 {
		return fmt.Errorf("notice.pages must be at least 1")
	}
	for i, sub := range c.Notice.Subscriptions {
		if err := check.Struct(sub); err != nil {
			return fmt.Errorf("notice.subscriptions[%d]: %w", i, err)
		}
	}
	for _, d := range c.Schedule.Holidays {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return fmt.Errorf("schedule.holidays: %q is not a date", d)
		}
	}
	if c.HTTP.RetryMax < 0 {
		return fmt.Errorf("http.retry_max cannot be negative")
	}
	return nil
}

func (m *Manager) Path() string { return m.path }

// Set changes one key and refreshes the decoded Config.
func (m *Manager) Set(key string, value any) error {
	m.v.Set(key, value)
	return m.decode()
}

func (m *Manager) Get(key string) any { return m.v.Get(key) }

// Save writes every key, defaults included, back to the file.
func (m *Manager) Save() error {
	return m.v.WriteConfigAs(m.path)
}

// Holidays parses schedule.holidays in the local zone.
func (c *Config) Holidays() []time.Time {
	out := make([]time.Time, 0, len(c.Schedule.Holidays))
	for _, d := range c.Schedule.Holidays {
		if t, err := time.ParseInLocation("2006-01-02", d, time.Local); err == nil {
			out = append(out, t)
		}
	}
	return out
}
