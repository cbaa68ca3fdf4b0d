package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/ibeckermayer/renew4me/internal/panel"
)

// Config holds all application configuration
type Config struct {
	Version     int               `toml:"version"`
	Target      TargetConfig      `toml:"target"`
	Credentials Credentials       `toml:"-"`
	Browser     BrowserConfig     `toml:"browser"`
	Timeouts    TimeoutsConfig    `toml:"timeouts"`
	Labels      []LabelConfig     `toml:"labels"`
	Telegram    TelegramConfig    `toml:"telegram"`
	Email       EmailConfig       `toml:"email"`
	Schedule    ScheduleConfig    `toml:"schedule"`
	History     HistoryConfig     `toml:"history"`
	Screenshots ScreenshotsConfig `toml:"screenshots"`
	Log         LogConfig         `toml:"log"`
}

type TargetConfig struct {
	ServerURL        string `toml:"server_url"`
	LoginURL         string `toml:"login_url"`
	PostLoginURLGlob string `toml:"post_login_url_glob"`
}

// Credentials are only ever read from the environment.
type Credentials struct {
	Email    string
	Password string
}

type BrowserConfig struct {
	Headless  bool   `toml:"headless"`
	UserAgent string `toml:"user_agent"`
	NoSandbox bool   `toml:"no_sandbox"`
}

type TimeoutsConfig struct {
	Action         Duration `toml:"action"`
	LoginNavigate  Duration `toml:"login_navigate"`
	LoginInputs    Duration `toml:"login_inputs"`
	PostLoginURL   Duration `toml:"post_login_url"`
	PostLoginIdle  Duration `toml:"post_login_idle"`
	ServerNavigate Duration `toml:"server_navigate"`
	ServerIdle     Duration `toml:"server_idle"`
	Settle         Duration `toml:"settle"`
}

type LabelConfig struct {
	Name  string `toml:"name"`
	Kind  string `toml:"kind"`
	Label string `toml:"label"`
}

type TelegramConfig struct {
	Token   string `toml:"token"`
	ChatID  string `toml:"chat_id"`
	APIBase string `toml:"api_base"`
}

type EmailConfig struct {
	SMTPHost string `toml:"smtp_host"`
	SMTPPort int    `toml:"smtp_port"`
	SMTPUser string `toml:"smtp_user"`
	SMTPPass string `toml:"smtp_pass"`
	FromAddr string `toml:"from_address"`
	ToAddr   string `toml:"to_address"`
}

type ScheduleConfig struct {
	Cron     string   `toml:"cron"`
	Timezone string   `toml:"timezone"`
	Timeout  Duration `toml:"timeout"`
}

type HistoryConfig struct {
	DBPath string `toml:"db_path"`
	Keep   int    `toml:"keep"` // runs retained after each save, 0 keeps all
}

type ScreenshotsConfig struct {
	Dir string `toml:"dir"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text or json
}

// Default returns a Config with the most defensive timeouts
func Default() *Config {
	cfg := &Config{
		Version: 1,
		Target: TargetConfig{
			ServerURL:        panel.DefaultServerURL,
			LoginURL:         panel.DefaultLoginURL,
			PostLoginURLGlob: panel.ServerAreaGlob,
		},
		Browser: BrowserConfig{
			Headless:  true,
			NoSandbox: true,
		},
		Timeouts: TimeoutsConfig{
			Action:         Duration{120 * time.Second},
			LoginNavigate:  Duration{120 * time.Second},
			LoginInputs:    Duration{60 * time.Second},
			PostLoginURL:   Duration{60 * time.Second},
			PostLoginIdle:  Duration{30 * time.Second},
			ServerNavigate: Duration{90 * time.Second},
			ServerIdle:     Duration{30 * time.Second},
			Settle:         Duration{30 * time.Second},
		},
		Telegram: TelegramConfig{
			APIBase: "https://api.telegram.org",
		},
		Email: EmailConfig{
			SMTPPort: 587,
		},
		Schedule: ScheduleConfig{
			Cron:     "0 */6 * * *",
			Timezone: "UTC",
			Timeout:  Duration{15 * time.Minute},
		},
		History: HistoryConfig{
			Keep: 500,
		},
		Screenshots: ScreenshotsConfig{
			Dir: ".",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}

	for _, m := range panel.DefaultMatchers() {
		cfg.Labels = append(cfg.Labels, LabelConfig{Name: m.Name, Kind: string(m.Kind), Label: m.Label})
	}

	return cfg
}

// Enabled reports whether both token and destination are present
func (t TelegramConfig) Enabled() bool {
	return t.Token != "" && t.ChatID != ""
}

// Enabled reports whether enough is set to deliver mail
func (e EmailConfig) Enabled() bool {
	return e.SMTPHost != "" && e.FromAddr != "" && e.ToAddr != ""
}

// Matchers converts the configured labels into the ordered matcher list.
// An empty label list falls back to the built-in variants.
func (c *Config) Matchers() ([]panel.Matcher, error) {
	if len(c.Labels) == 0 {
		return panel.DefaultMatchers(), nil
	}

	matchers := make([]panel.Matcher, 0, len(c.Labels))
	for i, l := range c.Labels {
		kind, err := panel.ParseKind(l.Kind)
		if err != nil {
			return nil, errors.Wrapf(err, "labels[%d]", i)
		}
		if l.Label == "" {
			return nil, errors.Errorf("labels[%d]: empty label", i)
		}
		name := l.Name
		if name == "" {
			name = panel.Matcher{Kind: kind, Label: l.Label}.String()
		}
		matchers = append(matchers, panel.Matcher{Name: name, Kind: kind, Label: l.Label})
	}
	return matchers, nil
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "renew4me"), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load builds the configuration from defaults, the optional TOML file at
// path (or the default location when path is empty) and the environment.
// A missing default file is not an error; a missing explicit file is.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	// A [[labels]] table in the file replaces the built-in list wholesale.
	defaults := cfg.Labels
	cfg.Labels = nil
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if !os.IsNotExist(err) || explicit {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}
	if len(cfg.Labels) == 0 {
		cfg.Labels = defaults
	}

	applyEnv(cfg, os.LookupEnv)
	return cfg, nil
}

// Save writes config to path, or the default location when path is empty
func (c *Config) Save(path string) (string, error) {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return "", err
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return "", err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return "", errors.Wrap(err, "encode config")
	}
	return path, nil
}

// Secrets lists the configured values that must never be logged.
func (c *Config) Secrets() []string {
	var out []string
	for _, v := range []string{c.Credentials.Password, c.Telegram.Token, c.Email.SMTPPass} {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
