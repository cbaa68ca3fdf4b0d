package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Recognized environment variables
const (
	EnvServerURL   = "SERVER_URL"
	EnvLoginURL    = "LOGIN_URL"
	EnvEmail       = "PTERODACTYL_EMAIL"
	EnvPassword    = "PTERODACTYL_PASSWORD"
	EnvTGToken     = "TG_BOT_TOKEN"
	EnvTGChatID    = "TG_CHAT_ID"
	EnvTGAPIBase   = "TG_API_BASE"
	EnvHeadless    = "HEADLESS"
	EnvScreenshots = "SCREENSHOT_DIR"
	EnvSchedule    = "RENEW_SCHEDULE"
	EnvTimezone    = "RENEW_TIMEZONE"
	EnvHistoryDB   = "RENEW_HISTORY_DB"
	EnvLogLevel    = "LOG_LEVEL"
	EnvLogFormat   = "LOG_FORMAT"
	EnvSMTPHost    = "SMTP_HOST"
	EnvSMTPPort    = "SMTP_PORT"
	EnvSMTPUser    = "SMTP_USER"
	EnvSMTPPass    = "SMTP_PASS"
	EnvSMTPFrom    = "SMTP_FROM"
	EnvSMTPTo      = "SMTP_TO"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadEnvFiles loads dotenv files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return errors.Wrapf(err, "load env file %s", f)
		}
	}
	return nil
}

func applyEnv(cfg *Config, lookup LookupFunc) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str(EnvServerURL, &cfg.Target.ServerURL)
	str(EnvLoginURL, &cfg.Target.LoginURL)
	str(EnvEmail, &cfg.Credentials.Email)
	str(EnvTGToken, &cfg.Telegram.Token)
	str(EnvTGChatID, &cfg.Telegram.ChatID)
	str(EnvTGAPIBase, &cfg.Telegram.APIBase)
	str(EnvScreenshots, &cfg.Screenshots.Dir)
	str(EnvSchedule, &cfg.Schedule.Cron)
	str(EnvTimezone, &cfg.Schedule.Timezone)
	str(EnvHistoryDB, &cfg.History.DBPath)
	str(EnvLogLevel, &cfg.Log.Level)
	str(EnvLogFormat, &cfg.Log.Format)
	str(EnvSMTPHost, &cfg.Email.SMTPHost)
	str(EnvSMTPUser, &cfg.Email.SMTPUser)
	str(EnvSMTPPass, &cfg.Email.SMTPPass)
	str(EnvSMTPFrom, &cfg.Email.FromAddr)
	str(EnvSMTPTo, &cfg.Email.ToAddr)

	// Passwords may legitimately carry surrounding spaces.
	if v, ok := lookup(EnvPassword); ok && v != "" {
		cfg.Credentials.Password = v
	}

	if v, ok := lookup(EnvHeadless); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.Browser.Headless = b
		}
	}
	if v, ok := lookup(EnvSMTPPort); ok {
		if port, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && port > 0 {
			cfg.Email.SMTPPort = port
		}
	}
}
