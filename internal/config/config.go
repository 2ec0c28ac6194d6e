// Package config turns the viper configuration tree into the immutable
// settings used by a forwarding run.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

const (
	DefaultMailbox     = "INBOX"
	DefaultIMAPPort    = 143
	DefaultIMAPSSLPort = 993
	DefaultSMTPPort    = 587
	DefaultTimeout     = time.Minute
)

// SleepMode selects how the scheduler computes the pause between cycles.
type SleepMode int

const (
	// SleepDisabled runs a single cycle and exits.
	SleepDisabled SleepMode = iota
	// SleepFixed waits a configured number of seconds.
	SleepFixed
	// SleepAuto waits a short interval during the day and a long one at night.
	SleepAuto
)

// Sleep is the parsed value of common.sleep.
type Sleep struct {
	Mode     SleepMode
	Interval time.Duration // only meaningful for SleepFixed
}

func (s Sleep) String() string {
	switch s.Mode {
	case SleepFixed:
		return s.Interval.String()
	case SleepAuto:
		return "auto"
	default:
		return "disabled"
	}
}

// Common holds process-wide settings: logging, scheduling and IDLE wake-up.
type Common struct {
	Debug       bool
	Sleep       Sleep
	SleepVarPct float64
	Idle        bool
}

// IMAP describes the source mailbox and what happens to a message after a
// send attempt. Port 0 is replaced by 993 or 143 depending on SSL.
type IMAP struct {
	Host                string
	Port                int
	SSL                 bool
	User                string
	Password            string
	Mailbox             string
	MoveToMailbox       string
	MoveToMailboxFailed string
	MarkAsSeen          bool
	Timeout             time.Duration
}

// Addr returns host:port for dialing.
func (c IMAP) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SMTP describes the submission server and the single destination address.
type SMTP struct {
	Host           string
	Port           int
	StartTLS       bool
	User           string
	Password       string
	ForwardAddress string
	// LenientErrors reports uncoded send errors as delivered instead of
	// as temporary failures.
	LenientErrors bool
	Timeout       time.Duration
}

// Addr returns host:port for dialing.
func (c SMTP) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// HasAuth reports whether both credentials are present.
func (c SMTP) HasAuth() bool {
	return c.User != "" && c.Password != ""
}

// Web configures the optional status server. It is disabled when Listen is empty.
type Web struct {
	Listen       string
	Username     string
	PasswordHash string
}

// Config is the complete configuration of one process run. It is built once
// by Load and never mutated afterwards.
type Config struct {
	Common Common
	IMAP   IMAP
	SMTP   SMTP
	Web    Web
}

// SetDefaults registers default values on v. It must be called before Load.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("common.debug", false)
	v.SetDefault("common.sleep_var_pct", 0)
	v.SetDefault("common.idle", false)

	v.SetDefault("imap.ssl", false)
	v.SetDefault("imap.mailbox", DefaultMailbox)
	v.SetDefault("imap.mark_as_seen", false)
	v.SetDefault("imap.timeout", DefaultTimeout)

	v.SetDefault("smtp.port", DefaultSMTPPort)
	v.SetDefault("smtp.starttls", true)
	v.SetDefault("smtp.lenient_errors", false)
	v.SetDefault("smtp.timeout", DefaultTimeout)
}

// Load reads every section from v, fills in defaults and validates the
// result. All validation problems are reported together.
func Load(v *viper.Viper) (*Config, error) {
	sleep, err := parseSleep(v.Get("common.sleep"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Common: Common{
			Debug:       v.GetBool("common.debug"),
			Sleep:       sleep,
			SleepVarPct: v.GetFloat64("common.sleep_var_pct"),
			Idle:        v.GetBool("common.idle"),
		},
		IMAP: IMAP{
			Host:                v.GetString("imap.host"),
			Port:                v.GetInt("imap.port"),
			SSL:                 v.GetBool("imap.ssl"),
			User:                v.GetString("imap.user"),
			Password:            v.GetString("imap.password"),
			Mailbox:             v.GetString("imap.mailbox"),
			MoveToMailbox:       v.GetString("imap.move_to_mailbox"),
			MoveToMailboxFailed: v.GetString("imap.move_to_mailbox_failed"),
			MarkAsSeen:          v.GetBool("imap.mark_as_seen"),
			Timeout:             v.GetDuration("imap.timeout"),
		},
		SMTP: SMTP{
			Host:           v.GetString("smtp.host"),
			Port:           v.GetInt("smtp.port"),
			StartTLS:       v.GetBool("smtp.starttls"),
			User:           v.GetString("smtp.user"),
			Password:       v.GetString("smtp.password"),
			ForwardAddress: v.GetString("smtp.forward_address"),
			LenientErrors:  v.GetBool("smtp.lenient_errors"),
			Timeout:        v.GetDuration("smtp.timeout"),
		},
		Web: Web{
			Listen:       v.GetString("web.listen"),
			Username:     v.GetString("web.username"),
			PasswordHash: v.GetString("web.password_hash"),
		},
	}

	// The implicit IMAP port depends on the transport.
	if cfg.IMAP.Port == 0 {
		cfg.IMAP.Port = DefaultIMAPPort
		if cfg.IMAP.SSL {
			cfg.IMAP.Port = DefaultIMAPSSLPort
		}
	}
	if cfg.IMAP.Mailbox == "" {
		cfg.IMAP.Mailbox = DefaultMailbox
	}

	if err := newValidator().validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseSleep accepts nil (disabled), "auto" or a positive number of seconds.
func parseSleep(raw any) (Sleep, error) {
	if raw == nil {
		return Sleep{Mode: SleepDisabled}, nil
	}

	if s, ok := raw.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "":
			return Sleep{Mode: SleepDisabled}, nil
		case "auto":
			return Sleep{Mode: SleepAuto}, nil
		}
	}

	seconds, err := cast.ToFloat64E(raw)
	if err != nil {
		return Sleep{}, fmt.Errorf("common.sleep must be a number of seconds or \"auto\": %w", err)
	}
	if seconds <= 0 {
		return Sleep{}, fmt.Errorf("common.sleep must be positive, got %v", raw)
	}

	return Sleep{
		Mode:     SleepFixed,
		Interval: time.Duration(seconds * float64(time.Second)),
	}, nil
}

// LogValue keeps credentials out of the logs.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("debug", c.Common.Debug),
		slog.String("sleep", c.Common.Sleep.String()),
		slog.Float64("sleep_var_pct", c.Common.SleepVarPct),
		slog.Bool("idle", c.Common.Idle),
		slog.String("imap", c.IMAP.Addr()),
		slog.Bool("imap_ssl", c.IMAP.SSL),
		slog.String("imap_user", c.IMAP.User),
		slog.String("mailbox", c.IMAP.Mailbox),
		slog.String("move_to_mailbox", c.IMAP.MoveToMailbox),
		slog.String("move_to_mailbox_failed", c.IMAP.MoveToMailboxFailed),
		slog.Bool("mark_as_seen", c.IMAP.MarkAsSeen),
		slog.String("smtp", c.SMTP.Addr()),
		slog.Bool("smtp_starttls", c.SMTP.StartTLS),
		slog.Bool("smtp_auth", c.SMTP.HasAuth()),
		slog.String("forward_address", c.SMTP.ForwardAddress),
		slog.String("web", c.Web.Listen),
	)
}
