package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/emersion/go-message/mail"
)

type validator struct {
	errors []error
}

func newValidator() *validator {
	return &validator{errors: make([]error, 0)}
}

// validate checks every section and returns all problems joined together.
func (cv *validator) validate(cfg *Config) error {
	cv.validateCommon(cfg.Common)
	cv.validateIMAP(cfg.IMAP)
	cv.validateSMTP(cfg.SMTP)
	cv.validateWeb(cfg.Web)

	return errors.Join(cv.errors...)
}

func (cv *validator) addError(format string, args ...any) {
	err := fmt.Errorf(format, args...)
	cv.errors = append(cv.errors, err)
	slog.Debug("Config validation error", "error", err)
}

func (cv *validator) validateCommon(c Common) {
	if c.SleepVarPct < 0 || c.SleepVarPct > 100 {
		cv.addError("common.sleep_var_pct must be between 0 and 100")
	}
	if c.Idle && c.Sleep.Mode == SleepDisabled {
		cv.addError("common.idle requires common.sleep to be set")
	}
}

func (cv *validator) validateIMAP(c IMAP) {
	if c.Host == "" {
		cv.addError("imap.host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		cv.addError("imap.port must be between 1 and 65535")
	}
	if c.User == "" {
		cv.addError("imap.user is required")
	}
	if c.Password == "" {
		cv.addError("imap.password is required")
	}
	if c.Timeout < 0 {
		cv.addError("imap.timeout must not be negative")
	}

	mailbox := strings.ToUpper(c.Mailbox)
	if c.MoveToMailbox != "" && strings.ToUpper(c.MoveToMailbox) == mailbox {
		cv.addError("imap.move_to_mailbox must differ from imap.mailbox")
	}
	if c.MoveToMailboxFailed != "" && strings.ToUpper(c.MoveToMailboxFailed) == mailbox {
		cv.addError("imap.move_to_mailbox_failed must differ from imap.mailbox")
	}
}

func (cv *validator) validateSMTP(c SMTP) {
	if c.Host == "" {
		cv.addError("smtp.host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		cv.addError("smtp.port must be between 1 and 65535")
	}
	if c.Timeout < 0 {
		cv.addError("smtp.timeout must not be negative")
	}

	if c.ForwardAddress == "" {
		cv.addError("smtp.forward_address is required")
	} else if _, err := mail.ParseAddress(c.ForwardAddress); err != nil {
		cv.addError("invalid email format in smtp.forward_address: %s", c.ForwardAddress)
	}
}

func (cv *validator) validateWeb(c Web) {
	if c.Listen == "" {
		return
	}
	if (c.Username == "") != (c.PasswordHash == "") {
		cv.addError("web.username and web.password_hash must be set together")
	}
	if c.PasswordHash != "" && !strings.HasPrefix(c.PasswordHash, "$2") {
		cv.addError("web.password_hash must be a bcrypt hash")
	}
}
