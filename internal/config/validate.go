package config

import (
	"errors"
	"time"
)

// Validate checks cross-field constraints that strict decoding can't.
// It is installed as the Manager's validator by the daemon.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Storage.Path == "" {
		return errors.New("storage.path is required")
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("engine.poll_interval", cfg.Engine.PollInterval); err != nil {
		return err
	}
	if cfg.Engine.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Engine.Timezone); err != nil {
			return errors.New("engine.timezone: unknown zone " + cfg.Engine.Timezone)
		}
	}
	if _, err := ParseDurationField("dispatch.retry_base", cfg.Dispatch.RetryBase); err != nil {
		return err
	}
	if _, err := ParseDurationField("dispatch.send_timeout", cfg.Dispatch.SendTimeout); err != nil {
		return err
	}
	if tg := cfg.Channels.Telegram; tg != nil {
		if tg.Token == "" {
			return errors.New("channels.telegram.token is required when the section is present")
		}
		if _, err := ParseDurationField("channels.telegram.poll_timeout", tg.PollTimeout); err != nil {
			return err
		}
	}
	if em := cfg.Channels.Email; em != nil {
		if em.SMTPServer == "" || em.Username == "" {
			return errors.New("channels.email: smtp_server and username are required")
		}
	}
	if z := cfg.Channels.Zalo; z != nil {
		if z.AccessToken == "" || z.OAID == "" {
			return errors.New("channels.zalo: access_token and oa_id are required")
		}
	}
	return nil
}
