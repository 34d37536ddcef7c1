package app

import (
	"fmt"
	"time"

	"remindd/internal/channel"
	"remindd/internal/channel/email"
	"remindd/internal/channel/telegram"
	"remindd/internal/channel/zalo"
	"remindd/internal/config"
	"remindd/internal/dispatch"
	"remindd/internal/engine"
	"remindd/internal/store"
	logx "remindd/pkg/logx"
)

func parseDurationField(path, raw string) (time.Duration, error) {
	return config.ParseDurationField(path, raw)
}

func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return config.ParseDurationOrDefault(path, raw, def)
}

func mapLocation(cfg *config.Config) (*time.Location, error) {
	if cfg.Engine.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(cfg.Engine.Timezone)
	if err != nil {
		return nil, fmt.Errorf("engine.timezone: invalid %q: %w", cfg.Engine.Timezone, err)
	}
	return loc, nil
}

func mapStorageConfig(cfg *config.Config) (store.Config, error) {
	busy, err := parseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{Path: cfg.Storage.Path, BusyTimeout: busy}, nil
}

func mapEngineConfig(cfg *config.Config, loc *time.Location) (engine.Config, error) {
	interval, err := parseDurationOrDefault("engine.poll_interval", cfg.Engine.PollInterval, 60*time.Second)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		PollInterval: interval,
		BatchLimit:   cfg.Engine.BatchLimit,
		Location:     loc,
	}, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	base, err := parseDurationOrDefault("dispatch.retry_base", cfg.Dispatch.RetryBase, time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	timeout, err := parseDurationOrDefault("dispatch.send_timeout", cfg.Dispatch.SendTimeout, 30*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		RetryMax:    cfg.Dispatch.RetryMax,
		RetryBase:   base,
		SendTimeout: timeout,
		RatePerSec:  cfg.Dispatch.RatePerSec,
	}, nil
}

// buildAdapters constructs one delivery adapter per configured channel
// section. An omitted section simply disables that channel.
func buildAdapters(cfg *config.Config, log logx.Logger) ([]channel.Adapter, error) {
	var adapters []channel.Adapter

	if tc := cfg.Channels.Telegram; tc != nil {
		pollTimeout, err := parseDurationOrDefault("channels.telegram.poll_timeout", tc.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		ad, err := telegram.New(telegram.Config{
			Token:       tc.Token,
			PollTimeout: pollTimeout,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("channels.telegram: %w", err)
		}
		adapters = append(adapters, ad)
	}

	if ec := cfg.Channels.Email; ec != nil {
		ad, err := email.New(email.Config{
			SMTPServer: ec.SMTPServer,
			SMTPPort:   ec.SMTPPort,
			Username:   ec.Username,
			Password:   ec.Password,
			FromEmail:  ec.FromEmail,
			FromName:   ec.FromName,
		}, log.With(logx.String("comp", "email")))
		if err != nil {
			return nil, fmt.Errorf("channels.email: %w", err)
		}
		adapters = append(adapters, ad)
	}

	if zc := cfg.Channels.Zalo; zc != nil {
		ad, err := zalo.New(zalo.Config{
			AccessToken: zc.AccessToken,
			OAID:        zc.OAID,
			APIURL:      zc.APIURL,
		}, log.With(logx.String("comp", "zalo")))
		if err != nil {
			return nil, fmt.Errorf("channels.zalo: %w", err)
		}
		adapters = append(adapters, ad)
	}

	return adapters, nil
}
