package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"plankabot/internal/config"
	"plankabot/internal/notifier"
	"plankabot/internal/ops"
	"plankabot/internal/planka"
	"plankabot/internal/schedule"
	"plankabot/internal/storage"
	telegram "plankabot/internal/transport/telegram/adapter"
	"plankabot/internal/watch"
	logx "plankabot/pkg/logx"
)

// settings is the parsed form of a config file: every section mapped to the
// options struct of the component that consumes it.
type settings struct {
	Telegram telegram.Config
	Workers  int
	Logging  logx.Config
	Planka   planka.Config
	Watch    watch.Config
	Notifier notifier.Config
	Storage  storage.Config
	Ops      ops.Config
}

// mapSettings parses every section and joins all errors, so a broken file
// reports every problem at once.
func mapSettings(cfg *config.Config) (settings, error) {
	if cfg == nil {
		return settings{}, errors.New("config is nil")
	}
	var (
		s    settings
		errs []error
		err  error
	)
	if s.Telegram, err = mapTelegramConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	s.Workers = cfg.Telegram.Workers
	s.Logging = mapLogConfig(cfg)
	if s.Planka, err = mapPlankaConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if s.Watch, err = mapWatchConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if s.Notifier, err = mapNotifierConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if s.Storage, err = mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if s.Ops, err = mapOpsConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	return s, errors.Join(errs...)
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	pt, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:       strings.TrimSpace(cfg.Telegram.Token),
		PollTimeout: pt,
		APIURL:      strings.TrimSpace(cfg.Telegram.APIURL),
	}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     l.Telegram.ChatID,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapPlankaConfig(cfg *config.Config) (planka.Config, error) {
	p := cfg.Planka
	timeout, err := config.ParseDurationOrDefault("planka.timeout", p.Timeout, 30*time.Second)
	if err != nil {
		return planka.Config{}, err
	}
	delay, err := config.ParseDurationOrDefault("planka.retry_delay", p.RetryDelay, 3*time.Second)
	if err != nil {
		return planka.Config{}, err
	}
	// The client reads 0 as "default"; an explicit 0 in the file means no
	// retries at all.
	retries := 0
	if p.RetryMax != nil {
		retries = *p.RetryMax
		if retries == 0 {
			retries = -1
		}
	}
	return planka.Config{
		BaseURL:    strings.TrimSpace(p.URL),
		Username:   p.Username,
		Password:   p.Password,
		Timeout:    timeout,
		RetryMax:   retries,
		RetryDelay: delay,
		RatePerSec: p.RatePerSec,
	}, nil
}

func mapWatchConfig(cfg *config.Config) (watch.Config, error) {
	w := cfg.Watch
	out := watch.Config{
		QueueSize:     w.QueueSize,
		DisabledLists: append([]string(nil), w.DisabledLists...),
		PublicURL:     strings.TrimSpace(cfg.Planka.PublicURL),
	}
	if out.PublicURL == "" {
		out.PublicURL = strings.TrimSpace(cfg.Planka.URL)
	}

	var err error
	if out.PollSchedule, err = scheduleOrDefault("watch.poll_schedule", w.PollSchedule, "10s"); err != nil {
		return watch.Config{}, err
	}
	if out.VisibilitySchedule, err = scheduleOrDefault("watch.visibility_schedule", w.VisibilitySchedule, "15m"); err != nil {
		return watch.Config{}, err
	}
	if out.Overflow, err = watch.ParseOverflowPolicy(w.Overflow); err != nil {
		return watch.Config{}, fmt.Errorf("watch.overflow: %w", err)
	}
	if out.SpamWindow, err = config.ParseDurationOrDefault("watch.spam_window", w.SpamWindow, time.Minute); err != nil {
		return watch.Config{}, err
	}
	if out.CallTimeout, err = config.ParseDurationOrDefault("watch.call_timeout", w.CallTimeout, watch.DefaultCallTimeout); err != nil {
		return watch.Config{}, err
	}
	if out.VisibilityTimeout, err = config.ParseDurationOrDefault("watch.visibility_timeout", w.VisibilityTimeout, watch.DefaultVisibilityTimeout); err != nil {
		return watch.Config{}, err
	}
	if out.BadCardTTL, err = config.ParseDurationOrDefault("watch.bad_card_ttl", w.BadCardTTL, watch.DefaultBadCardTTL); err != nil {
		return watch.Config{}, err
	}
	return out, nil
}

func scheduleOrDefault(path, raw, def string) (sched cron.Schedule, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = def
	}
	sched, err = schedule.ParseSchedule(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sched, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{DisablePreview: true}
	n := cfg.Notifier
	if n == nil {
		return out, nil
	}
	out.RatePerSec = n.RatePerSec
	out.RetryMax = n.RetryMax
	out.DedupMaxEntries = n.DedupMaxEntries

	var err error
	if out.RetryBase, err = config.ParseDurationField("notifier.retry_base", n.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.CallTimeout, err = config.ParseDurationField("notifier.call_timeout", n.CallTimeout); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationField("notifier.dedup_window", n.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "file", "memory":
		return storage.Config{Driver: driver, Path: path, SecretKey: sc.SecretKey}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, SecretKey: sc.SecretKey}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	o := cfg.Ops
	out := ops.Config{
		Enabled:       o.Enabled,
		Addr:          strings.TrimSpace(o.Addr),
		Token:         o.Token,
		AllowInsecure: o.AllowInsecure,
		Pprof:         o.Pprof,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("ops.read_timeout", o.ReadTimeout, 5*time.Second); err != nil {
		return ops.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationAllowZero("ops.write_timeout", o.WriteTimeout, 0); err != nil {
		return ops.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("ops.idle_timeout", o.IdleTimeout, 60*time.Second); err != nil {
		return ops.Config{}, err
	}
	return out, nil
}
