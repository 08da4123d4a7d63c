package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks what can be checked without the components: required
// fields, bounds and duration syntax. Component mapping in the app adds the
// checks that need domain parsers (schedules, overflow policy).
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	req := func(path, v string) {
		if strings.TrimSpace(v) == "" {
			add(fmt.Errorf("%s is required", path))
		}
	}
	dur := func(path, v string) {
		_, err := ParseDurationField(path, v)
		add(err)
	}
	nonNeg := func(path string, v int) {
		if v < 0 {
			add(fmt.Errorf("%s must be >= 0", path))
		}
	}

	req("telegram.token", cfg.Telegram.Token)
	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	nonNeg("telegram.workers", cfg.Telegram.Workers)

	if cfg.Logging.Telegram.Enabled && cfg.Logging.Telegram.ChatID == 0 {
		add(errors.New("logging.telegram.chat_id is required when logging.telegram.enabled"))
	}
	nonNeg("logging.telegram.rate_per_sec", cfg.Logging.Telegram.RatePerSec)

	req("planka.url", cfg.Planka.URL)
	add(checkURL("planka.url", cfg.Planka.URL))
	add(checkURL("planka.public_url", cfg.Planka.PublicURL))
	req("planka.username", cfg.Planka.Username)
	req("planka.password", cfg.Planka.Password)
	dur("planka.timeout", cfg.Planka.Timeout)
	dur("planka.retry_delay", cfg.Planka.RetryDelay)
	if cfg.Planka.RetryMax != nil {
		nonNeg("planka.retry_max", *cfg.Planka.RetryMax)
	}
	if cfg.Planka.RatePerSec < 0 {
		add(errors.New("planka.rate_per_sec must be >= 0"))
	}

	w := cfg.Watch
	nonNeg("watch.queue_size", w.QueueSize)
	dur("watch.spam_window", w.SpamWindow)
	dur("watch.call_timeout", w.CallTimeout)
	dur("watch.visibility_timeout", w.VisibilityTimeout)
	dur("watch.bad_card_ttl", w.BadCardTTL)
	for i, name := range w.DisabledLists {
		if strings.TrimSpace(name) == "" {
			add(fmt.Errorf("watch.disabled_lists[%d] is empty", i))
		}
	}

	if n := cfg.Notifier; n != nil {
		nonNeg("notifier.rate_per_sec", n.RatePerSec)
		nonNeg("notifier.retry_max", n.RetryMax)
		nonNeg("notifier.dedup_max_entries", n.DedupMaxEntries)
		dur("notifier.retry_base", n.RetryBase)
		dur("notifier.retry_max_delay", n.RetryMaxDelay)
		dur("notifier.call_timeout", n.CallTimeout)
		dur("notifier.dedup_window", n.DedupWindow)
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "file", "memory":
	case "sqlite", "sqlite3":
		req("storage.path", cfg.Storage.Path)
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q (use file, memory or sqlite)", cfg.Storage.Driver))
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	dur("ops.read_timeout", cfg.Ops.ReadTimeout)
	dur("ops.write_timeout", cfg.Ops.WriteTimeout)
	dur("ops.idle_timeout", cfg.Ops.IdleTimeout)

	return errors.Join(errs...)
}

func checkURL(path, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: scheme must be http or https, got %q", path, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: missing host", path)
	}
	return nil
}
