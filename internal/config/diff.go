package config

import (
	"hash/fnv"
	"reflect"
	"slices"
	"sort"
	"strings"

	logx "plankabot/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe log fields
// describing them. Tokens, passwords and keys are reported only as "set".
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 24)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot != nt {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Bool("telegram.api_url_set", strings.TrimSpace(nt.APIURL) != ""),
			logx.Int("telegram.workers", nt.Workers),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		l := newCfg.Logging
		attrs = append(attrs,
			logx.String("logging.level", l.Level),
			logx.Bool("logging.console", l.Console),
			logx.Bool("logging.file_enabled", l.File.Enabled),
			logx.Bool("logging.telegram_enabled", l.Telegram.Enabled),
		)
	}

	op, np := oldCfg.Planka, newCfg.Planka
	if !reflect.DeepEqual(op, np) {
		changed = append(changed, "planka")
		attrs = append(attrs,
			logx.String("planka.url", strings.TrimSpace(np.URL)),
			logx.String("planka.username", np.Username),
			logx.Bool("planka.password_changed", op.Password != np.Password),
			logx.String("planka.timeout", np.Timeout),
		)
	}

	ow, nw := oldCfg.Watch, newCfg.Watch
	if !reflect.DeepEqual(ow, nw) {
		changed = append(changed, "watch")
		attrs = append(attrs,
			logx.String("watch.poll_schedule", nw.PollSchedule),
			logx.String("watch.visibility_schedule", nw.VisibilitySchedule),
			logx.String("watch.spam_window", nw.SpamWindow),
			logx.Strs("watch.disabled_lists", nw.DisabledLists),
		)
	}

	var on, nn NotifierConfig
	if oldCfg.Notifier != nil {
		on = *oldCfg.Notifier
	}
	if newCfg.Notifier != nil {
		nn = *newCfg.Notifier
	}
	if on != nn {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", nn.RatePerSec),
			logx.Int("notifier.retry_max", nn.RetryMax),
			logx.String("notifier.dedup_window", nn.DedupWindow),
		)
	}

	oldS, newS := oldCfg.Storage, newCfg.Storage
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
			logx.Bool("storage.secret_key_set", newS.SecretKey != ""),
		)
	}

	oo, no := oldCfg.Ops, newCfg.Ops
	if oo != no {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", no.Enabled),
			logx.String("ops.addr", strings.TrimSpace(no.Addr)),
			logx.Bool("ops.token_set", no.Token != ""),
			logx.Bool("ops.pprof", no.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// hotSections apply without a restart.
var hotSections = []string{"logging", "notifier", "ops", "watch"}

// RestartRequired lists changed sections that only take effect after a
// restart. A watch change needs one only when its schedules or queue moved.
func RestartRequired(oldCfg, newCfg *Config) []string {
	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	var out []string
	for _, s := range changed {
		if !slices.Contains(hotSections, s) {
			out = append(out, s)
		}
	}
	if oldCfg != nil && newCfg != nil {
		ow, nw := oldCfg.Watch, newCfg.Watch
		if ow.PollSchedule != nw.PollSchedule || ow.VisibilitySchedule != nw.VisibilitySchedule ||
			ow.QueueSize != nw.QueueSize || ow.Overflow != nw.Overflow {
			out = append(out, "watch")
		}
	}
	sort.Strings(out)
	return out
}

// hashBytes returns a stable 64-bit hash; empty input is 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
