// Package schedule turns the human-friendly schedule strings used in config
// into cron schedules and runs periodic loops on them.
package schedule

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Kind int

const (
	KindCron Kind = iota
	KindInterval
)

// Spec is a parsed schedule string.
//
// Supported forms:
//   - Cron: "*/5 * * * *", "@hourly", "@every 10s"
//   - Interval duration: "10s", "15m", "2h30m"
//   - Interval HH:MM: "00:15" (15 minutes)
//
// Optional prefixes "cron:" and "interval:"/"every:" force the kind.
type Spec struct {
	Kind   Kind
	Cron   string
	Every  time.Duration
	Source string // "cron" | "duration" | "hhmm"
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// Parse parses raw into a Spec without building the schedule.
func Parse(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return Spec{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return Spec{Kind: KindCron, Cron: expr, Source: "cron"}, nil
	case strings.HasPrefix(low, "interval:"), strings.HasPrefix(low, "every:"):
		v := s[strings.IndexByte(s, ':')+1:]
		d, src, err := parseInterval(v)
		if err != nil {
			return Spec{}, err
		}
		return Spec{Kind: KindInterval, Every: d, Source: src}, nil
	}

	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return Spec{Kind: KindCron, Cron: s, Source: "cron"}, nil
	}

	d, src, err := parseInterval(s)
	if err == nil {
		return Spec{Kind: KindInterval, Every: d, Source: src}, nil
	}
	return Spec{}, fmt.Errorf(
		"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '00:15', or duration like '10s')",
		raw,
	)
}

// Schedule builds the cron.Schedule for the spec. Intervals become
// constant-delay schedules so the delay starts after each run completes.
func (s Spec) Schedule() (cron.Schedule, error) {
	switch s.Kind {
	case KindInterval:
		if s.Every <= 0 {
			return nil, fmt.Errorf("interval must be > 0")
		}
		return constantDelay{every: s.Every}, nil
	default:
		sched, err := cron.ParseStandard(s.Cron)
		if err != nil {
			return nil, fmt.Errorf("invalid cron %q: %w", s.Cron, err)
		}
		return sched, nil
	}
}

func (s Spec) String() string {
	if s.Kind == KindInterval {
		return "every " + s.Every.String()
	}
	return s.Cron
}

// MustParse is Parse followed by Schedule; it panics on error.
// Only for defaults and tests.
func MustParse(raw string) cron.Schedule {
	sched, err := ParseSchedule(raw)
	if err != nil {
		panic(err)
	}
	return sched
}

// ParseSchedule parses raw and builds its schedule in one step.
func ParseSchedule(raw string) (cron.Schedule, error) {
	spec, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return spec.Schedule()
}

// constantDelay differs from cron.ConstantDelaySchedule in that it keeps
// sub-second intervals; cron rounds them up to one second.
type constantDelay struct {
	every time.Duration
}

func (c constantDelay) Next(t time.Time) time.Time { return t.Add(c.every) }

func parseInterval(v string) (time.Duration, string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, "", fmt.Errorf("interval required")
	}
	if reHHMM.MatchString(v) {
		return parseHHMMDuration(v)
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, "", fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '10s'/'15m')", v)
	}
	if d <= 0 {
		return 0, "", fmt.Errorf("interval must be > 0")
	}
	return d, "duration", nil
}

func parseHHMMDuration(v string) (time.Duration, string, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, "", fmt.Errorf("invalid HH:MM %q", v)
	}
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if mm > 59 {
		return 0, "", fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, "", fmt.Errorf("interval must be > 0")
	}
	return d, "hhmm", nil
}
