package config

// Config is the whole bot configuration. Files are JSON or YAML; unknown
// keys are rejected. Durations are Go duration strings ("10s", "15m").
type Config struct {
	Telegram TelegramConfig  `json:"telegram"`
	Logging  LoggingConfig   `json:"logging"`
	Planka   PlankaConfig    `json:"planka"`
	Watch    WatchConfig     `json:"watch"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  StorageConfig   `json:"storage"`
	Ops      OpsConfig       `json:"ops,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is the long polling timeout (default "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// APIURL points at a self-hosted Bot API server. Empty uses Telegram's.
	APIURL string `json:"api_url,omitempty"`
	// Workers handling commands; chats are sharded across them.
	Workers int `json:"workers,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards warnings and errors to an ops chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// PlankaConfig is the service account the poller uses.
//
// Example:
//
//	"planka": { "url": "https://planka.example.com", "username": "bot", "password": "..." }
type PlankaConfig struct {
	URL string `json:"url"`
	// PublicURL is used for card links in messages. Defaults to URL.
	PublicURL  string  `json:"public_url,omitempty"`
	Username   string  `json:"username"`
	Password   string  `json:"password"` // never logged
	Timeout    string  `json:"timeout,omitempty"`     // per request, default "30s"
	RetryMax   *int    `json:"retry_max,omitempty"`   // retries after the first attempt, default 3
	RetryDelay string  `json:"retry_delay,omitempty"` // default "3s"
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

// WatchConfig tunes the poll, visibility and dispatch loops.
//
// Schedules accept a duration ("10s"), HH:MM ("00:15"), "@every 1m" or a
// cron expression.
type WatchConfig struct {
	PollSchedule       string `json:"poll_schedule,omitempty"`       // default "10s"
	VisibilitySchedule string `json:"visibility_schedule,omitempty"` // default "15m"

	QueueSize int    `json:"queue_size,omitempty"` // default 256
	Overflow  string `json:"overflow,omitempty"`   // "drop_oldest" (default) or "drop_newest"

	SpamWindow        string `json:"spam_window,omitempty"`        // default "1m"
	CallTimeout       string `json:"call_timeout,omitempty"`       // default "30s"
	VisibilityTimeout string `json:"visibility_timeout,omitempty"` // default "10s"
	BadCardTTL        string `json:"bad_card_ttl,omitempty"`       // default "10m"

	// DisabledLists are list names (case-insensitive) whose cards are ignored.
	DisabledLists []string `json:"disabled_lists,omitempty"`
}

// NotifierConfig controls outbound message delivery. Omitted means defaults.
type NotifierConfig struct {
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	CallTimeout     string `json:"call_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
}

// StorageConfig selects where subscriptions and credentials live.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./plankabot.db", "secret_key": "..." }
type StorageConfig struct {
	Driver      string `json:"driver"` // "file" (default), "memory" or "sqlite"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	// SecretKey seals stored Planka passwords. Never logged.
	SecretKey string `json:"secret_key,omitempty"`
}

// OpsConfig controls the optional HTTP endpoint with health, stats and
// pprof.
//
// Prefer a loopback address. A non-loopback address needs a token or an
// explicit allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // bearer token, never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"` // default 0 so /debug/pprof/profile works
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
