package notifier

import "time"

// Config controls delivery. Zero values fall back to defaults in Apply.
type Config struct {
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	CallTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	DisablePreview  bool
}

type HistoryItem struct {
	At        time.Time
	Recipient int64
	Text      string
	Err       string
}

// Event types published on the bus.
const (
	EventSent    = "notifier.sent"
	EventFailed  = "notifier.failed"
	EventDeduped = "notifier.deduped"
)

// NotificationEvent is the payload of notifier bus events.
type NotificationEvent struct {
	ChatID   int64     `json:"chat_id"`
	Key      string    `json:"key,omitempty"`
	Attempts int       `json:"attempts,omitempty"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
