package app

import (
	"context"
	"fmt"
	"time"

	"plankabot/internal/eventbus"
	rtsup "plankabot/internal/runtime/supervisor"
	"plankabot/internal/watch"
)

// statsDoc is what /stats on the ops endpoint returns.
type statsDoc struct {
	StartedAt     time.Time                           `json:"started_at"`
	Uptime        string                              `json:"uptime"`
	Subscriptions int                                 `json:"subscriptions"`
	Watch         watch.Stats                         `json:"watch"`
	SentRecent    int                                 `json:"sent_recent"`
	Events        []eventbus.TypeCount                `json:"events"`
	RecentEvents  []eventbus.Event                    `json:"recent_events"`
	Supervisors   map[string]rtsup.SupervisorSnapshot `json:"supervisors"`
	StoreError    string                              `json:"store_error,omitempty"`
}

func (a *App) stats() any {
	doc := statsDoc{
		StartedAt:    a.startedAt,
		Uptime:       time.Since(a.startedAt).Truncate(time.Second).String(),
		Watch:        a.watcher.Stats(),
		SentRecent:   len(a.notif.History()),
		Events:       a.rec.Counts(),
		RecentEvents: a.rec.Recent(),
		Supervisors:  a.reg.Snapshot(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	subs, err := a.store.ListSubscriptions(ctx)
	if err != nil {
		doc.StoreError = err.Error()
	}
	doc.Subscriptions = len(subs)
	return doc
}

// health fails when any supervised component has recorded an error.
func (a *App) health() error {
	if comp, err := a.reg.FirstError(); err != "" {
		return fmt.Errorf("%s: %s", comp, err)
	}
	return nil
}
