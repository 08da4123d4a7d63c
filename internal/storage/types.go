package storage

import (
	"context"
	"errors"
	"time"

	"plankabot/internal/watch"
)

var (
	ErrAlreadyExists = errors.New("storage: already exists")
	ErrNotFound      = errors.New("storage: not found")
	ErrClosed        = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "file": journaled map; with an empty Path it lives in memory only
//
// An empty Driver selects "file".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// SecretKey seals stored passwords. Either 32 bytes base64 encoded or an
	// arbitrary passphrase. Empty stores passwords as given.
	SecretKey string
}

// Tx is the set of operations that can be grouped by WithTx.
type Tx interface {
	ListSubscriptions(ctx context.Context) ([]watch.Subscription, error)
	GetSubscription(ctx context.Context, r watch.RecipientID) (watch.Subscription, bool, error)
	// AddSubscription returns ErrAlreadyExists when r is already subscribed.
	AddSubscription(ctx context.Context, sub watch.Subscription) error
	UpdateKinds(ctx context.Context, r watch.RecipientID, kinds watch.KindSet) error
	RemoveSubscription(ctx context.Context, r watch.RecipientID) error

	PutCredentials(ctx context.Context, c watch.Credentials) error
	GetCredentials(ctx context.Context, r watch.RecipientID) (watch.Credentials, bool, error)
	RemoveCredentials(ctx context.Context, r watch.RecipientID) error
}

// Store is the persistence API used by the watcher and the command front end.
// Methods called on the Store directly each run in their own transaction.
type Store interface {
	Tx
	// WithTx runs fn atomically: either every change fn made is kept or none.
	WithTx(ctx context.Context, fn func(Tx) error) error
	Close() error
}

var _ watch.SubscriptionStore = (Store)(nil)

func normalizeKinds(k watch.KindSet) watch.KindSet {
	if k.Empty() {
		return watch.AllKindSet
	}
	return k
}
