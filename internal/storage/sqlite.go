package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"plankabot/internal/watch"
	logx "plankabot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const txRetries = 3

type sqliteStore struct {
	db   *sql.DB
	seal *sealer
	log  logx.Logger
}

func openSQLite(cfg Config, seal *sealer, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 10 * time.Second
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", p, err)
		}
	}

	st := &sqliteStore{db: db, seal: seal, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// WithTx retries the whole transaction when SQLite reports BUSY, backing off
// 100/200 ms between attempts.
func (s *sqliteStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	for i := range txRetries {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isBusy(err) || i == txRetries-1 {
			return err
		}
		s.log.Debug("sqlite busy; retrying transaction", logx.Int("attempt", i+1))
		t := time.NewTimer(time.Duration(100*(i+1)) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("storage: context cancelled during retry: %w", ctx.Err())
		case <-t.C:
		}
	}
	return errors.New("storage: transaction retries exceeded")
}

func (s *sqliteStore) runOnce(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	if err := fn(&sqlTx{q: tx, seal: s.seal}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	return nil
}

func (s *sqliteStore) direct() *sqlTx { return &sqlTx{q: s.db, seal: s.seal} }

func (s *sqliteStore) ListSubscriptions(ctx context.Context) ([]watch.Subscription, error) {
	return s.direct().ListSubscriptions(ctx)
}

func (s *sqliteStore) GetSubscription(ctx context.Context, r watch.RecipientID) (watch.Subscription, bool, error) {
	return s.direct().GetSubscription(ctx, r)
}

func (s *sqliteStore) AddSubscription(ctx context.Context, sub watch.Subscription) error {
	return s.WithTx(ctx, func(tx Tx) error { return tx.AddSubscription(ctx, sub) })
}

func (s *sqliteStore) UpdateKinds(ctx context.Context, r watch.RecipientID, kinds watch.KindSet) error {
	return s.WithTx(ctx, func(tx Tx) error { return tx.UpdateKinds(ctx, r, kinds) })
}

func (s *sqliteStore) RemoveSubscription(ctx context.Context, r watch.RecipientID) error {
	return s.WithTx(ctx, func(tx Tx) error { return tx.RemoveSubscription(ctx, r) })
}

func (s *sqliteStore) PutCredentials(ctx context.Context, c watch.Credentials) error {
	return s.WithTx(ctx, func(tx Tx) error { return tx.PutCredentials(ctx, c) })
}

func (s *sqliteStore) GetCredentials(ctx context.Context, r watch.RecipientID) (watch.Credentials, bool, error) {
	return s.direct().GetCredentials(ctx, r)
}

func (s *sqliteStore) RemoveCredentials(ctx context.Context, r watch.RecipientID) error {
	return s.WithTx(ctx, func(tx Tx) error { return tx.RemoveCredentials(ctx, r) })
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlTx struct {
	q    querier
	seal *sealer
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (watch.Subscription, error) {
	var (
		id      int64
		linked  string
		kinds   string
		created int64
	)
	if err := row.Scan(&id, &linked, &kinds, &created); err != nil {
		return watch.Subscription{}, err
	}
	ks, err := watch.ParseKindSet(kinds)
	if err != nil {
		return watch.Subscription{}, fmt.Errorf("subscription %d: %w", id, err)
	}
	return watch.Subscription{
		Recipient:  watch.RecipientID(id),
		LinkedUser: watch.UserID(linked),
		Kinds:      ks,
		CreatedAt:  time.UnixMilli(created).UTC(),
	}, nil
}

func (t *sqlTx) ListSubscriptions(ctx context.Context) ([]watch.Subscription, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT recipient_id, linked_user, kinds, created_at FROM subscriptions ORDER BY recipient_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []watch.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (t *sqlTx) GetSubscription(ctx context.Context, r watch.RecipientID) (watch.Subscription, bool, error) {
	row := t.q.QueryRowContext(ctx,
		`SELECT recipient_id, linked_user, kinds, created_at FROM subscriptions WHERE recipient_id = ?`, int64(r))
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return watch.Subscription{}, false, nil
	}
	if err != nil {
		return watch.Subscription{}, false, err
	}
	return sub, true, nil
}

func (t *sqlTx) AddSubscription(ctx context.Context, sub watch.Subscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO subscriptions(recipient_id, linked_user, kinds, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(recipient_id) DO NOTHING`,
		int64(sub.Recipient), string(sub.LinkedUser), normalizeKinds(sub.Kinds).String(), sub.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (t *sqlTx) UpdateKinds(ctx context.Context, r watch.RecipientID, kinds watch.KindSet) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE subscriptions SET kinds = ? WHERE recipient_id = ?`, normalizeKinds(kinds).String(), int64(r))
	return affectedOrNotFound(res, err)
}

func (t *sqlTx) RemoveSubscription(ctx context.Context, r watch.RecipientID) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM subscriptions WHERE recipient_id = ?`, int64(r))
	return affectedOrNotFound(res, err)
}

func (t *sqlTx) PutCredentials(ctx context.Context, c watch.Credentials) error {
	pw, err := t.seal.seal(c.Password)
	if err != nil {
		return err
	}
	_, err = t.q.ExecContext(ctx,
		`INSERT INTO credentials(recipient_id, login, password, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(recipient_id) DO UPDATE SET login=excluded.login, password=excluded.password, updated_at=excluded.updated_at`,
		int64(c.Recipient), c.Login, pw, time.Now().UnixMilli(),
	)
	return err
}

func (t *sqlTx) GetCredentials(ctx context.Context, r watch.RecipientID) (watch.Credentials, bool, error) {
	var login, pw string
	err := t.q.QueryRowContext(ctx,
		`SELECT login, password FROM credentials WHERE recipient_id = ?`, int64(r)).Scan(&login, &pw)
	if errors.Is(err, sql.ErrNoRows) {
		return watch.Credentials{}, false, nil
	}
	if err != nil {
		return watch.Credentials{}, false, err
	}
	plain, err := t.seal.open(pw)
	if err != nil {
		return watch.Credentials{}, false, err
	}
	return watch.Credentials{Recipient: r, Login: login, Password: plain}, true, nil
}

func (t *sqlTx) RemoveCredentials(ctx context.Context, r watch.RecipientID) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM credentials WHERE recipient_id = ?`, int64(r))
	return affectedOrNotFound(res, err)
}

func affectedOrNotFound(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
