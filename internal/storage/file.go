package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"plankabot/internal/watch"
	logx "plankabot/pkg/logx"
)

// fileStore keeps everything in memory. With a path it is persisted as
//   - <prefix>.snapshot.json (periodic snapshot)
//   - <prefix>.journal.jsonl (one line per committed transaction)
//
// The journal is compacted into the snapshot every compactEvery commits.
// A torn last line is ignored on replay, so a crash mid-write loses at most
// the transaction being written.
type fileStore struct {
	log  logx.Logger
	seal *sealer

	mu sync.Mutex

	state fileState

	snapshotPath string
	journal      *os.File
	writes       int
	closed       bool
}

const compactEvery = 200

type fileState struct {
	Subs  map[watch.RecipientID]subRecord  `json:"subscriptions"`
	Creds map[watch.RecipientID]credRecord `json:"credentials"`
}

type subRecord struct {
	Recipient  int64  `json:"recipient"`
	LinkedUser string `json:"linked_user,omitempty"`
	Kinds      string `json:"kinds"`
	CreatedAt  int64  `json:"created_at"`
}

type credRecord struct {
	Recipient int64  `json:"recipient"`
	Login     string `json:"login"`
	Password  string `json:"password"`
}

type journalOp struct {
	Op        string      `json:"op"`
	Recipient int64       `json:"recipient"`
	Sub       *subRecord  `json:"sub,omitempty"`
	Cred      *credRecord `json:"cred,omitempty"`
}

const (
	opPutSub  = "put_sub"
	opDelSub  = "del_sub"
	opPutCred = "put_cred"
	opDelCred = "del_cred"
)

type journalBatch struct {
	At  int64       `json:"at"`
	Ops []journalOp `json:"ops"`
}

func newFileState() fileState {
	return fileState{
		Subs:  map[watch.RecipientID]subRecord{},
		Creds: map[watch.RecipientID]credRecord{},
	}
}

func (st fileState) clone() fileState {
	return fileState{Subs: maps.Clone(st.Subs), Creds: maps.Clone(st.Creds)}
}

func (st fileState) apply(op journalOp) {
	r := watch.RecipientID(op.Recipient)
	switch op.Op {
	case opPutSub:
		if op.Sub != nil {
			st.Subs[r] = *op.Sub
		}
	case opDelSub:
		delete(st.Subs, r)
	case opPutCred:
		if op.Cred != nil {
			st.Creds[r] = *op.Cred
		}
	case opDelCred:
		delete(st.Creds, r)
	}
}

func openFile(cfg Config, seal *sealer, log logx.Logger) (Store, error) {
	s := &fileStore{log: log, seal: seal, state: newFileState()}
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		log.Warn("storage path empty; subscriptions are kept in memory only")
		return s, nil
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s.snapshotPath = prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	if err := loadSnapshot(s.snapshotPath, &s.state); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	n, err := replayJournal(journalPath, s.state)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	s.writes = n
	log.Debug("file store opened",
		logx.String("path", prefix),
		logx.Int("subscriptions", len(s.state.Subs)),
		logx.Int("journal_batches", n),
	)
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

// WithTx runs fn against a copy of the state. The copy replaces the live
// state only after its journal line has been written.
func (s *fileStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx := &fileTx{st: s.state.clone(), seal: s.seal}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.ops) == 0 {
		return nil
	}
	if err := s.appendLocked(tx.ops); err != nil {
		return err
	}
	s.state = tx.st
	if s.writes >= compactEvery {
		// The batch is already in the journal; a failed compaction only
		// means a longer replay.
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) appendLocked(ops []journalOp) error {
	if s.journal == nil {
		return nil
	}
	b, err := json.Marshal(journalBatch{At: time.Now().UnixMilli(), Ops: ops})
	if err != nil {
		return err
	}
	if _, err := s.journal.Write(append(b, '\n')); err != nil {
		return err
	}
	s.writes++
	return nil
}

// compactLocked writes the live state as the snapshot and truncates the
// journal.
func (s *fileStore) compactLocked() error {
	if s.journal == nil {
		return nil
	}
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.state); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	if _, err := s.journal.Seek(0, 2); err != nil {
		return err
	}
	s.writes = 0
	return nil
}

func loadSnapshot(path string, out *fileState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var st fileState
	if err := json.NewDecoder(f).Decode(&st); err != nil {
		return err
	}
	maps.Copy(out.Subs, st.Subs)
	maps.Copy(out.Creds, st.Creds)
	return nil
}

func replayJournal(path string, st fileState) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	n := 0
	for sc.Scan() {
		var b journalBatch
		if err := json.Unmarshal(sc.Bytes(), &b); err != nil {
			continue
		}
		for _, op := range b.Ops {
			st.apply(op)
		}
		n++
	}
	return n, sc.Err()
}

func (s *fileStore) ListSubscriptions(ctx context.Context) ([]watch.Subscription, error) {
	var out []watch.Subscription
	err := s.read(ctx, func(tx *fileTx) (err error) {
		out, err = tx.ListSubscriptions(ctx)
		return err
	})
	return out, err
}

func (s *fileStore) GetSubscription(ctx context.Context, r watch.RecipientID) (sub watch.Subscription, ok bool, err error) {
	err = s.read(ctx, func(tx *fileTx) error {
		sub, ok, err = tx.GetSubscription(ctx, r)
		return err
	})
	return sub, ok, err
}

func (s *fileStore) GetCredentials(ctx context.Context, r watch.RecipientID) (c watch.Credentials, ok bool, err error) {
	err = s.read(ctx, func(tx *fileTx) error {
		c, ok, err = tx.GetCredentials(ctx, r)
		return err
	})
	return c, ok, err
}

func (s *fileStore) AddSubscription(ctx context.Context, sub watch.Subscription) error {
	return s.WithTx(ctx, func(tx Tx) error { return tx.AddSubscription(ctx, sub) })
}

func (s *fileStore) UpdateKinds(ctx context.Context, r watch.RecipientID, kinds watch.KindSet) error {
	return s.WithTx(ctx, func(tx Tx) error { return tx.UpdateKinds(ctx, r, kinds) })
}

func (s *fileStore) RemoveSubscription(ctx context.Context, r watch.RecipientID) error {
	return s.WithTx(ctx, func(tx Tx) error { return tx.RemoveSubscription(ctx, r) })
}

func (s *fileStore) PutCredentials(ctx context.Context, c watch.Credentials) error {
	return s.WithTx(ctx, func(tx Tx) error { return tx.PutCredentials(ctx, c) })
}

func (s *fileStore) RemoveCredentials(ctx context.Context, r watch.RecipientID) error {
	return s.WithTx(ctx, func(tx Tx) error { return tx.RemoveCredentials(ctx, r) })
}

// read runs fn against the live state without copying it.
func (s *fileStore) read(ctx context.Context, fn func(*fileTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return fn(&fileTx{st: s.state, seal: s.seal})
}

type fileTx struct {
	st   fileState
	seal *sealer
	ops  []journalOp
}

func (t *fileTx) record(op journalOp) {
	t.st.apply(op)
	t.ops = append(t.ops, op)
}

func subFromRecord(r subRecord) (watch.Subscription, error) {
	ks, err := watch.ParseKindSet(r.Kinds)
	if err != nil {
		return watch.Subscription{}, err
	}
	return watch.Subscription{
		Recipient:  watch.RecipientID(r.Recipient),
		LinkedUser: watch.UserID(r.LinkedUser),
		Kinds:      ks,
		CreatedAt:  time.UnixMilli(r.CreatedAt).UTC(),
	}, nil
}

func (t *fileTx) ListSubscriptions(context.Context) ([]watch.Subscription, error) {
	out := make([]watch.Subscription, 0, len(t.st.Subs))
	for _, rec := range t.st.Subs {
		sub, err := subFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Recipient < out[j].Recipient })
	return out, nil
}

func (t *fileTx) GetSubscription(_ context.Context, r watch.RecipientID) (watch.Subscription, bool, error) {
	rec, ok := t.st.Subs[r]
	if !ok {
		return watch.Subscription{}, false, nil
	}
	sub, err := subFromRecord(rec)
	return sub, err == nil, err
}

func (t *fileTx) AddSubscription(_ context.Context, sub watch.Subscription) error {
	if _, ok := t.st.Subs[sub.Recipient]; ok {
		return ErrAlreadyExists
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	rec := subRecord{
		Recipient:  int64(sub.Recipient),
		LinkedUser: string(sub.LinkedUser),
		Kinds:      normalizeKinds(sub.Kinds).String(),
		CreatedAt:  sub.CreatedAt.UnixMilli(),
	}
	t.record(journalOp{Op: opPutSub, Recipient: rec.Recipient, Sub: &rec})
	return nil
}

func (t *fileTx) UpdateKinds(_ context.Context, r watch.RecipientID, kinds watch.KindSet) error {
	rec, ok := t.st.Subs[r]
	if !ok {
		return ErrNotFound
	}
	rec.Kinds = normalizeKinds(kinds).String()
	t.record(journalOp{Op: opPutSub, Recipient: int64(r), Sub: &rec})
	return nil
}

func (t *fileTx) RemoveSubscription(_ context.Context, r watch.RecipientID) error {
	if _, ok := t.st.Subs[r]; !ok {
		return ErrNotFound
	}
	t.record(journalOp{Op: opDelSub, Recipient: int64(r)})
	return nil
}

func (t *fileTx) PutCredentials(_ context.Context, c watch.Credentials) error {
	pw, err := t.seal.seal(c.Password)
	if err != nil {
		return err
	}
	rec := credRecord{Recipient: int64(c.Recipient), Login: c.Login, Password: pw}
	t.record(journalOp{Op: opPutCred, Recipient: rec.Recipient, Cred: &rec})
	return nil
}

func (t *fileTx) GetCredentials(_ context.Context, r watch.RecipientID) (watch.Credentials, bool, error) {
	rec, ok := t.st.Creds[r]
	if !ok {
		return watch.Credentials{}, false, nil
	}
	pw, err := t.seal.open(rec.Password)
	if err != nil {
		return watch.Credentials{}, false, err
	}
	return watch.Credentials{Recipient: r, Login: rec.Login, Password: pw}, true, nil
}

func (t *fileTx) RemoveCredentials(_ context.Context, r watch.RecipientID) error {
	if _, ok := t.st.Creds[r]; !ok {
		return ErrNotFound
	}
	t.record(journalOp{Op: opDelCred, Recipient: int64(r)})
	return nil
}
