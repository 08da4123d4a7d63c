package watch

import (
	"context"
	"errors"
	"sync"
	"time"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// boardFixture builds snapshots for board "b1" with two lists, Todo and Done.
type boardFixture struct {
	in SnapshotInput
}

func newBoard() *boardFixture {
	return &boardFixture{in: SnapshotInput{
		Board: Board{ID: "b1", ProjectID: "p1", Name: "Roadmap"},
		Lists: []List{
			{ID: "todo", BoardID: "b1", Name: "Todo"},
			{ID: "done", BoardID: "b1", Name: "Done"},
			{ID: "arch", BoardID: "b1", Name: "Archive"},
		},
		Users: []User{
			{ID: "u1", Name: "Ann Lee", Username: "ann"},
			{ID: "u2", Username: "bob"},
		},
		TakenAt: t0,
	}}
}

func (f *boardFixture) card(id CardID, list ListID, name string) *boardFixture {
	f.in.Cards = append(f.in.Cards, Card{ID: id, BoardID: "b1", ListID: list, CreatorUserID: "u1", Name: name})
	f.in.TaskLists = append(f.in.TaskLists, TaskList{ID: TaskListID("tl-" + id), CardID: id})
	return f
}

func (f *boardFixture) cardBy(id CardID, list ListID, name string, creator UserID) *boardFixture {
	f.card(id, list, name)
	f.in.Cards[len(f.in.Cards)-1].CreatorUserID = creator
	return f
}

func (f *boardFixture) task(id TaskID, card CardID, name string, done bool) *boardFixture {
	f.in.Tasks = append(f.in.Tasks, Task{ID: id, TaskListID: TaskListID("tl-" + card), Name: name, IsCompleted: done})
	return f
}

func (f *boardFixture) comment(id ActivityID, card CardID, user UserID, text string) *boardFixture {
	f.in.Activities = append(f.in.Activities, Activity{ID: id, CardID: card, UserID: user, Type: CommentActivity, Text: text})
	return f
}

func (f *boardFixture) disabled(ids ...ListID) *boardFixture {
	f.in.DisabledLists = append(f.in.DisabledLists, ids...)
	return f
}

func (f *boardFixture) hidden(ids ...CardID) *boardFixture {
	f.in.HiddenCards = append(f.in.HiddenCards, ids...)
	return f
}

func (f *boardFixture) movedBack(ids ...CardID) *boardFixture {
	f.in.MovedBackCards = append(f.in.MovedBackCards, ids...)
	return f
}

func (f *boardFixture) build() *Snapshot { return NewSnapshot(f.in) }

type fakeStore struct {
	mu      sync.Mutex
	subs    []Subscription
	creds   map[RecipientID]Credentials
	listErr error
}

func (s *fakeStore) ListSubscriptions(context.Context) ([]Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]Subscription(nil), s.subs...), nil
}

func (s *fakeStore) GetCredentials(_ context.Context, r RecipientID) (Credentials, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[r]
	return c, ok, nil
}

type sentMsg struct {
	To   RecipientID
	Text string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMsg
	fail map[RecipientID]bool
}

func (s *fakeSender) Send(_ context.Context, to RecipientID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[to] {
		return errors.New("blocked by user")
	}
	s.sent = append(s.sent, sentMsg{To: to, Text: text})
	return nil
}

func (s *fakeSender) recipients() []RecipientID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecipientID, 0, len(s.sent))
	for _, m := range s.sent {
		out = append(out, m.To)
	}
	return out
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fakeSource struct {
	mu       sync.Mutex
	boards   []Board
	data     map[BoardID]BoardData
	acts     map[CardID][]Activity
	actErr   map[CardID]error
	actCalls map[CardID]int
	boardErr map[BoardID]error
	visible  map[string][]BoardID // keyed by login
	visErr   map[string]error
}

func (s *fakeSource) ListBoards(context.Context) ([]Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Board(nil), s.boards...), nil
}

func (s *fakeSource) FetchBoard(_ context.Context, id BoardID) (BoardData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.boardErr[id]; err != nil {
		return BoardData{}, err
	}
	return s.data[id], nil
}

func (s *fakeSource) FetchCardActivity(_ context.Context, id CardID) ([]Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.actCalls == nil {
		s.actCalls = map[CardID]int{}
	}
	s.actCalls[id]++
	if err := s.actErr[id]; err != nil {
		return nil, err
	}
	return append([]Activity(nil), s.acts[id]...), nil
}

func (s *fakeSource) FetchVisibleBoards(_ context.Context, c Credentials) ([]BoardID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.visErr[c.Login]; err != nil {
		return nil, err
	}
	return s.visible[c.Login], nil
}

func (s *fakeSource) setVisErr(login string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visErr == nil {
		s.visErr = map[string]error{}
	}
	s.visErr[login] = err
}
