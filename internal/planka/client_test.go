package planka

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"plankabot/internal/watch"
	logx "plankabot/pkg/logx"
)

// fakePlanka serves a tiny subset of the Planka API.
type fakePlanka struct {
	mu       sync.Mutex
	tokens   map[string]string // token -> login
	users    map[string]string // login -> password
	logins   atomic.Int32
	failNext atomic.Int32 // respond 502 this many times
	boards   map[string][]string
}

func newFakePlanka(t *testing.T) (*fakePlanka, *httptest.Server) {
	t.Helper()
	f := &fakePlanka{
		tokens: map[string]string{},
		users:  map[string]string{"svc": "svcpw", "ann": "annpw"},
		boards: map[string][]string{"svc": {"101", "102"}, "ann": {"102"}},
	}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakePlanka) revokeAll() {
	f.mu.Lock()
	f.tokens = map[string]string{}
	f.mu.Unlock()
}

func (f *fakePlanka) serve(w http.ResponseWriter, r *http.Request) {
	if f.failNext.Load() > 0 {
		f.failNext.Add(-1)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	if r.URL.Path == "/api/access-tokens" && r.Method == http.MethodPost {
		var req loginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.logins.Add(1)
		f.mu.Lock()
		defer f.mu.Unlock()
		if pw, ok := f.users[req.EmailOrUsername]; !ok || pw != req.Password {
			http.Error(w, `{"code":"E_UNAUTHORIZED"}`, http.StatusUnauthorized)
			return
		}
		tok := "tok-" + req.EmailOrUsername + "-" + time.Now().Format("150405.000000000")
		f.tokens[tok] = req.EmailOrUsername
		_ = json.NewEncoder(w).Encode(map[string]string{"item": tok})
		return
	}

	f.mu.Lock()
	login, ok := f.tokens[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
	f.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch {
	case r.URL.Path == "/api/projects":
		var boards []map[string]any
		for _, id := range f.boards[login] {
			boards = append(boards, map[string]any{"id": id, "projectId": "1", "name": "Board " + id})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items":    []any{map[string]any{"id": "1", "name": "Main"}},
			"included": map[string]any{"boards": boards},
		})
	case r.URL.Path == "/api/boards/101":
		_, _ = w.Write([]byte(boardJSON))
	case r.URL.Path == "/api/cards/501/actions":
		_, _ = w.Write([]byte(`{"items":[
			{"id":"9001","cardId":"501","userId":"7","type":"commentCard","data":{"text":"looks good"}},
			{"id":"9002","cardId":"501","userId":"7","type":"moveCard","data":{}}
		]}`))
	case r.URL.Path == "/api/users/me":
		_ = json.NewEncoder(w).Encode(map[string]any{"item": map[string]any{"id": "7", "name": "Ann", "username": login}})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// Mixed generations: card 501 uses a task list, card 502 carries tasks directly.
const boardJSON = `{
  "item": {"id": "101", "projectId": "1", "name": "Roadmap"},
  "included": {
    "users": [{"id": "7", "name": "Ann", "username": "ann"}],
    "lists": [{"id": "11", "boardId": "101", "name": "Todo"}],
    "cards": [
      {"id": "501", "boardId": "101", "listId": "11", "creatorUserId": "7", "name": "Docs", "description": "", "dueDate": "2026-04-01T10:00:00.000Z"},
      {"id": 502, "boardId": 101, "listId": 11, "creatorUserId": 7, "name": "Old style", "dueDate": null}
    ],
    "taskLists": [{"id": "61", "cardId": "501", "name": "Checklist"}],
    "tasks": [
      {"id": "71", "taskListId": "61", "name": "outline", "isCompleted": true},
      {"id": "72", "cardId": "502", "name": "legacy", "isCompleted": false},
      {"id": "73", "cardId": "502", "name": "legacy 2", "isCompleted": false}
    ]
  }
}`

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: url + "/", Username: "svc", Password: "svcpw", RetryDelay: time.Millisecond}, logx.Nop())
	require.NoError(t, err)
	return c
}

func TestClientBoardsLogsInOnce(t *testing.T) {
	t.Parallel()
	f, srv := newFakePlanka(t)
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	boards, err := c.Boards(ctx)
	require.NoError(t, err)
	require.Equal(t, []watch.Board{
		{ID: "101", ProjectID: "1", Name: "Board 101"},
		{ID: "102", ProjectID: "1", Name: "Board 102"},
	}, boards)

	_, err = c.Boards(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, f.logins.Load())
}

func TestClientReloginOnUnauthorized(t *testing.T) {
	t.Parallel()
	f, srv := newFakePlanka(t)
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	_, err := c.Boards(ctx)
	require.NoError(t, err)
	f.revokeAll()
	_, err = c.Boards(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, f.logins.Load())
}

func TestClientBadCredentials(t *testing.T) {
	t.Parallel()
	_, srv := newFakePlanka(t)
	c := newTestClient(t, srv.URL).WithCredentials("ann", "wrong")
	_, err := c.Boards(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestClientRetriesServerErrors(t *testing.T) {
	t.Parallel()
	f, srv := newFakePlanka(t)
	c := newTestClient(t, srv.URL)

	f.failNext.Store(2)
	_, err := c.Boards(context.Background())
	require.NoError(t, err)

	f.failNext.Store(10)
	_, err = c.Boards(context.Background())
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusBadGateway, se.Code)
}

func TestClientBoardMapsBothTaskShapes(t *testing.T) {
	t.Parallel()
	_, srv := newFakePlanka(t)
	c := newTestClient(t, srv.URL)

	data, err := c.Board(context.Background(), "101")
	require.NoError(t, err)
	require.Equal(t, "Roadmap", data.Board.Name)
	require.Len(t, data.Cards, 2)
	require.Equal(t, watch.CardID("502"), data.Cards[1].ID)
	require.Equal(t, watch.ListID("11"), data.Cards[1].ListID)
	require.Equal(t, time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC), data.Cards[0].DueDate)
	require.True(t, data.Cards[1].DueDate.IsZero())

	require.Equal(t, []watch.TaskList{
		{ID: "61", CardID: "501", Name: "Checklist"},
		{ID: "card:502", CardID: "502"},
	}, data.TaskLists)
	require.Len(t, data.Tasks, 3)
	require.Equal(t, watch.TaskListID("card:502"), data.Tasks[2].TaskListID)

	snap := watch.NewSnapshot(watch.SnapshotInput{
		Board: data.Board, Lists: data.Lists, Cards: data.Cards, Users: data.Users,
		TaskLists: data.TaskLists, Tasks: data.Tasks,
	})
	require.Equal(t, 2, snap.CardCount())
}

func TestClientNotFound(t *testing.T) {
	t.Parallel()
	_, srv := newFakePlanka(t)
	c := newTestClient(t, srv.URL)
	_, err := c.Board(context.Background(), "999")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSourceActivitiesAndVisibility(t *testing.T) {
	t.Parallel()
	f, srv := newFakePlanka(t)
	src := NewSource(newTestClient(t, srv.URL))
	ctx := context.Background()

	acts, err := src.FetchCardActivity(ctx, "501")
	require.NoError(t, err)
	require.Len(t, acts, 2)
	require.Equal(t, watch.Activity{ID: "9001", CardID: "501", UserID: "7", Type: watch.CommentActivity, Text: "looks good"}, acts[0])

	ann := watch.Credentials{Recipient: 1, Login: "ann", Password: "annpw"}
	ids, err := src.FetchVisibleBoards(ctx, ann)
	require.NoError(t, err)
	require.Equal(t, []watch.BoardID{"102"}, ids)

	before := f.logins.Load()
	_, err = src.FetchVisibleBoards(ctx, ann)
	require.NoError(t, err)
	require.Equal(t, before, f.logins.Load(), "session reused")

	me, err := src.ResolveIdentity(ctx, ann)
	require.NoError(t, err)
	require.Equal(t, watch.UserID("7"), me.ID)

	_, err = src.FetchVisibleBoards(ctx, watch.Credentials{Login: "ann", Password: "nope"})
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestFlexID(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want flexID
	}{
		{`"123"`, "123"},
		{`123`, "123"},
		{`1234567890123456789`, "1234567890123456789"},
		{`null`, ""},
	}
	for _, tc := range cases {
		var f flexID
		require.NoError(t, json.Unmarshal([]byte(tc.in), &f), tc.in)
		require.Equal(t, tc.want, f)
	}
}
