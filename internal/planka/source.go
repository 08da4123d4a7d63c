package planka

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"plankabot/internal/watch"
)

// Source adapts a Client to watch.Source. The service account polls boards;
// recipients' own sessions answer visibility questions.
type Source struct {
	c *Client

	mu       sync.Mutex
	sessions map[string]*session // keyed by login
}

type session struct {
	password string
	client   *Client
}

var _ watch.Source = (*Source)(nil)

func NewSource(c *Client) *Source {
	return &Source{c: c, sessions: map[string]*session{}}
}

// Boards lists every board visible to the client's user.
func (c *Client) Boards(ctx context.Context) ([]watch.Board, error) {
	var resp projectsResponse
	if err := c.get(ctx, "/api/projects", &resp); err != nil {
		return nil, err
	}
	out := make([]watch.Board, 0, len(resp.Included.Boards))
	for _, b := range resp.Included.Boards {
		out = append(out, toBoard(b))
	}
	return out, nil
}

// Board fetches one board with its lists, cards, users and tasks.
func (c *Client) Board(ctx context.Context, id watch.BoardID) (watch.BoardData, error) {
	var resp boardResponse
	if err := c.get(ctx, "/api/boards/"+url.PathEscape(string(id)), &resp); err != nil {
		return watch.BoardData{}, err
	}
	inc := resp.Included
	data := watch.BoardData{
		Board: toBoard(resp.Item),
		Lists: make([]watch.List, 0, len(inc.Lists)),
		Cards: make([]watch.Card, 0, len(inc.Cards)),
		Users: make([]watch.User, 0, len(inc.Users)),
	}
	for _, l := range inc.Lists {
		data.Lists = append(data.Lists, watch.List{ID: watch.ListID(l.ID), BoardID: watch.BoardID(l.BoardID), Name: l.Name})
	}
	for _, u := range inc.Users {
		data.Users = append(data.Users, toUser(u))
	}
	for _, c := range inc.Cards {
		card := watch.Card{
			ID:            watch.CardID(c.ID),
			BoardID:       watch.BoardID(c.BoardID),
			ListID:        watch.ListID(c.ListID),
			CreatorUserID: watch.UserID(c.CreatorUserID),
			Name:          c.Name,
			Description:   c.Description,
		}
		if c.DueDate != nil {
			card.DueDate = c.DueDate.UTC()
		}
		data.Cards = append(data.Cards, card)
	}
	for _, tl := range inc.TaskLists {
		data.TaskLists = append(data.TaskLists, watch.TaskList{
			ID:     watch.TaskListID(tl.ID),
			CardID: watch.CardID(tl.CardID),
			Name:   tl.Name,
		})
	}

	// Older servers attach tasks to cards; give each such card one implicit
	// task list so the snapshot can resolve the owner either way.
	implicit := map[watch.CardID]bool{}
	for _, t := range inc.Tasks {
		tl := watch.TaskListID(t.TaskListID)
		if tl == "" && t.CardID != "" {
			card := watch.CardID(t.CardID)
			tl = implicitTaskList(card)
			if !implicit[card] {
				implicit[card] = true
				data.TaskLists = append(data.TaskLists, watch.TaskList{ID: tl, CardID: card})
			}
		}
		data.Tasks = append(data.Tasks, watch.Task{
			ID:          watch.TaskID(t.ID),
			TaskListID:  tl,
			Name:        t.Name,
			IsCompleted: t.IsCompleted,
		})
	}
	return data, nil
}

func implicitTaskList(card watch.CardID) watch.TaskListID {
	return watch.TaskListID("card:" + string(card))
}

// CardActions fetches the activity feed of one card.
func (c *Client) CardActions(ctx context.Context, id watch.CardID) ([]watch.Activity, error) {
	var resp actionsResponse
	if err := c.get(ctx, "/api/cards/"+url.PathEscape(string(id))+"/actions", &resp); err != nil {
		return nil, err
	}
	out := make([]watch.Activity, 0, len(resp.Items))
	for _, a := range resp.Items {
		out = append(out, watch.Activity{
			ID:     watch.ActivityID(a.ID),
			CardID: watch.CardID(a.CardID),
			UserID: watch.UserID(a.UserID),
			Type:   a.Type,
			Text:   a.Data.Text,
		})
	}
	return out, nil
}

// Me returns the user the client is logged in as.
func (c *Client) Me(ctx context.Context) (watch.User, error) {
	var resp userResponse
	if err := c.get(ctx, "/api/users/me", &resp); err != nil {
		return watch.User{}, err
	}
	return toUser(resp.Item), nil
}

func toBoard(b wireBoard) watch.Board {
	return watch.Board{ID: watch.BoardID(b.ID), ProjectID: string(b.ProjectID), Name: b.Name}
}

func toUser(u wireUser) watch.User {
	return watch.User{ID: watch.UserID(u.ID), Name: u.Name, Username: u.Username}
}

func (s *Source) ListBoards(ctx context.Context) ([]watch.Board, error) {
	return s.c.Boards(ctx)
}

func (s *Source) FetchBoard(ctx context.Context, id watch.BoardID) (watch.BoardData, error) {
	return s.c.Board(ctx, id)
}

func (s *Source) FetchCardActivity(ctx context.Context, id watch.CardID) ([]watch.Activity, error) {
	return s.c.CardActions(ctx, id)
}

// FetchVisibleBoards lists the boards the recipient's own account can see.
func (s *Source) FetchVisibleBoards(ctx context.Context, creds watch.Credentials) ([]watch.BoardID, error) {
	boards, err := s.clientFor(creds).Boards(ctx)
	if err != nil {
		return nil, fmt.Errorf("visible boards for %q: %w", creds.Login, err)
	}
	ids := make([]watch.BoardID, 0, len(boards))
	for _, b := range boards {
		ids = append(ids, b.ID)
	}
	return ids, nil
}

// ResolveIdentity logs in with creds and returns the Planka user behind them.
// The command front end uses it to verify a login and to link subscriptions.
func (s *Source) ResolveIdentity(ctx context.Context, creds watch.Credentials) (watch.User, error) {
	return s.clientFor(creds).Me(ctx)
}

// Forget drops a cached session, e.g. after the recipient removed their login.
func (s *Source) Forget(login string) {
	s.mu.Lock()
	delete(s.sessions, login)
	s.mu.Unlock()
}

// clientFor reuses the session of a login so its access token survives
// between visibility refreshes. A changed password starts a new session.
func (s *Source) clientFor(creds watch.Credentials) *Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ss, ok := s.sessions[creds.Login]; ok && ss.password == creds.Password {
		return ss.client
	}
	c := s.c.WithCredentials(creds.Login, creds.Password)
	s.sessions[creds.Login] = &session{password: creds.Password, client: c}
	return c
}
