package watch

import (
	"maps"
	"time"
)

// SnapshotInput is the raw material for a Snapshot. Cards, Tasks and
// Activities must already be limited to what is visible (not parked in a
// disabled list).
type SnapshotInput struct {
	Board      Board
	Cards      []Card
	Lists      []List
	Users      []User
	TaskLists  []TaskList
	Tasks      []Task
	Activities []Activity

	DisabledLists  []ListID
	HiddenCards    []CardID
	HiddenTasks    []TaskID
	MovedBackCards []CardID
	MovedBackTasks []TaskID
	// FirstHistory are cards whose activity was captured for the first time.
	FirstHistory []CardID

	TakenAt time.Time
}

// Snapshot is one board's observed state at one poll. It is immutable after
// NewSnapshot returns; accessors hand out copies or values only.
type Snapshot struct {
	board      Board
	cards      map[CardID]Card
	lists      map[ListID]List
	users      map[UserID]User
	taskLists  map[TaskListID]TaskList
	tasks      map[TaskID]Task
	activities map[ActivityID]Activity

	disabledLists  map[ListID]struct{}
	hiddenCards    map[CardID]struct{}
	hiddenTasks    map[TaskID]struct{}
	movedBackCards map[CardID]struct{}
	movedBackTasks map[TaskID]struct{}
	firstHistory   map[CardID]struct{}

	takenAt time.Time
}

func NewSnapshot(in SnapshotInput) *Snapshot {
	s := &Snapshot{
		board:          in.Board,
		cards:          make(map[CardID]Card, len(in.Cards)),
		lists:          make(map[ListID]List, len(in.Lists)),
		users:          make(map[UserID]User, len(in.Users)),
		taskLists:      make(map[TaskListID]TaskList, len(in.TaskLists)),
		tasks:          make(map[TaskID]Task, len(in.Tasks)),
		activities:     make(map[ActivityID]Activity, len(in.Activities)),
		disabledLists:  idSet(in.DisabledLists),
		hiddenCards:    idSet(in.HiddenCards),
		hiddenTasks:    idSet(in.HiddenTasks),
		movedBackCards: idSet(in.MovedBackCards),
		movedBackTasks: idSet(in.MovedBackTasks),
		firstHistory:   idSet(in.FirstHistory),
		takenAt:        in.TakenAt,
	}
	for _, c := range in.Cards {
		s.cards[c.ID] = c
	}
	for _, l := range in.Lists {
		s.lists[l.ID] = l
	}
	for _, u := range in.Users {
		s.users[u.ID] = u
	}
	for _, tl := range in.TaskLists {
		s.taskLists[tl.ID] = tl
	}
	for _, t := range in.Tasks {
		s.tasks[t.ID] = t
	}
	for _, a := range in.Activities {
		s.activities[a.ID] = a
	}
	return s
}

func idSet[K comparable](ids []K) map[K]struct{} {
	m := make(map[K]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func (s *Snapshot) Board() Board       { return s.board }
func (s *Snapshot) TakenAt() time.Time { return s.takenAt }
func (s *Snapshot) CardCount() int     { return len(s.cards) }

func (s *Snapshot) Card(id CardID) (Card, bool) {
	c, ok := s.cards[id]
	return c, ok
}

func (s *Snapshot) List(id ListID) (List, bool) {
	l, ok := s.lists[id]
	return l, ok
}

func (s *Snapshot) User(id UserID) (User, bool) {
	u, ok := s.users[id]
	return u, ok
}

// TaskCard resolves the card owning a task via its task list.
func (s *Snapshot) TaskCard(t Task) (CardID, bool) {
	tl, ok := s.taskLists[t.TaskListID]
	if !ok || tl.CardID == "" {
		return "", false
	}
	return tl.CardID, true
}

func (s *Snapshot) IsListDisabled(id ListID) bool {
	_, ok := s.disabledLists[id]
	return ok
}

func (s *Snapshot) IsCardHidden(id CardID) bool {
	_, ok := s.hiddenCards[id]
	return ok
}

func (s *Snapshot) IsCardMovedBack(id CardID) bool {
	_, ok := s.movedBackCards[id]
	return ok
}

func (s *Snapshot) IsFirstHistory(id CardID) bool {
	_, ok := s.firstHistory[id]
	return ok
}

// Equal reports whether two snapshots describe the same board state.
// The capture time is ignored.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.board == o.board &&
		maps.EqualFunc(s.cards, o.cards, Card.Equal) &&
		maps.Equal(s.lists, o.lists) &&
		maps.Equal(s.users, o.users) &&
		maps.Equal(s.taskLists, o.taskLists) &&
		maps.Equal(s.tasks, o.tasks) &&
		maps.Equal(s.activities, o.activities) &&
		maps.Equal(s.disabledLists, o.disabledLists) &&
		maps.Equal(s.hiddenCards, o.hiddenCards) &&
		maps.Equal(s.hiddenTasks, o.hiddenTasks) &&
		maps.Equal(s.movedBackCards, o.movedBackCards) &&
		maps.Equal(s.movedBackTasks, o.movedBackTasks) &&
		maps.Equal(s.firstHistory, o.firstHistory)
}
