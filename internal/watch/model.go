package watch

import (
	"sort"
	"time"
)

type (
	BoardID    string
	CardID     string
	ListID     string
	UserID     string
	TaskID     string
	TaskListID string
	ActivityID string
)

// RecipientID is the Telegram chat that receives notifications.
type RecipientID int64

// CommentActivity is the activity type Planka uses for card comments.
const CommentActivity = "commentCard"

type Board struct {
	ID        BoardID
	ProjectID string
	Name      string
}

type List struct {
	ID      ListID
	BoardID BoardID
	Name    string
}

type User struct {
	ID       UserID
	Name     string
	Username string
}

// DisplayName prefers the full name and falls back to the username.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}

// Card is the part of a Planka card that is compared between polls.
// Position is deliberately not part of the record: reordering inside a list
// is not a change.
type Card struct {
	ID            CardID
	BoardID       BoardID
	ListID        ListID
	CreatorUserID UserID
	Name          string
	Description   string
	DueDate       time.Time
}

// Equal reports full field equality. Due dates compare by instant.
func (c Card) Equal(o Card) bool {
	return c.ID == o.ID &&
		c.BoardID == o.BoardID &&
		c.ListID == o.ListID &&
		c.CreatorUserID == o.CreatorUserID &&
		c.Name == o.Name &&
		c.Description == o.Description &&
		c.DueDate.Equal(o.DueDate)
}

type TaskList struct {
	ID     TaskListID
	CardID CardID
	Name   string
}

type Task struct {
	ID          TaskID
	TaskListID  TaskListID
	Name        string
	IsCompleted bool
}

type Activity struct {
	ID     ActivityID
	CardID CardID
	UserID UserID
	Type   string
	Text   string
}

// Subscription is a recipient's registration for a set of change kinds.
// LinkedUser is the recipient's own Planka user; it is used to avoid
// notifying people about cards they created themselves.
type Subscription struct {
	Recipient  RecipientID
	LinkedUser UserID
	Kinds      KindSet
	CreatedAt  time.Time
}

// Credentials are the Planka login of one recipient.
type Credentials struct {
	Recipient RecipientID
	Login     string
	Password  string
}

// BoardSet is an immutable set of board ids.
type BoardSet struct {
	m map[BoardID]struct{}
}

func NewBoardSet(ids ...BoardID) BoardSet {
	m := make(map[BoardID]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			m[id] = struct{}{}
		}
	}
	return BoardSet{m: m}
}

func (s BoardSet) Contains(id BoardID) bool {
	_, ok := s.m[id]
	return ok
}

func (s BoardSet) Len() int { return len(s.m) }

// IDs returns the board ids in sorted order.
func (s BoardSet) IDs() []BoardID {
	out := make([]BoardID, 0, len(s.m))
	for id := range s.m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
