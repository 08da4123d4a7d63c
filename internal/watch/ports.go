package watch

import "context"

// BoardData is one board as fetched from the source, before disabled lists
// are applied. Cards and tasks of disabled lists are still included.
type BoardData struct {
	Board     Board
	Lists     []List
	Cards     []Card
	Users     []User
	TaskLists []TaskList
	Tasks     []Task
}

// Source is the board service. Implementations own their retry and
// authentication policy; every call returns an explicit error.
type Source interface {
	ListBoards(ctx context.Context) ([]Board, error)
	FetchBoard(ctx context.Context, id BoardID) (BoardData, error)
	FetchCardActivity(ctx context.Context, id CardID) ([]Activity, error)
	FetchVisibleBoards(ctx context.Context, creds Credentials) ([]BoardID, error)
}

// SubscriptionStore is the read side of subscription persistence.
type SubscriptionStore interface {
	ListSubscriptions(ctx context.Context) ([]Subscription, error)
	GetCredentials(ctx context.Context, r RecipientID) (Credentials, bool, error)
}

// Sender delivers one rendered message to one recipient.
type Sender interface {
	Send(ctx context.Context, to RecipientID, text string) error
}
