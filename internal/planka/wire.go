package planka

import (
	"bytes"
	"encoding/json"
	"time"
)

// flexID accepts ids encoded either as JSON strings or numbers. Planka sends
// bigint ids as strings; older deployments sent numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type tokenResponse struct {
	Item string `json:"item"`
}

type loginRequest struct {
	EmailOrUsername string `json:"emailOrUsername"`
	Password        string `json:"password"`
}

type projectsResponse struct {
	Items    []wireProject `json:"items"`
	Included struct {
		Boards []wireBoard `json:"boards"`
	} `json:"included"`
}

type wireProject struct {
	ID   flexID `json:"id"`
	Name string `json:"name"`
}

type wireBoard struct {
	ID        flexID `json:"id"`
	ProjectID flexID `json:"projectId"`
	Name      string `json:"name"`
}

type boardResponse struct {
	Item     wireBoard `json:"item"`
	Included struct {
		Users     []wireUser     `json:"users"`
		Lists     []wireList     `json:"lists"`
		Cards     []wireCard     `json:"cards"`
		TaskLists []wireTaskList `json:"taskLists"`
		Tasks     []wireTask     `json:"tasks"`
	} `json:"included"`
}

type wireUser struct {
	ID       flexID `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

type userResponse struct {
	Item wireUser `json:"item"`
}

type wireList struct {
	ID      flexID `json:"id"`
	BoardID flexID `json:"boardId"`
	Name    string `json:"name"`
}

type wireCard struct {
	ID            flexID     `json:"id"`
	BoardID       flexID     `json:"boardId"`
	ListID        flexID     `json:"listId"`
	CreatorUserID flexID     `json:"creatorUserId"`
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	DueDate       *time.Time `json:"dueDate"`
}

type wireTaskList struct {
	ID     flexID `json:"id"`
	CardID flexID `json:"cardId"`
	Name   string `json:"name"`
}

// wireTask covers both API generations: tasks hang off a task list in newer
// Planka and directly off a card in older releases.
type wireTask struct {
	ID          flexID `json:"id"`
	TaskListID  flexID `json:"taskListId"`
	CardID      flexID `json:"cardId"`
	Name        string `json:"name"`
	IsCompleted bool   `json:"isCompleted"`
}

type actionsResponse struct {
	Items []wireAction `json:"items"`
}

type wireAction struct {
	ID     flexID `json:"id"`
	CardID flexID `json:"cardId"`
	UserID flexID `json:"userId"`
	Type   string `json:"type"`
	Data   struct {
		Text string `json:"text"`
	} `json:"data"`
}
