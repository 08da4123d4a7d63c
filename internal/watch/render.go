package watch

import (
	"strings"

	"plankabot/pkg/tgui"
)

const (
	maxNameRunes    = 200
	maxCommentRunes = 1000
)

var kindTitles = map[Kind]string{
	KindAdd:          "New card",
	KindUpdate:       "Card updated",
	KindMove:         "Card moved",
	KindDelete:       "Card deleted",
	KindTaskAdd:      "Task added",
	KindTaskRemove:   "Task removed",
	KindTaskComplete: "Task completed",
	KindAddComment:   "New comment",
}

// Renderer turns one (kind, card) pair of a DiffEvent into Telegram HTML.
type Renderer struct {
	// PublicURL is the browser-facing Planka base URL. Empty disables links.
	PublicURL string
}

// Render returns the message for ch. DELETE is resolved against the old
// snapshot, everything else against the new one. The boolean is false when
// the card cannot be resolved.
func (r Renderer) Render(ev DiffEvent, ch Change) (string, bool) {
	snap := ev.New
	if ch.Kind == KindDelete {
		snap = ev.Old
	}
	if snap == nil {
		return "", false
	}
	card, ok := snap.Card(ch.Card)
	if !ok {
		return "", false
	}

	listName := string(card.ListID)
	if l, ok := snap.List(card.ListID); ok && l.Name != "" {
		listName = l.Name
	}
	boardName := snap.Board().Name
	if boardName == "" {
		boardName = string(snap.Board().ID)
	}

	lines := []tgui.H{
		tgui.B(kindTitles[ch.Kind]),
		tgui.Esc(tgui.TruncRunes(card.Name, maxNameRunes)),
	}

	switch ch.Kind {
	case KindMove:
		lines = append(lines, tgui.JoinH(" ", tgui.Esc("Moved to list"), tgui.I(listName)))
	default:
		lines = append(lines, tgui.JoinH(" ", tgui.Esc("List:"), tgui.I(listName)))
	}
	lines = append(lines, tgui.JoinH(" ", tgui.Esc("Board:"), tgui.I(boardName)))

	switch ch.Kind {
	case KindAdd:
		if u, ok := snap.User(card.CreatorUserID); ok && u.DisplayName() != "" {
			lines = append(lines, tgui.JoinH(" ", tgui.Esc("Created by:"), tgui.Esc(u.DisplayName())))
		}
	case KindTaskAdd, KindTaskRemove, KindTaskComplete:
		tasks := ev.Diff.Tasks(ch.Kind, ch.Card)
		names := make([]string, 0, len(tasks))
		for _, t := range tasks {
			names = append(names, tgui.TruncRunes(t.Name, maxNameRunes))
		}
		if len(names) > 0 {
			lines = append(lines, tgui.JoinH(" ", tgui.Esc("Tasks:"), tgui.Esc(strings.Join(names, ", "))))
		}
	case KindAddComment:
		acts := ev.Diff.Comments(ch.Card)
		texts := make([]string, 0, len(acts))
		for _, a := range acts {
			text := tgui.TruncRunes(strings.TrimSpace(a.Text), maxCommentRunes)
			if u, ok := snap.User(a.UserID); ok && u.DisplayName() != "" {
				text = u.DisplayName() + ": " + text
			}
			texts = append(texts, text)
		}
		if len(texts) > 0 {
			lines = append(lines, tgui.Quote(strings.Join(texts, "\n")))
		}
	}

	if link := r.cardURL(ch); link != "" {
		lines = append(lines, tgui.Link("Open card", link))
	}
	return tgui.JoinH("\n", lines...).String(), true
}

func (r Renderer) cardURL(ch Change) string {
	base := strings.TrimRight(strings.TrimSpace(r.PublicURL), "/")
	if base == "" || ch.Kind == KindDelete {
		return ""
	}
	return base + "/cards/" + string(ch.Card)
}
