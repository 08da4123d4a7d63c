package commands

import (
	"strconv"
	"strings"

	kit "plankabot/internal/transport"
	"plankabot/internal/transport/telegram/router"
	"plankabot/internal/watch"
)

func messageRef(req *router.Request) kit.MessageRef {
	return kit.MessageRef{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID, MessageID: req.Message.ID}
}

// kindNames renders a set the way users type it.
func kindNames(ks watch.KindSet) string {
	if ks == watch.AllKindSet {
		return "all"
	}
	parts := make([]string, 0, len(watch.AllKinds))
	for _, k := range ks.Kinds() {
		parts = append(parts, strings.ToLower(string(k)))
	}
	return strings.Join(parts, ", ")
}

func allKindNames() string {
	parts := make([]string, len(watch.AllKinds))
	for i, k := range watch.AllKinds {
		parts[i] = strings.ToLower(string(k))
	}
	return strings.Join(parts, ", ")
}

func itoa(n int) string { return strconv.Itoa(n) }
