package router

import (
	"html"
	"sort"
	"strings"
)

// helpText renders help in HTML parse mode. With an argument it describes
// that one command.
func (r *Router) helpText(args []string) string {
	if len(args) > 0 {
		word := commandWord(args[0])
		r.mu.RLock()
		c, ok := r.cmds[word]
		r.mu.RUnlock()
		if !ok {
			return "Unknown command. Type <code>/help</code> for the list."
		}
		return commandHelpHTML(*c)
	}

	cmds := r.commands()
	sort.SliceStable(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	lines := []string{"<b>Commands</b>"}
	for _, c := range cmds {
		if c.Hidden {
			continue
		}
		line := "• <code>/" + html.EscapeString(c.Name) + "</code>"
		if d := strings.TrimSpace(c.Description); d != "" {
			line += " - " + html.EscapeString(d)
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", "Type <code>/help &lt;command&gt;</code> for details.")
	return strings.Join(lines, "\n")
}

func commandHelpHTML(c Command) string {
	lines := []string{"<b>/" + html.EscapeString(c.Name) + "</b>"}
	if d := strings.TrimSpace(c.Description); d != "" {
		lines = append(lines, html.EscapeString(d))
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		lines = append(lines, "", "<b>Usage</b>")
		for _, l := range strings.Split(u, "\n") {
			lines = append(lines, "<code>"+html.EscapeString(l)+"</code>")
		}
	}
	if len(c.Aliases) > 0 {
		al := make([]string, 0, len(c.Aliases))
		for _, a := range c.Aliases {
			al = append(al, "/"+html.EscapeString(a))
		}
		lines = append(lines, "", "Also: "+strings.Join(al, ", "))
	}
	return strings.Join(lines, "\n")
}
