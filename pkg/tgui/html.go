package tgui

import (
	"html"
	"strings"
)

// H is Telegram HTML (ParseMode "HTML") that is already escaped.
type H string

func (h H) String() string { return string(h) }

// Esc escapes plain text.
func Esc(s string) H { return H(html.EscapeString(s)) }

func tag(name, s string) H { return H("<" + name + ">" + html.EscapeString(s) + "</" + name + ">") }

func B(s string) H { return tag("b", s) }
func I(s string) H { return tag("i", s) }

// Quote renders s as a blockquote. Newlines inside s are kept.
func Quote(s string) H { return tag("blockquote", s) }

// Link builds an anchor; both the URL and the label are escaped.
func Link(text, url string) H {
	return H(`<a href="` + html.EscapeString(url) + `">` + html.EscapeString(text) + `</a>`)
}

// JoinH joins parts with sep, skipping blank ones.
func JoinH(sep string, parts ...H) H {
	var sb strings.Builder
	for _, p := range parts {
		if strings.TrimSpace(string(p)) == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(string(p))
	}
	return H(sb.String())
}
