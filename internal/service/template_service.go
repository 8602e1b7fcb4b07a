// internal/service/template_service.go
package service

import (
	"strings"

	"github.com/unclebandit/campaign-engine/internal/model"
)

// RenderTemplate expands {key} and {key|fallback} placeholders in one pass,
// so substituted values are never expanded again. An empty or missing value
// uses the fallback; without one, unknown placeholders are left as written.
func RenderTemplate(template string, data map[string]string) string {
	var b strings.Builder
	b.Grow(len(template))

	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			return b.String()
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			b.WriteString(rest)
			return b.String()
		}
		end += open

		b.WriteString(rest[:open])
		token := rest[open+1 : end]
		key, fallback, hasFallback := strings.Cut(token, "|")
		switch v, ok := data[key]; {
		case ok && v != "":
			b.WriteString(v)
		case hasFallback:
			b.WriteString(fallback)
		case ok:
		default:
			b.WriteString(rest[open : end+1])
		}
		rest = rest[end+1:]
	}
}

// RenderSend personalizes a send payload for its contact.
func RenderSend(p model.SendPayload, c *model.Contact) (subject, body string) {
	vars := c.Vars()
	return RenderTemplate(p.Subject, vars), RenderTemplate(p.Body, vars)
}
