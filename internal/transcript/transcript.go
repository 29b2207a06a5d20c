// ABOUTME: Renders a conversation transcript to markdown and standalone HTML.
// ABOUTME: Message bodies are treated as markdown and converted with goldmark.

package transcript

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/helio-ai/console/internal/wire"
)

const htmlHeader = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; }
.msg { margin: 1rem 0; padding: 0.5rem 1rem; border-radius: 8px; }
.msg.user { background: #eef2ff; }
.msg.agent { background: #f4f4f5; }
.meta { font-size: 0.8rem; color: #666; margin-bottom: 0.25rem; }
</style>
</head>
<body>
<h1>%s</h1>
`

// WriteMarkdown renders the transcript as a markdown document.
func WriteMarkdown(w io.Writer, title string, msgs []wire.Message) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	for _, msg := range msgs {
		fmt.Fprintf(&b, "**%s** · %s\n\n", senderLabel(msg), msg.CreatedAt.Format("2006-01-02 15:04:05"))
		b.WriteString(msg.Content)
		b.WriteString("\n\n---\n\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteHTML renders the transcript as a standalone HTML page. Each message
// body is converted from markdown; a body that fails conversion is included
// escaped rather than dropped.
func WriteHTML(w io.Writer, title string, msgs []wire.Message) error {
	if _, err := fmt.Fprintf(w, htmlHeader, html.EscapeString(title), html.EscapeString(title)); err != nil {
		return err
	}

	for _, msg := range msgs {
		var body bytes.Buffer
		if err := goldmark.Convert([]byte(msg.Content), &body); err != nil {
			body.Reset()
			body.WriteString("<p>" + html.EscapeString(msg.Content) + "</p>")
		}

		_, err := fmt.Fprintf(w, "<div class=\"msg %s\">\n<div class=\"meta\">%s · %s</div>\n%s</div>\n",
			roleClass(msg.Role),
			html.EscapeString(senderLabel(msg)),
			msg.CreatedAt.Format("2006-01-02 15:04:05"),
			body.String(),
		)
		if err != nil {
			return err
		}
	}

	_, err := io.WriteString(w, "</body>\n</html>\n")
	return err
}

func senderLabel(msg wire.Message) string {
	if msg.SenderID != "" {
		return msg.SenderID
	}
	if msg.Role == wire.RoleAgent {
		return "agent"
	}
	return "user"
}

func roleClass(role wire.Role) string {
	if role == wire.RoleAgent {
		return "agent"
	}
	return "user"
}
