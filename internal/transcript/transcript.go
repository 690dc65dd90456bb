// ABOUTME: Renders conversation transcripts as standalone HTML documents
// ABOUTME: Converts assistant markdown to HTML and lays out messages chronologically

package transcript

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/yuin/goldmark"

	"github.com/tzironis/qualia/internal/provider"
	"github.com/tzironis/qualia/internal/session"
)

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Conversation Transcript</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; }
.message { margin-bottom: 1.5rem; }
.message .meta { font-size: 0.8rem; color: #666; margin-bottom: 0.25rem; }
.message.user .body { background: #eef3ff; border-radius: 8px; padding: 0.5rem 0.75rem; }
.message.assistant .body { background: #f6f6f6; border-radius: 8px; padding: 0.5rem 0.75rem; }
.pending { opacity: 0.6; font-style: italic; }
</style>
</head>
<body>
<h1>Conversation Transcript</h1>
<p class="meta">Exported {{.ExportedAt}} &middot; {{.Count}} messages</p>
{{range .Messages}}
<div class="message {{.Role}}{{if .Pending}} pending{{end}}">
<div class="meta">{{.Label}}{{if .Timestamp}} &middot; {{.Timestamp}}{{end}}</div>
<div class="body">{{.Body}}</div>
</div>
{{end}}
</body>
</html>
`

var tmpl = template.Must(template.New("transcript").Parse(pageTemplate))

type renderedMessage struct {
	Role      string
	Label     string
	Timestamp string
	Pending   bool
	Body      template.HTML
}

type pageData struct {
	ExportedAt string
	Count      int
	Messages   []renderedMessage
}

// Write renders the given messages as a standalone HTML document.
// Messages are expected newest first, as the session manager holds them,
// and are written oldest first so the transcript reads top to bottom.
func Write(w io.Writer, messages []session.Message) error {
	rendered := make([]renderedMessage, 0, len(messages))

	// Walk backwards to restore chronological order
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]

		body, err := renderBody(msg)
		if err != nil {
			return fmt.Errorf("rendering message %s: %w", msg.ID, err)
		}

		var ts string
		if !msg.Timestamp.IsZero() {
			ts = msg.Timestamp.Format("2006-01-02 15:04")
		}

		rendered = append(rendered, renderedMessage{
			Role:      string(msg.Role),
			Label:     roleLabel(msg.Role),
			Timestamp: ts,
			Pending:   msg.Pending,
			Body:      body,
		})
	}

	data := pageData{
		ExportedAt: time.Now().Format("2006-01-02 15:04"),
		Count:      len(rendered),
		Messages:   rendered,
	}

	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("rendering transcript: %w", err)
	}

	return nil
}

// renderBody converts assistant markdown to HTML. User messages are plain
// text and only need escaping, which the template would otherwise skip for
// template.HTML values.
func renderBody(msg session.Message) (template.HTML, error) {
	if msg.Role == provider.RoleAssistant {
		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(msg.Content), &buf); err != nil {
			return "", err
		}
		return template.HTML(buf.String()), nil
	}

	return template.HTML("<p>" + template.HTMLEscapeString(msg.Content) + "</p>"), nil
}

func roleLabel(role provider.Role) string {
	switch role {
	case provider.RoleUser:
		return "You"
	case provider.RoleAssistant:
		return "Assistant"
	default:
		return string(role)
	}
}
