// ABOUTME: Builds Matrix message content from outgoing chat messages
// ABOUTME: Markdown goes to formatted_body via goldmark, buttons become a command footer

package matrix

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/meeting-assistant/internal/chat"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
)

// renderMarkdown converts markdown to the HTML subset Matrix clients show.
func renderMarkdown(text string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", chat.ErrFormatting)
	}
	return strings.TrimSpace(buf.String()), nil
}

// buttonFooter lists the text commands matching the buttons, one row per line.
func buttonFooter(rows [][]chat.Button) string {
	var lines []string
	for _, row := range rows {
		var parts []string
		for _, b := range row {
			cmd := chat.CommandFor(b.Action)
			if cmd == "" {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s: %s", b.Label, cmd))
		}
		if len(parts) > 0 {
			lines = append(lines, strings.Join(parts, " · "))
		}
	}
	return strings.Join(lines, "\n")
}

// buildContent turns msg into an m.room.message text event.
func buildContent(msg chat.OutgoingMessage) (*event.MessageEventContent, error) {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    msg.Text,
	}

	footer := buttonFooter(msg.Buttons)
	if footer != "" {
		content.Body += "\n\n" + footer
	}

	if msg.Formatted {
		formatted, err := renderMarkdown(msg.Text)
		if err != nil {
			return nil, err
		}
		if footer != "" {
			formatted += "<p>" + strings.ReplaceAll(html.EscapeString(footer), "\n", "<br>") + "</p>"
		}
		content.Format = event.FormatHTML
		content.FormattedBody = formatted
	}

	if msg.ReplyTo != "" {
		content.RelatesTo = &event.RelatesTo{
			InReplyTo: &event.InReplyTo{EventID: id.EventID(msg.ReplyTo)},
		}
	}

	return content, nil
}

// asEdit rewrites content into an m.replace edit of original.
func asEdit(content *event.MessageEventContent, original string) {
	newContent := *content
	newContent.RelatesTo = nil
	content.NewContent = &newContent
	content.RelatesTo = &event.RelatesTo{
		Type:    event.RelReplace,
		EventID: id.EventID(original),
	}
	content.Body = "* " + content.Body
	if content.FormattedBody != "" {
		content.FormattedBody = "* " + content.FormattedBody
	}
}
