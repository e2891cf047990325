// ABOUTME: Builds Discord message payloads from outgoing chat messages
// ABOUTME: Buttons become action rows; plain messages have markdown escaped

package discord

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/2389/meeting-assistant/internal/chat"
)

// maxButtonsPerRow is Discord's limit for one action row.
const maxButtonsPerRow = 5

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"*", `\*`,
	"_", `\_`,
	"~", `\~`,
	"`", "\\`",
	"|", `\|`,
	">", `\>`,
)

func content(msg chat.OutgoingMessage) string {
	if msg.Formatted {
		return msg.Text
	}
	return markdownEscaper.Replace(msg.Text)
}

// buildComponents maps button rows onto action rows. Rows longer than
// Discord allows are wrapped.
func buildComponents(rows [][]chat.Button) []discordgo.MessageComponent {
	var components []discordgo.MessageComponent
	for _, row := range rows {
		for start := 0; start < len(row); start += maxButtonsPerRow {
			end := min(start+maxButtonsPerRow, len(row))
			buttons := make([]discordgo.MessageComponent, 0, end-start)
			for _, b := range row[start:end] {
				buttons = append(buttons, discordgo.Button{
					Label:    b.Label,
					Style:    buttonStyle(b.Action),
					CustomID: string(b.Action),
				})
			}
			components = append(components, discordgo.ActionsRow{Components: buttons})
		}
	}
	return components
}

func buttonStyle(a chat.Action) discordgo.ButtonStyle {
	switch a {
	case chat.ActionDisconnect, chat.ActionCancel, chat.ActionCancelConnect:
		return discordgo.DangerButton
	case chat.ActionBack, chat.ActionHelp:
		return discordgo.SecondaryButton
	default:
		return discordgo.PrimaryButton
	}
}

func buildSend(chatID string, msg chat.OutgoingMessage) *discordgo.MessageSend {
	send := &discordgo.MessageSend{
		Content:    content(msg),
		Components: buildComponents(msg.Buttons),
		// Agent output must never ping anyone.
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if msg.ReplyTo != "" {
		send.Reference = &discordgo.MessageReference{MessageID: msg.ReplyTo, ChannelID: chatID}
	}
	return send
}

func buildEdit(chatID, messageID string, msg chat.OutgoingMessage) *discordgo.MessageEdit {
	text := content(msg)
	components := buildComponents(msg.Buttons)
	if components == nil {
		components = []discordgo.MessageComponent{}
	}
	return &discordgo.MessageEdit{
		ID:              messageID,
		Channel:         chatID,
		Content:         &text,
		Components:      &components,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
}

// classifyError maps a rejected form body on a formatted message to
// chat.ErrFormatting.
func classifyError(err error, formatted bool) error {
	var restErr *discordgo.RESTError
	if formatted && errors.As(err, &restErr) && restErr.Message != nil && restErr.Message.Code == errCodeInvalidFormBody {
		return fmt.Errorf("sending message: %w: %w", chat.ErrFormatting, err)
	}
	return fmt.Errorf("sending message: %w", err)
}
