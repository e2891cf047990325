// ABOUTME: Fixed user-facing texts, button menus and text commands
// ABOUTME: Text commands let transports without buttons reach the same actions

package chat

import (
	"strings"
)

const welcomeText = `👋 Welcome to Meeting Assistant!

I can help you:
• 📅 Create meetings in your calendar
• 🎙 Join calls and record them
• 🔍 Find information from past meetings
• 💬 Answer questions about transcripts

Choose an action:`

const helpText = `🆘 Help

Once connected to the agent you can ask:

📅 Creating meetings:
• "Create a meeting tomorrow at 14:00 for an hour"
• "Schedule a call with the team on Friday"

🎙 Joining calls:
• "Join the call https://meet.google.com/xxx"
• "Record the meeting at [URL]"

🔍 Searching meetings:
• "What did we discuss at the last meeting?"
• "Find mentions of the budget"
• "Which tasks were assigned to Alex?"

📋 Listing calls:
• "Show the latest calls"
• "Which meetings happened this week?"`

const (
	mainMenuText       = "Main menu:"
	startWorkText      = "Getting started with the agent:"
	connectedFormat    = "✅ Connected to the agent!\n\n• URL: %s\n• Status: active\n\nYou can now send messages to the agent."
	connectErrorFormat = "❌ Connection error: %v"
	connectCancelled   = "Connection cancelled."
	disconnectedText   = "✅ You are disconnected from the agent"
	cancelledText      = "❌ Cancelled"
	notConnectedText   = "❌ Connect to the agent first.\n\nSend /start and choose \"Start work\" → \"Connect to agent\"."
	noSessionText      = "❌ Agent not found. Try reconnecting."
	nothingToRetryText = "Nothing to retry."
	taskFailedFormat   = "⚠️ The agent could not complete the task (ID: %s)\n\n%s"
	emptyReplyText     = "(empty reply)"
)

var (
	mainMenu = [][]Button{
		{{Label: "🆘 Help", Action: ActionHelp}, {Label: "🚀 Start work", Action: ActionStartWork}},
	}
	helpMenu = [][]Button{
		{{Label: "🔙 Main menu", Action: ActionBack}},
	}
	startWorkMenu = [][]Button{
		{{Label: "🔌 Connect to agent", Action: ActionConnect}},
		{{Label: "🔙 Main menu", Action: ActionBack}},
	}
	disconnectMenu = [][]Button{
		{{Label: "🔌 Disconnect from agent", Action: ActionDisconnect}},
	}
	connectCancelMenu = [][]Button{
		{{Label: "❌ Cancel connection", Action: ActionCancelConnect}},
	}
	retryMenu = [][]Button{
		{{Label: "🔄 Retry", Action: ActionRetry}, {Label: "❌ Cancel", Action: ActionCancel}},
	}
)

// commands maps text commands to actions. An empty action means start.
var commands = map[string]Action{
	"/start":          "",
	"!start":          "",
	"!help":           ActionHelp,
	"!back":           ActionBack,
	"!menu":           ActionBack,
	"!work":           ActionStartWork,
	"!connect":        ActionConnect,
	"!cancel_connect": ActionCancelConnect,
	"!disconnect":     ActionDisconnect,
	"!retry":          ActionRetry,
	"!cancel":         ActionCancel,
}

// commandForAction maps an action back to the text command transports can
// show next to a button label.
var commandForAction = map[Action]string{
	ActionHelp:          "!help",
	ActionBack:          "!back",
	ActionStartWork:     "!work",
	ActionConnect:       "!connect",
	ActionCancelConnect: "!cancel_connect",
	ActionDisconnect:    "!disconnect",
	ActionRetry:         "!retry",
	ActionCancel:        "!cancel",
}

// ParseCommand recognises a text command. isStart is true for the greeting
// commands; otherwise action is the mapped action. ok is false for ordinary
// text, which goes to the agent.
func ParseCommand(text string) (action Action, isStart bool, ok bool) {
	fields := strings.Fields(text)
	if len(fields) != 1 {
		return "", false, false
	}
	cmd := strings.ToLower(fields[0])
	// "/start@botname" style suffixes.
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	a, found := commands[cmd]
	if !found {
		return "", false, false
	}
	return a, a == "", true
}

// CommandFor returns the text command that triggers action.
func CommandFor(action Action) string {
	return commandForAction[action]
}
