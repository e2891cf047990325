// ABOUTME: Tests for turning Matrix room events into chat events
// ABOUTME: Covers edits, the allowlist, redelivery and the crypto store helpers

package matrix

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/meeting-assistant/internal/chat"
)

func newTestTransport(t *testing.T, allowed ...string) *Transport {
	t.Helper()
	tr, err := New(Config{
		Homeserver:   "https://matrix.example.org",
		UserID:       "@bot:example.org",
		AccessToken:  "token",
		AllowedUsers: allowed,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(tr.seen.Close)
	return tr
}

func messageEvent(eventID, sender string, content *event.MessageEventContent) *event.Event {
	return &event.Event{
		ID:        id.EventID(eventID),
		Sender:    id.UserID(sender),
		RoomID:    id.RoomID("!room:example.org"),
		Type:      event.EventMessage,
		Timestamp: 1700000000000,
		Content:   event.Content{Parsed: content},
	}
}

func TestToEventText(t *testing.T) {
	tr := newTestTransport(t)

	ev, ok := tr.toEvent(messageEvent("$1", "@alice:example.org", &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    "  summarize the meeting  ",
	}))
	require.True(t, ok)

	assert.Equal(t, chat.EventText, ev.Kind)
	assert.Equal(t, "@alice:example.org", ev.UserID)
	assert.Equal(t, "!room:example.org", ev.ChatID)
	assert.Equal(t, "$1", ev.MessageID)
	assert.Equal(t, "summarize the meeting", ev.Text)
	assert.Equal(t, time.UnixMilli(1700000000000), ev.SentAt)
}

func TestToEventEdit(t *testing.T) {
	tr := newTestTransport(t)

	ev, ok := tr.toEvent(messageEvent("$2", "@alice:example.org", &event.MessageEventContent{
		MsgType:    event.MsgText,
		Body:       "* fixed question",
		NewContent: &event.MessageEventContent{MsgType: event.MsgText, Body: "fixed question"},
		RelatesTo:  &event.RelatesTo{Type: event.RelReplace, EventID: "$1"},
	}))
	require.True(t, ok)

	assert.Equal(t, chat.EventEdit, ev.Kind)
	assert.Equal(t, "$1", ev.MessageID, "edit points at the original message")
	assert.Equal(t, "fixed question", ev.Text)
}

func TestToEventEditWithoutNewContent(t *testing.T) {
	tr := newTestTransport(t)

	ev, ok := tr.toEvent(messageEvent("$2", "@alice:example.org", &event.MessageEventContent{
		MsgType:   event.MsgText,
		Body:      "* fixed",
		RelatesTo: &event.RelatesTo{Type: event.RelReplace, EventID: "$1"},
	}))
	require.True(t, ok)
	assert.Equal(t, "fixed", ev.Text)
}

func TestToEventIgnored(t *testing.T) {
	tr := newTestTransport(t, "@alice:example.org")

	tests := []struct {
		name string
		evt  *event.Event
	}{
		{"own message", messageEvent("$a", "@bot:example.org", &event.MessageEventContent{MsgType: event.MsgText, Body: "hi"})},
		{"not allowed", messageEvent("$b", "@mallory:example.org", &event.MessageEventContent{MsgType: event.MsgText, Body: "hi"})},
		{"notice", messageEvent("$c", "@alice:example.org", &event.MessageEventContent{MsgType: event.MsgNotice, Body: "hi"})},
		{"image", messageEvent("$d", "@alice:example.org", &event.MessageEventContent{MsgType: event.MsgImage, Body: "cat.png"})},
		{"blank", messageEvent("$e", "@alice:example.org", &event.MessageEventContent{MsgType: event.MsgText, Body: "   "})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := tr.toEvent(tt.evt)
			assert.False(t, ok)
		})
	}
}

func TestToEventRedelivery(t *testing.T) {
	tr := newTestTransport(t)
	evt := messageEvent("$1", "@alice:example.org", &event.MessageEventContent{MsgType: event.MsgText, Body: "hi"})

	_, ok := tr.toEvent(evt)
	require.True(t, ok)
	_, ok = tr.toEvent(evt)
	assert.False(t, ok, "same event id is handled once")
}

func TestAccountSlug(t *testing.T) {
	assert.Equal(t, "bot_example.org", accountSlug("@bot:example.org"))
	assert.Equal(t, "a-b_c_host", accountSlug("@a-b_c:host"))
	assert.Equal(t, "weird_x", accountSlug("@we/ird:x"))
}

func TestStoreKeyIsPerAccount(t *testing.T) {
	assert.Len(t, storeKey("@a:x"), 32)
	assert.Equal(t, storeKey("@a:x"), storeKey("@a:x"))
	assert.NotEqual(t, storeKey("@a:x"), storeKey("@b:x"))
}

func TestStoreBelongsToOtherDevice(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "crypto.db")

	stale, err := storeBelongsToOtherDevice(dbPath, "DEV1")
	require.NoError(t, err)
	assert.False(t, stale, "missing store")

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE crypto_account (device_id TEXT)")
	require.NoError(t, err)

	stale, err = storeBelongsToOtherDevice(dbPath, "DEV1")
	require.NoError(t, err)
	assert.False(t, stale, "empty account table")

	_, err = db.Exec("INSERT INTO crypto_account (device_id) VALUES ('DEV1')")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	stale, err = storeBelongsToOtherDevice(dbPath, "DEV1")
	require.NoError(t, err)
	assert.False(t, stale)

	stale, err = storeBelongsToOtherDevice(dbPath, "DEV2")
	require.NoError(t, err)
	assert.True(t, stale)

	require.NoError(t, removeStore(dbPath))
	_, err = os.Stat(dbPath)
	assert.True(t, os.IsNotExist(err))
}
