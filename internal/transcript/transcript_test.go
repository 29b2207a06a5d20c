// ABOUTME: Tests for transcript export in markdown and HTML form.
// ABOUTME: Message bodies are markdown; HTML output must be standalone and escaped.

package transcript

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helio-ai/console/internal/wire"
)

func sampleMessages() []wire.Message {
	at := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	return []wire.Message{
		{ID: "m1", ConversationID: "c1", SenderID: "user-1", Role: wire.RoleUser, Content: "How do I **reset** my key?", CreatedAt: at},
		{ID: "m2", ConversationID: "c1", SenderID: "agent-1", Role: wire.RoleAgent, Content: "Go to *Settings* and click revoke.", CreatedAt: at.Add(time.Minute)},
	}
}

func TestWriteMarkdown(t *testing.T) {
	var b strings.Builder
	require.NoError(t, WriteMarkdown(&b, "Conversation c1", sampleMessages()))

	out := b.String()
	assert.Contains(t, out, "# Conversation c1")
	assert.Contains(t, out, "**user-1**")
	assert.Contains(t, out, "**agent-1**")
	assert.Contains(t, out, "How do I **reset** my key?")
	assert.Contains(t, out, "2026-08-24 10:30:00")
}

func TestWriteHTML(t *testing.T) {
	var b strings.Builder
	require.NoError(t, WriteHTML(&b, "Conversation c1", sampleMessages()))

	out := b.String()
	assert.Contains(t, out, "<!DOCTYPE html>")
	assert.Contains(t, out, "<title>Conversation c1</title>")
	assert.Contains(t, out, "</html>")

	// Markdown bodies are converted
	assert.Contains(t, out, "<strong>reset</strong>")
	assert.Contains(t, out, "<em>Settings</em>")

	// Role classes drive the styling
	assert.Contains(t, out, `class="msg user"`)
	assert.Contains(t, out, `class="msg agent"`)
}

func TestWriteHTML_EscapesTitle(t *testing.T) {
	var b strings.Builder
	require.NoError(t, WriteHTML(&b, `<script>alert("x")</script>`, nil))

	out := b.String()
	assert.NotContains(t, out, `<script>alert`)
	assert.Contains(t, out, "&lt;script&gt;")
}

func TestWriteHTML_Empty(t *testing.T) {
	var b strings.Builder
	require.NoError(t, WriteHTML(&b, "Empty", nil))
	assert.Contains(t, b.String(), "</html>")
}

func TestSenderLabel(t *testing.T) {
	assert.Equal(t, "user-1", senderLabel(wire.Message{SenderID: "user-1"}))
	assert.Equal(t, "agent", senderLabel(wire.Message{Role: wire.RoleAgent}))
	assert.Equal(t, "user", senderLabel(wire.Message{Role: wire.RoleUser}))
}
