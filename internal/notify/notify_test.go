package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/autoref/internal/logging"
)

func TestNotifier_FansOutInOrder(t *testing.T) {
	first, second := &Recorder{}, &Recorder{}
	n := New(nil, first, second)

	n.Notify(context.Background(), "🤖 Ready to receive referral code. Please send it now...")
	n.Notify(context.Background(), "🔄 Attempting to use referral code: ABC123")

	want := []string{
		"🤖 Ready to receive referral code. Please send it now...",
		"🔄 Attempting to use referral code: ABC123",
	}
	assert.Equal(t, want, first.Messages())
	assert.Equal(t, want, second.Messages())
}

type failingSink struct{ err error }

func (f failingSink) Send(context.Context, string) error { return f.err }

func TestNotifier_SinkFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(slog.NewJSONHandler(&buf, nil))

	rec := &Recorder{}
	failing := failingSink{err: errors.New("chat unreachable")}
	n := New(logger, failing, rec)

	n.Notify(context.Background(), "hello")

	assert.Equal(t, []string{"hello"}, rec.Messages(), "later sinks still receive the message")
	assert.Contains(t, buf.String(), "failed to send notification")
	assert.Contains(t, buf.String(), "chat unreachable")
}

func TestNotifier_Add(t *testing.T) {
	n := New(nil)
	n.Notify(context.Background(), "dropped")

	rec := &Recorder{}
	n.Add(rec)
	n.Notify(context.Background(), "kept")

	assert.Equal(t, []string{"kept"}, rec.Messages())
}

func TestConsole_PlainOutput(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)
	c.now = func() time.Time { return time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC) }

	require.NoError(t, c.Send(context.Background(), "✅ Referral code used successfully!"))

	assert.Equal(t, "[15:04:05] ✅ Referral code used successfully!\n", buf.String())
	assert.False(t, strings.Contains(buf.String(), "\x1b["), "non-TTY output should not be styled")
}

func TestStyleFor(t *testing.T) {
	assert.Equal(t, errorStyle.GetForeground(), styleFor("❌ Failed to use referral code: invalid code").GetForeground())
	assert.Equal(t, warnStyle.GetForeground(), styleFor("⚠️ Account token not ready. Please wait...").GetForeground())
	assert.Equal(t, successStyle.GetForeground(), styleFor("🚀 Bot is online and ready to receive referral codes").GetForeground())
	assert.Equal(t, infoStyle.GetForeground(), styleFor("🔄 Please send another code...").GetForeground())
}
