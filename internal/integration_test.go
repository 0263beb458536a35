// Package internal contains integration tests that wire the real packages
// together against fake HTTP services and drive a pipeline through the
// dispatcher, the way the run command does.
package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/autoref/internal/dispatch"
	"github.com/Iron-Ham/autoref/internal/event"
	"github.com/Iron-Ham/autoref/internal/handoff"
	"github.com/Iron-Ham/autoref/internal/inbox"
	"github.com/Iron-Ham/autoref/internal/mailtm"
	"github.com/Iron-Ham/autoref/internal/metrics"
	"github.com/Iron-Ham/autoref/internal/notify"
	"github.com/Iron-Ham/autoref/internal/pipeline"
	"github.com/Iron-Ham/autoref/internal/provision"
	"github.com/Iron-Ham/autoref/internal/referral"
	"github.com/Iron-Ham/autoref/internal/remote"
	"github.com/Iron-Ham/autoref/internal/results"
	"github.com/Iron-Ham/autoref/internal/retry"
)

const operatorChat = "1001"

// fakeMailTM serves the two mail.tm endpoints the mailbox client uses.
func fakeMailTM(t *testing.T, created *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/domains":
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"id": "d1", "domain": "mail.test", "isActive": true},
			})
		case "/accounts":
			var req struct {
				Address string `json:"address"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			created.Add(1)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "a1", "address": req.Address})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// fakeService accepts ABC123 from accounts registered with token T.
func fakeService(t *testing.T, registered *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case remote.PathRegister:
			registered.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"code": 200, "data": map[string]string{"token": "T"},
			})
		case remote.PathProfile:
			_ = json.NewEncoder(w).Encode(map[string]any{"code": 200, "message": "ok"})
		case remote.PathConfirmReferral:
			var req struct {
				ReferralCode string `json:"referral_code"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			if r.Header.Get("Authorization") == "Bearer T" && req.ReferralCode == "ABC123" {
				_ = json.NewEncoder(w).Encode(map[string]any{
					"code": 200, "message": "ok",
					"data": map[string]any{"token": "T2", "user_id": "U1"},
				})
				return
			}
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"code": 400, "error": "invalid code"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	slot       *handoff.Slot
	pipe       *pipeline.Pipeline
	dispatcher *dispatch.Dispatcher
	recorder   *notify.Recorder
	stats      *metrics.Metrics
	store      *results.FileStore

	mailboxes  atomic.Int32
	registered atomic.Int32
}

func newHarness(t *testing.T, maxTasks int) *harness {
	t.Helper()
	h := &harness{
		slot:     handoff.NewSlot(),
		recorder: &notify.Recorder{},
		stats:    metrics.New(),
	}

	bus := event.NewBus()
	h.stats.Attach(bus)

	var err error
	h.store, err = results.NewFileStore(t.TempDir(), map[results.Stream]string{
		results.StreamAccounts: "accounts_ref.txt",
		results.StreamTokens:   "tokens_ref.txt",
	})
	require.NoError(t, err)

	service, err := remote.NewClient(fakeService(t, &h.registered).URL)
	require.NoError(t, err)
	mailbox := mailtm.NewClient(mailtm.WithBaseURL(fakeMailTM(t, &h.mailboxes).URL))

	notifier := notify.New(nil, h.recorder)

	prov, err := provision.New(provision.Config{
		Mailbox: mailbox,
		Service: service,
		Retry:   retry.Policy{Sleep: retry.NoSleep},
	}, provision.WithBus(bus))
	require.NoError(t, err)

	resolver, err := referral.New(referral.Config{
		Slot:      h.slot,
		Confirmer: service,
		Accounts:  prov,
		Store:     h.store,
		Notifier:  notifier,
	}, referral.WithBus(bus))
	require.NoError(t, err)

	h.pipe, err = pipeline.NewPipeline(pipeline.PipelineConfig{
		Provisioner: prov,
		Resolver:    resolver,
	}, pipeline.WithBus(bus), pipeline.WithMaxTasks(maxTasks))
	require.NoError(t, err)

	h.dispatcher, err = dispatch.New(dispatch.Config{
		ChatID:   operatorChat,
		Slot:     h.slot,
		Tokens:   h.pipe,
		Notifier: notifier,
	}, dispatch.WithBus(bus))
	require.NoError(t, err)

	return h
}

func (h *harness) send(chatID, text string) {
	h.dispatcher.Handle(context.Background(), inbox.Message{
		ChatID: chatID,
		Text:   text,
		Source: inbox.SourceTelegram,
	})
}

func (h *harness) waitArmed(t *testing.T) {
	t.Helper()
	require.Eventually(t, h.slot.Armed, 5*time.Second, 2*time.Millisecond, "task never armed the slot")
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	lines, err := results.ReadLines(path)
	require.NoError(t, err)
	return lines
}

func TestPipelineIntegration_TelegramFlow(t *testing.T) {
	h := newHarness(t, 2)

	// Nothing is waiting yet
	h.send(operatorChat, "EARLY")
	require.Equal(t, []string{dispatch.MsgNotWaiting}, h.recorder.Messages())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		runErr error
		wg     sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		runErr = h.pipe.Run(ctx)
	}()

	h.waitArmed(t)
	assert.Equal(t, "T", h.pipe.CurrentToken())

	// Another chat is ignored without reply and without consuming the wait
	h.send("-42", "ABC123")
	assert.True(t, h.slot.Armed())

	// A bad code re-arms the same task
	h.send(operatorChat, "WRONG")
	h.waitArmed(t)
	assert.Equal(t, 1, h.pipe.Index())
	assert.Empty(t, readLines(t, h.store.Path(results.StreamAccounts)))

	// Surrounding whitespace is trimmed before confirmation
	h.send(operatorChat, "  ABC123\n")
	require.Eventually(t, func() bool { return h.pipe.Index() == 2 }, 5*time.Second, 2*time.Millisecond)

	h.waitArmed(t)
	h.send(operatorChat, "ABC123")

	wg.Wait()
	require.NoError(t, runErr)

	// Results: one line per accepted task in each stream
	accounts := readLines(t, h.store.Path(results.StreamAccounts))
	require.Len(t, accounts, 2)
	for _, line := range accounts {
		email, password, ok := strings.Cut(line, "|")
		assert.True(t, ok)
		assert.True(t, strings.HasSuffix(email, "@mail.test"), email)
		assert.Len(t, password, 8)
	}
	assert.NotEqual(t, accounts[0], accounts[1])
	assert.Equal(t, []string{"T2", "T2"}, readLines(t, h.store.Path(results.StreamTokens)))

	// The account created after task 1 seeds task 2; another is created after task 2
	assert.Equal(t, int32(3), h.mailboxes.Load())
	assert.Equal(t, int32(2), h.registered.Load())
	assert.Empty(t, h.pipe.CurrentToken())

	msgs := h.recorder.Messages()
	assert.Contains(t, msgs, "❌ Failed to use referral code: invalid code\n🔄 Please send another code...")
	assert.Contains(t, msgs, "🔄 Attempting to use referral code: ABC123")
	assert.Contains(t, msgs, "✅ Successfully used referral code!\nEmail: "+strings.Split(accounts[0], "|")[0]+
		"\nPassword: "+strings.Split(accounts[0], "|")[1]+"\nMessage: ok")
	assert.Contains(t, msgs, "🔄 Created new account for next task: "+accounts[1])
	for _, m := range msgs {
		assert.NotContains(t, m, "-42")
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(h.stats.TasksCompleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.stats.CodesRejected))
	assert.Equal(t, 3.0, testutil.ToFloat64(h.stats.CodesReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.stats.CodesDropped.WithLabelValues(event.DropForeignChat)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.stats.CodesDropped.WithLabelValues(event.DropNotWaiting)))
}

func TestPipelineIntegration_CancelWhileWaiting(t *testing.T) {
	h := newHarness(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.pipe.Run(ctx) }()

	h.waitArmed(t)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop after cancel")
	}
	assert.False(t, h.slot.Armed())

	// A late code is dropped with the not-waiting reply
	before := len(h.recorder.Messages())
	h.send(operatorChat, "ABC123")
	assert.Equal(t, []string{dispatch.MsgNotWaiting}, h.recorder.Messages()[before:])
}

func TestPipelineIntegration_FileInbox(t *testing.T) {
	h := newHarness(t, 1)
	path := filepath.Join(t.TempDir(), "codes.txt")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	src := inbox.NewFileSource(path, operatorChat, nil)
	listenDone := make(chan error, 1)
	go func() { listenDone <- src.Listen(ctx, h.dispatcher.Handle) }()

	runDone := make(chan error, 1)
	go func() { runDone <- h.pipe.Run(ctx) }()

	h.waitArmed(t)
	// Give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("ABC123\n"), 0o644))

	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(20 * time.Second):
		t.Fatal("pipeline did not complete from the file inbox")
	}
	cancel()
	assert.NoError(t, <-listenDone)

	assert.Equal(t, []string{"T2"}, readLines(t, h.store.Path(results.StreamTokens)))
}
