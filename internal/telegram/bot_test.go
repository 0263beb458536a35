package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Iron-Ham/autoref/internal/errors"
	"github.com/Iron-Ham/autoref/internal/inbox"
	"github.com/Iron-Ham/autoref/internal/logging"
	"github.com/Iron-Ham/autoref/internal/retry"
)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	sendErr  error
	updates  chan tgbotapi.Update
	stopped  bool
	pollConf tgbotapi.UpdateConfig

	// block, when set, stalls every Send until it is closed.
	block chan struct{}
	// panicWith, when set, makes Send panic with this value.
	panicWith any
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{updates: make(chan tgbotapi.Update, 8)}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.block != nil {
		<-f.block
	}
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollConf = config
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeAPI) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		out = append(out, m.Text)
	}
	return out
}

func dialerFor(api API, failures int) (Dialer, *int) {
	calls := 0
	return func(token, endpoint string) (API, string, error) {
		calls++
		if calls <= failures {
			return nil, "", errors.New("unauthorized")
		}
		return api, "autoref_bot", nil
	}, &calls
}

func TestConnect_RetriesThenAnnounces(t *testing.T) {
	api := newFakeAPI()
	dial, calls := dialerFor(api, 2)

	var sleeps []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	bot, err := Connect(context.Background(), Config{Token: "123:abc", ChatID: "1001"},
		WithDialer(dial), WithSleep(sleep))
	require.NoError(t, err)

	assert.Equal(t, 3, *calls)
	assert.Equal(t, []time.Duration{DefaultInitDelay, DefaultInitDelay}, sleeps)
	assert.Equal(t, "autoref_bot", bot.Username())
	assert.Equal(t, "1001", bot.ChatID())
	assert.Equal(t, []string{MsgOnline}, api.sentTexts())
	assert.Equal(t, int64(1001), api.sent[0].ChatID)
}

func TestConnect_Exhausted(t *testing.T) {
	dial, calls := dialerFor(newFakeAPI(), 10)

	_, err := Connect(context.Background(), Config{Token: "x", ChatID: "1"},
		WithDialer(dial), WithSleep(retry.NoSleep))

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrBotUnavailable))
	assert.Equal(t, DefaultInitAttempts, *calls)
}

func TestConnect_ConfigErrors(t *testing.T) {
	dial, calls := dialerFor(newFakeAPI(), 0)

	_, err := Connect(context.Background(), Config{ChatID: "1"}, WithDialer(dial))
	assert.True(t, apperrors.Is(err, apperrors.ErrMissingConfig))

	_, err = Connect(context.Background(), Config{Token: "x", ChatID: "@channel"}, WithDialer(dial))
	assert.ErrorContains(t, err, "invalid chat ID")

	assert.Equal(t, 0, *calls)
}

func TestConnect_OnlineMessageFailureIsNotFatal(t *testing.T) {
	api := newFakeAPI()
	api.sendErr = errors.New("chat not found")
	dial, _ := dialerFor(api, 0)

	_, err := Connect(context.Background(), Config{Token: "x", ChatID: "1"}, WithDialer(dial))
	assert.NoError(t, err)
}

func TestSend_Error(t *testing.T) {
	api := newFakeAPI()
	bot := &Bot{api: api, chatID: 5}
	api.sendErr = errors.New("flood wait")

	err := bot.Send(context.Background(), "hi")
	var remoteErr *apperrors.RemoteError
	require.True(t, apperrors.As(err, &remoteErr))
	assert.Equal(t, opSendMessage, remoteErr.Op)
}

func TestSend_ReturnsWhenContextDone(t *testing.T) {
	api := newFakeAPI()
	api.block = make(chan struct{})
	defer close(api.block)
	bot := &Bot{api: api, chatID: 5}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Send(ctx, "hi") }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Send did not return after cancel")
	}
}

func TestSend_PanicReachesCaller(t *testing.T) {
	api := newFakeAPI()
	api.panicWith = "boom"
	bot := &Bot{api: api, chatID: 5}

	assert.PanicsWithValue(t, "boom", func() {
		_ = bot.Send(context.Background(), "hi")
	})
}

func TestInstallLogger(t *testing.T) {
	assert.NoError(t, InstallLogger(logging.NopLogger()))
}

func TestListen(t *testing.T) {
	api := newFakeAPI()
	dial, _ := dialerFor(api, 0)
	bot, err := Connect(context.Background(), Config{Token: "x", ChatID: "1001", PollTimeout: 30}, WithDialer(dial))
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		msgs []inbox.Message
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- bot.Listen(ctx, func(_ context.Context, m inbox.Message) {
			mu.Lock()
			msgs = append(msgs, m)
			mu.Unlock()
		})
	}()

	api.updates <- tgbotapi.Update{}
	api.updates <- tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1001}, Text: ""}}
	api.updates <- tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1001}, Text: "ABC123"}}
	api.updates <- tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: -42}, Text: "spam"}}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(msgs) == 2
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	api.mu.Lock()
	assert.True(t, api.stopped)
	assert.Equal(t, 30, api.pollConf.Timeout)
	api.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, inbox.Message{ChatID: "1001", Text: "ABC123", Source: inbox.SourceTelegram}, msgs[0])
	assert.Equal(t, "-42", msgs[1].ChatID, "chat filtering is the dispatcher's job")
}
