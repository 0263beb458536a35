package referral

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/autoref/internal/event"
	"github.com/Iron-Ham/autoref/internal/handoff"
	"github.com/Iron-Ham/autoref/internal/notify"
	"github.com/Iron-Ham/autoref/internal/remote"
	"github.com/Iron-Ham/autoref/internal/results"
	"github.com/Iron-Ham/autoref/internal/task"
)

// scriptedService answers confirmations from a code -> response table.
type scriptedService struct {
	mu        sync.Mutex
	responses map[string]*remote.ConfirmResponse
	calls     []string
}

func (s *scriptedService) ConfirmReferral(_ context.Context, token, code string) (*remote.ConfirmResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, token+"/"+code)
	if r, ok := s.responses[code]; ok {
		return r, nil
	}
	return nil, errors.New("unexpected code")
}

type accountsFunc func(ctx context.Context) (*task.Account, error)

func (f accountsFunc) NewAccount(ctx context.Context) (*task.Account, error) { return f(ctx) }

// failingStore rejects every write.
type failingStore struct{ results.Store }

func (failingStore) Append(context.Context, results.Stream, string) error {
	return errors.New("disk full")
}

type harness struct {
	slot     *handoff.Slot
	service  *scriptedService
	store    *results.FileStore
	recorder *notify.Recorder
	events   []event.Event
	eventsMu sync.Mutex
	resolver *Resolver
}

func accepted(token, userID string) *remote.ConfirmResponse {
	r := &remote.ConfirmResponse{Code: 200, Message: "Referral applied"}
	r.Data.Token = token
	r.Data.UserID = remote.FlexString(userID)
	return r
}

func newHarness(t *testing.T, store results.Store) *harness {
	t.Helper()

	fs, err := results.NewFileStore(t.TempDir(), map[results.Stream]string{
		results.StreamAccounts: "accounts_ref.txt",
		results.StreamTokens:   "tokens_ref.txt",
	})
	require.NoError(t, err)

	h := &harness{
		slot:     handoff.NewSlot(),
		store:    fs,
		recorder: &notify.Recorder{},
		service: &scriptedService{responses: map[string]*remote.ConfirmResponse{
			"ABC123": accepted("T2", "U1"),
			"WRONG":  {Code: 400, Error: "invalid code"},
			"NOTOK":  {Code: 200, Message: "ok"},
		}},
	}
	if store == nil {
		store = fs
	}

	bus := event.NewBus()
	bus.SubscribeAll(func(e event.Event) {
		h.eventsMu.Lock()
		h.events = append(h.events, e)
		h.eventsMu.Unlock()
	})

	r, err := New(Config{
		Slot:      h.slot,
		Confirmer: h.service,
		Accounts: accountsFunc(func(context.Context) (*task.Account, error) {
			return &task.Account{Address: "next@mail.tm", Password: "nextpw"}, nil
		}),
		Store:    store,
		Notifier: notify.New(nil, h.recorder),
	}, WithBus(bus))
	require.NoError(t, err)
	h.resolver = r
	return h
}

func readyTask(t *testing.T) *task.Task {
	t.Helper()
	tk := task.New(1, &task.Account{Address: "a@mail.tm", Password: "pw"})
	_, err := tk.Transition(task.StateProfileSetup)
	require.NoError(t, err)
	tk.Token = "T"
	return tk
}

// deliver waits for the slot to be armed and hands it code.
func (h *harness) deliver(t *testing.T, code string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !h.slot.Armed() {
		if time.Now().After(deadline) {
			t.Fatal("slot was never armed")
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, h.slot.Deliver(code))
}

type resolveResult struct {
	res *Result
	err error
}

func (h *harness) start(ctx context.Context, tk *task.Task) <-chan resolveResult {
	done := make(chan resolveResult, 1)
	go func() {
		res, err := h.resolver.ResolveOne(ctx, tk)
		done <- resolveResult{res, err}
	}()
	return done
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestResolveOne_Accepted(t *testing.T) {
	h := newHarness(t, nil)
	tk := readyTask(t)

	done := h.start(context.Background(), tk)
	h.deliver(t, "ABC123")
	got := <-done

	require.NoError(t, got.err)
	assert.Equal(t, Outcome{Success: true, ConfirmedToken: "T2", UserID: "U1", Message: "Referral applied"}, got.res.Outcome)
	assert.Equal(t, &task.Account{Address: "next@mail.tm", Password: "nextpw"}, got.res.NextAccount)
	assert.Equal(t, task.StateAdvance, tk.State())

	accounts, err := h.store.Records(context.Background(), results.StreamAccounts)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@mail.tm|pw"}, accounts)
	tokens, err := h.store.Records(context.Background(), results.StreamTokens)
	require.NoError(t, err)
	assert.Equal(t, []string{"T2"}, tokens)

	assert.Equal(t, []string{
		MsgReady,
		"🔄 Attempting to use referral code: ABC123",
		"✅ Successfully used referral code!\nEmail: a@mail.tm\nPassword: pw\nMessage: Referral applied",
		"🔄 Created new account for next task: next@mail.tm|nextpw",
	}, h.recorder.Messages())
	assert.Equal(t, []string{"T/ABC123"}, h.service.calls)
}

func TestResolveOne_RejectedThenAccepted(t *testing.T) {
	h := newHarness(t, nil)
	tk := readyTask(t)

	done := h.start(context.Background(), tk)
	h.deliver(t, "WRONG")
	h.deliver(t, "NOTOK")
	h.deliver(t, "ABC123")
	got := <-done

	require.NoError(t, got.err)
	assert.True(t, got.res.Outcome.Success)
	assert.Equal(t, 1, tk.Index, "index is owned by the pipeline")

	msgs := h.recorder.Messages()
	require.Len(t, msgs, 10)
	assert.Equal(t, "❌ Failed to use referral code: invalid code\n🔄 Please send another code...", msgs[2])
	assert.Equal(t, MsgReady, msgs[3], "slot is re-armed after a rejection")
	assert.Equal(t, "❌ Failed to use referral code: ok\n🔄 Please send another code...", msgs[5])

	tokens, err := h.store.Records(context.Background(), results.StreamTokens)
	require.NoError(t, err)
	assert.Equal(t, []string{"T2"}, tokens, "rejections write nothing")

	var rejected []string
	h.eventsMu.Lock()
	for _, e := range h.events {
		if r, ok := e.(event.CodeRejectedEvent); ok {
			rejected = append(rejected, r.Code+":"+r.Reason)
		}
	}
	h.eventsMu.Unlock()
	assert.Equal(t, []string{"WRONG:invalid code", "NOTOK:ok"}, rejected)
}

func TestResolveOne_RejectedLeavesNoRecords(t *testing.T) {
	h := newHarness(t, nil)
	tk := readyTask(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := h.start(ctx, tk)
	h.deliver(t, "WRONG")

	// Wait for the re-arm, then stop.
	deadline := time.Now().Add(5 * time.Second)
	for len(h.recorder.Messages()) < 4 {
		if time.Now().After(deadline) {
			t.Fatal("resolver did not re-arm")
		}
		time.Sleep(time.Millisecond)
	}
	assert.True(t, h.slot.Armed())
	assert.Equal(t, task.StateAwaitingCode, tk.State())
	cancel()

	got := <-done
	assert.ErrorIs(t, got.err, context.Canceled)
	assert.False(t, h.slot.Armed(), "cancellation disarms the slot")

	accounts, err := h.store.Records(context.Background(), results.StreamAccounts)
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestResolveOne_PersistFailureStillAdvances(t *testing.T) {
	h := newHarness(t, failingStore{})
	tk := readyTask(t)

	done := h.start(context.Background(), tk)
	h.deliver(t, "ABC123")
	got := <-done

	require.NoError(t, got.err)
	assert.True(t, got.res.Outcome.Success)
	assert.NotNil(t, got.res.NextAccount)
}

func TestResolveOne_NextAccountCancelled(t *testing.T) {
	h := newHarness(t, nil)
	h.resolver.accounts = accountsFunc(func(ctx context.Context) (*task.Account, error) {
		return nil, context.Canceled
	})
	tk := readyTask(t)

	done := h.start(context.Background(), tk)
	h.deliver(t, "ABC123")
	got := <-done

	assert.ErrorIs(t, got.err, context.Canceled)
	assert.Nil(t, got.res)
}

func TestResolveOne_InvalidState(t *testing.T) {
	h := newHarness(t, nil)
	tk := task.New(1, nil)

	_, err := h.resolver.ResolveOne(context.Background(), tk)
	assert.Error(t, err)
	assert.False(t, h.slot.Armed())
}
