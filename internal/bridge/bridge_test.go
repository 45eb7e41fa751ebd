package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	berrors "github.com/p-blackswan/handoff-bridge/internal/errors"
	"github.com/p-blackswan/handoff-bridge/internal/livechat"
	"github.com/p-blackswan/handoff-bridge/internal/messages"
	"github.com/p-blackswan/handoff-bridge/internal/metrics"
	"github.com/p-blackswan/handoff-bridge/internal/session"
)

type pollResult struct {
	events []livechat.Event
	err    error
}

// fakeChat scripts the live-chat backend. Poll batches are consumed in
// order; once exhausted, polls block until the context is cancelled.
type fakeChat struct {
	mu        sync.Mutex
	session   livechat.Session
	initErr   error
	initCalls int
	sent      []string
	endCalls  int
	batches   chan pollResult
	pollCalls int
}

func newFakeChat(batches ...pollResult) *fakeChat {
	ch := make(chan pollResult, len(batches))
	for _, b := range batches {
		ch <- b
	}
	return &fakeChat{
		session: livechat.Session{Key: "K1", ID: "S1", AffinityToken: "A1", ClientPollTimeout: 40},
		batches: ch,
	}
}

func (f *fakeChat) CreateSession(ctx context.Context) (*livechat.Session, error) {
	s := f.session
	return &s, nil
}

func (f *fakeChat) InitChat(ctx context.Context, s *livechat.Session, v livechat.Visitor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	return f.initErr
}

func (f *fakeChat) SendMessage(ctx context.Context, sessionKey, affinityToken, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeChat) PendingMessages(ctx context.Context, sessionKey, affinityToken string) ([]livechat.Event, error) {
	f.mu.Lock()
	f.pollCalls++
	f.mu.Unlock()
	select {
	case r := <-f.batches:
		return r.events, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeChat) EndChat(ctx context.Context, sessionKey, affinityToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endCalls++
	return nil
}

func (f *fakeChat) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeChat) polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollCalls
}

func (f *fakeChat) ends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endCalls
}

// fakeMessenger records everything sent toward the bot platform.
type fakeMessenger struct {
	mu      sync.Mutex
	toUser  []string
	toBot   []string
	clears  int
	history []HistoryMessage
}

func (f *fakeMessenger) SendToVisitor(ctx context.Context, visitorID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toUser = append(f.toUser, text)
	return nil
}

func (f *fakeMessenger) SendBotPrompt(ctx context.Context, visitorID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toBot = append(f.toBot, text)
	return nil
}

func (f *fakeMessenger) ClearAgentSession(ctx context.Context, visitorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

func (f *fakeMessenger) History(ctx context.Context, visitorID string, limit, offset int) ([]HistoryMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history, nil
}

func (f *fakeMessenger) userMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.toUser...)
}

func (f *fakeMessenger) botPrompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.toBot...)
}

func (f *fakeMessenger) clearCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}

func testSettings() Settings {
	return Settings{
		SessionTTL:     time.Hour,
		PollInterval:   time.Millisecond,
		ForwardStagger: time.Millisecond,
		TranscriptWait: time.Millisecond,
		IdleTimeout:    time.Minute,
		HistoryLimit:   10,
	}
}

func newTestBridge(t *testing.T, chat ChatAPI, bot Messenger) (*Bridge, session.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := session.NewRedisStoreFromClient(client, zerolog.Nop())

	b := New(testSettings(), chat, store, bot, messages.Defaults(), metrics.New(), zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = b.Shutdown(ctx)
	})
	return b, store
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestHandleHandoff_StartsPollingAndSendsTranscript(t *testing.T) {
	chat := newFakeChat(pollResult{events: []livechat.Event{
		{Type: livechat.EventChatRequestSuccess, Message: livechat.EventMessage{ConnectionTimeout: 300000}},
		{Type: livechat.EventChatEstablished, Message: livechat.EventMessage{
			IdleTimeout: livechat.IdleTimeout{Enabled: true, Timeout: 300000},
		}},
	}})
	bot := &fakeMessenger{history: []HistoryMessage{{Author: "visitor", Text: "I need help"}}}
	b, store := newTestBridge(t, chat, bot)

	err := b.HandleHandoff(context.Background(), HandoffRequest{
		VisitorID: "v1",
		Visitor: livechat.Visitor{
			Name: "Jane Doe", CaseID: "500case", CaseNumber: "00012345", ContactID: "003xx",
		},
	})
	require.NoError(t, err)

	entry, err := store.GetEntry(context.Background(), "v1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "K1", entry.SessionKey)
	assert.Equal(t, "A1", entry.AffinityToken)

	// The visitor hears about the agent, and the agent gets the transcript.
	assert.Eventually(t, func() bool {
		return contains(bot.userMessages(), messages.Defaults().AgentAssigned)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		for _, m := range chat.sentMessages() {
			if len(m) > 0 {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	sent := chat.sentMessages()
	require.NotEmpty(t, sent)
	assert.Contains(t, sent[0], "Case Number: 00012345")
	assert.Contains(t, sent[0], "visitor: I need help")
	assert.Equal(t, 1, b.ActiveSessions())
}

func TestHandleHandoff_DuplicateIsNoop(t *testing.T) {
	chat := newFakeChat()
	bot := &fakeMessenger{}
	b, store := newTestBridge(t, chat, bot)

	require.NoError(t, store.PutEntry(context.Background(), session.Entry{
		VisitorID: "v1", SessionKey: "K0", AffinityToken: "A0",
	}))

	err := b.HandleHandoff(context.Background(), HandoffRequest{VisitorID: "v1"})
	require.NoError(t, err)

	chat.mu.Lock()
	defer chat.mu.Unlock()
	assert.Zero(t, chat.initCalls, "duplicate handoff must not open a second chat")
}

func TestHandleHandoff_EmptyVisitorID(t *testing.T) {
	b, _ := newTestBridge(t, newFakeChat(), &fakeMessenger{})

	err := b.HandleHandoff(context.Background(), HandoffRequest{})
	assert.ErrorIs(t, err, berrors.ErrInvalidInput)
}

func TestHandleHandoff_InitFailureReturnsVisitorToBot(t *testing.T) {
	chat := newFakeChat()
	chat.initErr = berrors.NewAPIError("livechat", 503, "POST /Chasitor/ChasitorInit")
	bot := &fakeMessenger{}
	b, store := newTestBridge(t, chat, bot)

	err := b.HandleHandoff(context.Background(), HandoffRequest{VisitorID: "v1"})
	require.Error(t, err)

	entry, gerr := store.GetEntry(context.Background(), "v1")
	require.NoError(t, gerr)
	assert.Nil(t, entry, "no session record persisted")
	assert.Equal(t, 0, b.ActiveSessions())

	bot.mu.Lock()
	defer bot.mu.Unlock()
	require.Len(t, bot.toUser, 1)
	assert.Contains(t, bot.toUser[0], "no agents are available")
	assert.Equal(t, 1, bot.clears, "agent session cleared so the bot resumes")
}

func TestVisitorMessage_ForwardedToAgent(t *testing.T) {
	chat := newFakeChat()
	bot := &fakeMessenger{}
	b, store := newTestBridge(t, chat, bot)

	require.NoError(t, store.PutEntry(context.Background(), session.Entry{
		VisitorID: "v1", SessionKey: "K1", AffinityToken: "A1",
	}))

	disp, _, err := b.HandleVisitorMessage(context.Background(), "v1", "hello")
	require.NoError(t, err)
	assert.Equal(t, DispositionForwarded, disp)
	assert.Equal(t, []string{"hello"}, chat.sentMessages())
	assert.True(t, b.timeouts.Armed("v1"), "visitor activity must rearm the idle timer")
}

func TestVisitorMessage_QuitEndsChat(t *testing.T) {
	chat := newFakeChat()
	bot := &fakeMessenger{}
	b, store := newTestBridge(t, chat, bot)

	require.NoError(t, store.PutEntry(context.Background(), session.Entry{
		VisitorID: "v1", SessionKey: "K1", AffinityToken: "A1",
	}))

	disp, _, err := b.HandleVisitorMessage(context.Background(), "v1", "Quit")
	require.NoError(t, err)
	assert.Equal(t, DispositionClosed, disp)
	assert.Equal(t, 1, chat.ends())

	entry, err := store.GetEntry(context.Background(), "v1")
	require.NoError(t, err)
	assert.Nil(t, entry, "session records must be gone after close")
	assert.GreaterOrEqual(t, bot.clearCount(), 1)
	assert.True(t, contains(bot.userMessages(), messages.Defaults().SessionClosed))
}

func TestVisitorMessage_SessionClosedMarker(t *testing.T) {
	chat := newFakeChat()
	bot := &fakeMessenger{}
	b, store := newTestBridge(t, chat, bot)

	require.NoError(t, store.PutEntry(context.Background(), session.Entry{
		VisitorID: "v1", SessionKey: "K1", AffinityToken: "A1",
	}))

	disp, _, err := b.HandleVisitorMessage(context.Background(), "v1", "#session_closed")
	require.NoError(t, err)
	assert.Equal(t, DispositionClosed, disp)
	assert.Equal(t, 1, chat.ends())
}

func TestVisitorMessage_NoChatGoesToBot(t *testing.T) {
	b, _ := newTestBridge(t, newFakeChat(), &fakeMessenger{})

	disp, text, err := b.HandleVisitorMessage(context.Background(), "v1", "what are your hours?")
	require.NoError(t, err)
	assert.Equal(t, DispositionBot, disp)
	assert.Equal(t, "what are your hours?", text)
}

func TestVisitorMessage_StarRunsRewritten(t *testing.T) {
	b, _ := newTestBridge(t, newFakeChat(), &fakeMessenger{})

	for in, want := range map[string]string{
		"*":      "1",
		"***":    "3",
		"*****":  "5",
		"******": "******", // six stars pass through
		"*a*":    "*a*",
	} {
		_, text, err := b.HandleVisitorMessage(context.Background(), "v1", in)
		require.NoError(t, err)
		assert.Equal(t, want, text, "input %q", in)
	}
}

func TestBotMessage_SuppressedDuringAgentChat(t *testing.T) {
	bot := &fakeMessenger{}
	b, store := newTestBridge(t, newFakeChat(), bot)

	require.NoError(t, store.PutEntry(context.Background(), session.Entry{
		VisitorID: "v1", SessionKey: "K1", AffinityToken: "A1",
	}))

	suppressed, err := b.HandleBotMessage(context.Background(), "v1", "bot says hi")
	require.NoError(t, err)
	assert.True(t, suppressed)
	assert.Empty(t, bot.userMessages())
}

func TestBotMessage_DeliveredWithoutAgentChat(t *testing.T) {
	bot := &fakeMessenger{}
	b, _ := newTestBridge(t, newFakeChat(), bot)

	suppressed, err := b.HandleBotMessage(context.Background(), "v1", "bot says hi")
	require.NoError(t, err)
	assert.False(t, suppressed)
	assert.Equal(t, []string{"bot says hi"}, bot.userMessages())
}

func TestResume_RestartsPersistedSessions(t *testing.T) {
	chat := newFakeChat()
	bot := &fakeMessenger{}
	b, store := newTestBridge(t, chat, bot)

	ctx := context.Background()
	require.NoError(t, store.PutEntry(ctx, session.Entry{VisitorID: "v1", SessionKey: "K1", AffinityToken: "A1"}))
	require.NoError(t, store.PutEntry(ctx, session.Entry{VisitorID: "v2", SessionKey: "K2", AffinityToken: "A2"}))

	require.NoError(t, b.Resume(ctx))
	assert.Eventually(t, func() bool { return b.ActiveSessions() == 2 }, 2*time.Second, 5*time.Millisecond)

	// A second resume must not double up the loops.
	require.NoError(t, b.Resume(ctx))
	assert.Equal(t, 2, b.ActiveSessions())
}

func TestShutdown_StopsPollers(t *testing.T) {
	chat := newFakeChat()
	b, store := newTestBridge(t, chat, &fakeMessenger{})

	ctx := context.Background()
	require.NoError(t, store.PutEntry(ctx, session.Entry{VisitorID: "v1", SessionKey: "K1", AffinityToken: "A1"}))
	require.NoError(t, b.Resume(ctx))
	assert.Eventually(t, func() bool { return b.ActiveSessions() == 1 }, 2*time.Second, 5*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, b.Shutdown(shutdownCtx))
	assert.Zero(t, b.ActiveSessions())
}
