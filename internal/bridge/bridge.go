// Package bridge connects the conversational bot to the live-chat backend:
// it opens agent chats for handed-off visitors, relays messages both ways,
// and tears the session down from whichever side ends it first.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	berrors "github.com/p-blackswan/handoff-bridge/internal/errors"
	"github.com/p-blackswan/handoff-bridge/internal/livechat"
	"github.com/p-blackswan/handoff-bridge/internal/messages"
	"github.com/p-blackswan/handoff-bridge/internal/metrics"
	"github.com/p-blackswan/handoff-bridge/internal/session"
)

// ChatAPI is the live-chat backend surface the bridge needs.
type ChatAPI interface {
	CreateSession(ctx context.Context) (*livechat.Session, error)
	InitChat(ctx context.Context, s *livechat.Session, v livechat.Visitor) error
	SendMessage(ctx context.Context, sessionKey, affinityToken, text string) error
	PendingMessages(ctx context.Context, sessionKey, affinityToken string) ([]livechat.Event, error)
	EndChat(ctx context.Context, sessionKey, affinityToken string) error
}

// Settings are the bridge timings.
type Settings struct {
	// SessionTTL is applied to every persisted record after each write.
	SessionTTL time.Duration

	// PollInterval is the minimum time between the start of one poll cycle
	// and the start of the next for a single session.
	PollInterval time.Duration

	// ForwardStagger spaces out agent messages from one poll batch so the
	// visitor receives them in order, one per stagger step.
	ForwardStagger time.Duration

	// TranscriptWait is how long to wait after connecting before sending the
	// conversation transcript to the agent. The backend drops messages sent
	// too soon after chat initiation.
	TranscriptWait time.Duration

	// IdleTimeout is the fallback timer armed on visitor activity when the
	// backend has not communicated one yet.
	IdleTimeout time.Duration

	// HistoryLimit caps how many conversation turns go into the transcript.
	HistoryLimit int
}

func (s *Settings) withDefaults() {
	if s.SessionTTL == 0 {
		s.SessionTTL = 24 * time.Hour
	}
	if s.PollInterval == 0 {
		s.PollInterval = time.Second
	}
	if s.ForwardStagger == 0 {
		s.ForwardStagger = time.Second
	}
	if s.TranscriptWait == 0 {
		s.TranscriptWait = 3 * time.Second
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = 10 * time.Minute
	}
	if s.HistoryLimit == 0 {
		s.HistoryLimit = 40
	}
}

// HandoffRequest asks the bridge to move a visitor from the bot to an agent.
type HandoffRequest struct {
	VisitorID string
	Visitor   livechat.Visitor
	// Snapshot is the bot conversation state at the moment of handoff,
	// persisted for operators and kept opaque by the bridge.
	Snapshot json.RawMessage
}

// VisitorDisposition says what the bridge did with a visitor message.
type VisitorDisposition int

const (
	// DispositionBot: no agent chat is active, the text belongs to the bot.
	DispositionBot VisitorDisposition = iota
	// DispositionForwarded: the text was delivered to the live agent.
	DispositionForwarded
	// DispositionClosed: the text was a close command and the chat ended.
	DispositionClosed
)

// Bridge orchestrates the visitor-agent handoff lifecycle.
type Bridge struct {
	cfg   Settings
	chat  ChatAPI
	store session.Store
	bot   Messenger
	msgs  messages.Catalog
	mets  *metrics.Metrics

	timeouts *session.TimeoutManager

	// mu guards pollers; the registry is the single writer deciding whether
	// a visitor already has a running poll loop.
	mu      sync.Mutex
	pollers map[string]context.CancelFunc
	wg      sync.WaitGroup

	logger zerolog.Logger
}

// New creates a bridge. The timeout manager is owned by the bridge: its
// expiry callback ends the chat from the visitor side.
func New(cfg Settings, chat ChatAPI, store session.Store, bot Messenger, msgs messages.Catalog, mets *metrics.Metrics, logger zerolog.Logger) *Bridge {
	cfg.withDefaults()
	b := &Bridge{
		cfg:     cfg,
		chat:    chat,
		store:   store,
		bot:     bot,
		msgs:    msgs,
		mets:    mets,
		pollers: make(map[string]context.CancelFunc),
		logger:  logger.With().Str("component", "bridge").Logger(),
	}
	b.timeouts = session.NewTimeoutManager(b.onIdleExpired, logger)
	return b
}

// HandleHandoff opens an agent chat for the visitor. A second handoff for a
// visitor whose chat is already live is a no-op.
func (b *Bridge) HandleHandoff(ctx context.Context, req HandoffRequest) error {
	if req.VisitorID == "" {
		return fmt.Errorf("%w: empty visitor id", berrors.ErrInvalidInput)
	}

	if b.pollerRunning(req.VisitorID) {
		b.logger.Info().Str("visitor_id", req.VisitorID).Msg("handoff ignored, chat already live")
		b.mets.RecordHandoff("duplicate")
		return nil
	}
	if entry, err := b.store.GetEntry(ctx, req.VisitorID); err != nil {
		return err
	} else if entry != nil {
		b.logger.Info().Str("visitor_id", req.VisitorID).Msg("handoff ignored, session record exists")
		b.mets.RecordHandoff("duplicate")
		return nil
	}

	sess, err := b.chat.CreateSession(ctx)
	if err != nil {
		b.failHandoff(req.VisitorID)
		return fmt.Errorf("creating chat session: %w", err)
	}
	if err := b.chat.InitChat(ctx, sess, req.Visitor); err != nil {
		b.failHandoff(req.VisitorID)
		return fmt.Errorf("initiating chat: %w", err)
	}

	entry := session.Entry{
		VisitorID:     req.VisitorID,
		SessionKey:    sess.Key,
		AffinityToken: sess.AffinityToken,
		CreatedAt:     time.Now().UTC(),
	}
	if err := b.store.PutEntry(ctx, entry); err != nil {
		return fmt.Errorf("persisting session entry: %w", err)
	}
	if err := b.store.Expire(ctx, session.NamespaceEntry, req.VisitorID, b.cfg.SessionTTL); err != nil {
		b.logger.Warn().Err(err).Str("visitor_id", req.VisitorID).Msg("setting entry ttl")
	}
	if err := b.store.PutContext(ctx, session.Context{VisitorID: req.VisitorID, Snapshot: req.Snapshot}); err != nil {
		b.logger.Warn().Err(err).Str("visitor_id", req.VisitorID).Msg("persisting conversation snapshot")
	} else if err := b.store.Expire(ctx, session.NamespaceContext, req.VisitorID, b.cfg.SessionTTL); err != nil {
		b.logger.Warn().Err(err).Str("visitor_id", req.VisitorID).Msg("setting snapshot ttl")
	}

	b.startPoller(entry, req.Visitor)
	b.mets.RecordHandoff("started")
	b.logger.Info().
		Str("visitor_id", req.VisitorID).
		Str("session_key", sess.Key).
		Msg("handoff started")
	return nil
}

// HandleVisitorMessage routes text typed by the visitor. When an agent chat
// is live the text goes to the agent; a close command ends the chat; with no
// live chat the (possibly rewritten) text goes back to the bot.
func (b *Bridge) HandleVisitorMessage(ctx context.Context, visitorID, text string) (VisitorDisposition, string, error) {
	entry, err := b.store.GetEntry(ctx, visitorID)
	if err != nil {
		return DispositionBot, text, err
	}

	if text == "#session_closed" || strings.EqualFold(text, "quit") {
		if entry != nil {
			if err := b.chat.EndChat(ctx, entry.SessionKey, entry.AffinityToken); err != nil {
				b.logger.Warn().Err(err).Str("visitor_id", visitorID).Msg("ending chat on close command")
			}
		}
		b.teardown(visitorID, "visitor_closed", b.msgs.SessionClosed, false)
		return DispositionClosed, "", nil
	}

	if entry != nil {
		b.timeouts.Arm(visitorID, b.cfg.IdleTimeout)
		if err := b.chat.SendMessage(ctx, entry.SessionKey, entry.AffinityToken, text); err != nil {
			b.logger.Error().Err(err).Str("visitor_id", visitorID).Msg("forwarding visitor message")
			b.teardown(visitorID, "send_failed", b.msgs.SessionClosed, false)
			return DispositionClosed, "", err
		}
		b.mets.RecordMessage("to_agent")
		return DispositionForwarded, "", nil
	}

	// A bare run of asterisks breaks the bot platform's template rendering,
	// so it is replaced with its length.
	if n := len(text); n >= 1 && n <= 5 && strings.Count(text, "*") == n {
		text = fmt.Sprintf("%d", n)
	}
	if err := b.bot.ClearAgentSession(ctx, visitorID); err != nil {
		b.logger.Warn().Err(err).Str("visitor_id", visitorID).Msg("clearing stale agent session")
	}
	return DispositionBot, text, nil
}

// HandleBotMessage decides whether a bot-originated message may reach the
// visitor. While an agent chat is live the bot is muted.
func (b *Bridge) HandleBotMessage(ctx context.Context, visitorID, text string) (suppressed bool, err error) {
	if text == "" {
		return true, nil
	}
	entry, err := b.store.GetEntry(ctx, visitorID)
	if err != nil {
		return false, err
	}
	if entry != nil {
		b.logger.Debug().Str("visitor_id", visitorID).Msg("bot message suppressed during agent chat")
		return true, nil
	}
	if err := b.bot.SendToVisitor(ctx, visitorID, text); err != nil {
		return false, err
	}
	return false, nil
}

// Resume restarts polling for every session that survived a process restart.
func (b *Bridge) Resume(ctx context.Context) error {
	ids, err := b.store.ListEntryIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing persisted sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	b.logger.Info().Int("count", len(ids)).Msg("resuming persisted sessions")

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			entry, err := b.store.GetEntry(ctx, id)
			if err != nil {
				b.logger.Error().Err(err).Str("visitor_id", id).Msg("resume lookup failed")
				return nil
			}
			if entry == nil {
				return nil
			}
			b.startPoller(*entry, livechat.Visitor{})
			return nil
		})
	}
	return g.Wait()
}

// ActiveSessions reports how many poll loops are running.
func (b *Bridge) ActiveSessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pollers)
}

// Shutdown cancels all pollers and waits for them, bounded by ctx.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	for _, cancel := range b.pollers {
		cancel()
	}
	b.mu.Unlock()
	b.timeouts.Stop()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) pollerRunning(visitorID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pollers[visitorID]
	return ok
}

// startPoller registers and launches the poll loop for one session. The
// registry is checked and updated under one lock so a visitor never gets two
// concurrent loops.
func (b *Bridge) startPoller(entry session.Entry, v livechat.Visitor) {
	b.mu.Lock()
	if _, ok := b.pollers[entry.VisitorID]; ok {
		b.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.pollers[entry.VisitorID] = cancel
	b.mu.Unlock()

	b.mets.SessionsActive.Inc()
	p := &poller{b: b, entry: entry, visitor: v}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.removePoller(entry.VisitorID)
		p.run(ctx)
	}()
}

func (b *Bridge) removePoller(visitorID string) {
	b.mu.Lock()
	if cancel, ok := b.pollers[visitorID]; ok {
		cancel()
		delete(b.pollers, visitorID)
		b.mets.SessionsActive.Dec()
	}
	b.mu.Unlock()
}

// onIdleExpired runs when a visitor's idle timer fires: the chat is ended
// from the visitor side and torn down.
func (b *Bridge) onIdleExpired(visitorID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	b.logger.Info().Str("visitor_id", visitorID).Msg("visitor idle timeout expired")
	if entry, err := b.store.GetEntry(ctx, visitorID); err == nil && entry != nil {
		if err := b.chat.EndChat(ctx, entry.SessionKey, entry.AffinityToken); err != nil {
			b.logger.Warn().Err(err).Str("visitor_id", visitorID).Msg("ending chat on idle timeout")
		}
	}
	b.teardown(visitorID, "idle_timeout", b.msgs.SessionClosed, false)
}

// failHandoff returns the visitor to the bot after the agent chat could not
// be opened. No entry was persisted yet, so this is mostly notification.
func (b *Bridge) failHandoff(visitorID string) {
	b.mets.RecordHandoff("error")
	b.teardown(visitorID, "handoff_failed", b.msgs.ChatRequestFail, false)
}

// teardown releases everything held for a visitor: the poll loop, the idle
// timer, the persisted records and the bot-platform agent flag. Safe to call
// any number of times from any path.
func (b *Bridge) teardown(visitorID, reason, visitorMsg string, menuAfter bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	b.removePoller(visitorID)
	b.timeouts.Disarm(visitorID)

	if err := b.store.DeleteAll(ctx, visitorID); err != nil {
		b.logger.Warn().Err(err).Str("visitor_id", visitorID).Msg("deleting session records")
		b.mets.RecordError("bridge", "store_delete")
	}
	if err := b.bot.ClearAgentSession(ctx, visitorID); err != nil {
		b.logger.Warn().Err(err).Str("visitor_id", visitorID).Msg("clearing agent session")
	}
	if visitorMsg != "" {
		if err := b.bot.SendToVisitor(ctx, visitorID, visitorMsg); err != nil {
			b.logger.Warn().Err(err).Str("visitor_id", visitorID).Msg("notifying visitor of teardown")
		} else if menuAfter {
			if err := b.bot.SendBotPrompt(ctx, visitorID, b.msgs.MenuPrompt); err != nil {
				b.logger.Warn().Err(err).Str("visitor_id", visitorID).Msg("re-entering bot menu")
			}
		}
	}

	b.mets.RecordTeardown(reason)
	b.logger.Info().Str("visitor_id", visitorID).Str("reason", reason).Msg("session torn down")
}

// sendTranscript pushes the visitor summary and recent conversation history
// to the agent once the chat is live. A delivery failure ends the chat: an
// agent without context is worse than no agent.
func (b *Bridge) sendTranscript(ctx context.Context, entry session.Entry, v livechat.Visitor) {
	select {
	case <-time.After(b.cfg.TranscriptWait):
	case <-ctx.Done():
		return
	}

	history, err := b.bot.History(ctx, entry.VisitorID, b.cfg.HistoryLimit, 0)
	if err != nil {
		b.logger.Warn().Err(err).Str("visitor_id", entry.VisitorID).Msg("fetching conversation history")
	}

	text := transcript(v, history)
	if text == "" {
		return
	}
	if err := b.chat.SendMessage(ctx, entry.SessionKey, entry.AffinityToken, text); err != nil {
		b.logger.Error().Err(err).Str("visitor_id", entry.VisitorID).Msg("sending transcript to agent")
		b.mets.RecordError("bridge", "transcript")
		if err := b.chat.EndChat(ctx, entry.SessionKey, entry.AffinityToken); err != nil {
			b.logger.Warn().Err(err).Str("visitor_id", entry.VisitorID).Msg("ending chat after transcript failure")
		}
		b.teardown(entry.VisitorID, "transcript_failed", b.msgs.ChatRequestFail, true)
	}
}

// transcript renders the agent-facing summary block.
func transcript(v livechat.Visitor, history []HistoryMessage) string {
	var sb strings.Builder
	if v.CaseID != "" {
		fmt.Fprintf(&sb, "Name: %s\n", v.Name)
		fmt.Fprintf(&sb, "Case Id: %s\n", v.CaseID)
		fmt.Fprintf(&sb, "Case Number: %s\n", v.CaseNumber)
		fmt.Fprintf(&sb, "Contact Id: %s\n", v.ContactID)
	}
	for _, m := range history {
		fmt.Fprintf(&sb, "%s: %s\n", m.Author, m.Text)
	}
	return sb.String()
}
