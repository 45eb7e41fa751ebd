package bridge

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	berrors "github.com/p-blackswan/handoff-bridge/internal/errors"
	"github.com/p-blackswan/handoff-bridge/internal/livechat"
	"github.com/p-blackswan/handoff-bridge/internal/session"
)

// poller is the per-session loop fetching agent-side events. Exactly one
// poller runs per visitor; the registry in Bridge enforces that.
type poller struct {
	b       *Bridge
	entry   session.Entry
	visitor livechat.Visitor

	state     session.State
	connected bool
	// idle is the backend-communicated inactivity window, zero until a
	// ChatEstablished event carries one.
	idle time.Duration
}

// run polls until a terminal event, an unrecoverable error or cancellation.
// Each cycle starts no sooner than PollInterval after the previous one
// started, so a backend that answers instantly cannot be hammered.
func (p *poller) run(ctx context.Context) {
	log := p.b.logger.With().
		Str("visitor_id", p.entry.VisitorID).
		Str("session_key", p.entry.SessionKey).
		Logger()
	log.Info().Msg("polling started")

	for {
		start := time.Now()

		if ok := p.sessionStillTracked(ctx); !ok {
			p.b.mets.DeadPollsTotal.Inc()
			log.Debug().Msg("session record gone, polling stopped")
			return
		}

		events, err := p.b.chat.PendingMessages(ctx, p.entry.SessionKey, p.entry.AffinityToken)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("polling cancelled")
				return
			}
			p.b.mets.RecordPoll("error", time.Since(start).Seconds())
			p.b.mets.RecordError("poller", "poll_fetch")
			if berrors.IsAuth(err) {
				log.Warn().Err(err).Msg("chat session expired server-side")
			} else {
				log.Error().Err(err).Msg("poll fetch failed")
			}
			// Fetch failures are never retried: the session is assumed dead
			// and handed back to the bot.
			p.b.teardown(p.entry.VisitorID, "poll_failed", p.b.msgs.SessionClosed, false)
			return
		}
		p.b.mets.RecordPoll("ok", time.Since(start).Seconds())

		if terminal := p.processBatch(ctx, events, log); terminal {
			return
		}

		if !p.connected {
			p.connected = true
			p.markConnected(ctx, log)
		}

		// Enforce the minimum inter-poll spacing.
		if remaining := p.b.cfg.PollInterval - time.Since(start); remaining > 0 {
			select {
			case <-ctx.Done():
				log.Info().Msg("polling cancelled")
				return
			case <-time.After(remaining):
			}
		}
	}
}

// processBatch applies one batch of events in order. Returns true when the
// batch contained a terminal event and the loop must exit.
func (p *poller) processBatch(ctx context.Context, events []livechat.Event, log zerolog.Logger) bool {
	for i, ev := range events {
		p.b.mets.RecordEvent(ev.Type)
		switch ev.Type {
		case livechat.EventChatEstablished:
			p.transition(session.StateEstablished, log)
			if t := ev.Message.IdleTimeout.Timeout; t > 0 {
				p.idle = time.Duration(t) * time.Millisecond
				p.b.timeouts.Arm(p.entry.VisitorID, p.idle)
			}
			log.Info().Msg("chat established with agent")
			if p.b.msgs.AgentAssigned != "" {
				if err := p.b.bot.SendToVisitor(ctx, p.entry.VisitorID, p.b.msgs.AgentAssigned); err != nil {
					log.Warn().Err(err).Msg("notifying visitor of agent assignment")
				}
			}

		case livechat.EventChatRequestSuccess:
			if t := ev.Message.ConnectionTimeout; t > 0 {
				p.b.timeouts.Arm(p.entry.VisitorID, time.Duration(t)*time.Millisecond)
			}
			log.Info().Msg("chat request accepted")

		case livechat.EventChatMessage:
			p.transition(session.StateConnected, log)
			// Agent activity resets the inactivity clock just like visitor
			// activity does.
			p.b.timeouts.Arm(p.entry.VisitorID, p.idleDuration())
			// Messages from one batch are forwarded staggered so the
			// visitor sees them in order.
			delay := time.Duration(i) * p.b.cfg.ForwardStagger
			p.forwardAgentMessage(ev.Message.Text, delay, log)

		case livechat.EventChatEnded:
			p.transition(session.StateEnding, log)
			log.Info().Msg("agent ended the chat")
			p.b.teardown(p.entry.VisitorID, "agent_ended", p.b.msgs.ChatEnded, true)
			p.transition(session.StateTerminal, log)
			return true

		case livechat.EventChatRequestFail:
			if ev.Message.Reason == livechat.ReasonNoPost {
				// NoPost failures are transient and ignored; the reason is
				// not documented upstream.
				log.Debug().Msg("chat request fail with reason NoPost, ignoring")
				continue
			}
			p.transition(session.StateEnding, log)
			log.Warn().Str("reason", ev.Message.Reason).Msg("chat request failed")
			p.b.teardown(p.entry.VisitorID, "request_failed", p.b.msgs.ChatRequestFail, true)
			p.transition(session.StateTerminal, log)
			return true

		default:
			log.Debug().Str("event_type", ev.Type).Msg("unhandled event type")
		}
	}
	return false
}

// forwardAgentMessage delivers agent text to the visitor after delay. A
// forward already scheduled fires even if the session is torn down in the
// interim: the visitor must see everything the agent said. A delivery
// failure ends the chat: the agent must not keep talking into a channel the
// visitor cannot see.
func (p *poller) forwardAgentMessage(text string, delay time.Duration, log zerolog.Logger) {
	p.b.wg.Add(1)
	go func() {
		defer p.b.wg.Done()
		if delay > 0 {
			time.Sleep(delay)
		}

		sendCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := p.b.bot.SendToVisitor(sendCtx, p.entry.VisitorID, text); err != nil {
			log.Error().Err(err).Msg("forwarding agent message to visitor")
			p.b.mets.RecordError("poller", "forward")
			if err := p.b.chat.EndChat(sendCtx, p.entry.SessionKey, p.entry.AffinityToken); err != nil {
				log.Warn().Err(err).Msg("ending chat after forward failure")
			}
			p.b.teardown(p.entry.VisitorID, "forward_failed", p.b.msgs.SessionClosed, false)
			return
		}
		p.b.mets.RecordMessage("to_visitor")
	}()
}

// idleDuration is the backend-communicated inactivity window, or the
// configured fallback when none has arrived.
func (p *poller) idleDuration() time.Duration {
	if p.idle > 0 {
		return p.idle
	}
	return p.b.cfg.IdleTimeout
}

// markConnected records the first completed poll cycle and kicks off the
// transcript push to the agent.
func (p *poller) markConnected(ctx context.Context, log zerolog.Logger) {
	marker := session.ConnectedMarker{VisitorID: p.entry.VisitorID, ConnectedAt: time.Now().UTC()}
	if err := p.b.store.PutConnected(ctx, marker); err != nil {
		log.Warn().Err(err).Msg("recording connected marker")
	} else if err := p.b.store.Expire(ctx, session.NamespaceConnected, p.entry.VisitorID, p.b.cfg.SessionTTL); err != nil {
		log.Warn().Err(err).Msg("setting connected marker ttl")
	}
	// Fallback timer, only when the backend has not communicated one.
	if !p.b.timeouts.Armed(p.entry.VisitorID) {
		p.b.timeouts.Arm(p.entry.VisitorID, p.b.cfg.IdleTimeout)
	}

	p.b.wg.Add(1)
	go func() {
		defer p.b.wg.Done()
		p.b.sendTranscript(ctx, p.entry, p.visitor)
	}()
}

// sessionStillTracked confirms the durable record is still present. The
// record disappearing (timeout fired elsewhere, operator delete) means the
// loop must stop rather than poll a dead session.
func (p *poller) sessionStillTracked(ctx context.Context) bool {
	entry, err := p.b.store.GetEntry(ctx, p.entry.VisitorID)
	if err != nil {
		p.b.logger.Warn().Err(err).Str("visitor_id", p.entry.VisitorID).Msg("session lookup failed, continuing")
		return true
	}
	return entry != nil
}

// transition advances the local state machine, logging invalid steps instead
// of failing: the backend's event order is not under our control.
func (p *poller) transition(next session.State, log zerolog.Logger) {
	if !p.state.CanTransition(next) {
		log.Warn().
			Str("from", p.state.String()).
			Str("to", next.String()).
			Msg("unexpected lifecycle transition")
		return
	}
	p.state = next
}
