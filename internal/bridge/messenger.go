package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	berrors "github.com/p-blackswan/handoff-bridge/internal/errors"
)

// Messenger is the bot-platform side of the bridge: it delivers text to the
// visitor's channel and controls which side of the conversation owns it.
type Messenger interface {
	// SendToVisitor delivers a user-visible message on the visitor's channel.
	SendToVisitor(ctx context.Context, visitorID, text string) error

	// SendBotPrompt hands text to the bot engine as if the visitor typed it,
	// so the bot can re-enter a dialog (for example the main menu task).
	SendBotPrompt(ctx context.Context, visitorID, text string) error

	// ClearAgentSession returns ownership of the conversation to the bot.
	// Must be idempotent: clearing an already-cleared session is a no-op.
	ClearAgentSession(ctx context.Context, visitorID string) error

	// History returns the most recent conversation turns for the visitor,
	// oldest first.
	History(ctx context.Context, visitorID string, limit, offset int) ([]HistoryMessage, error)
}

// HistoryMessage is one recorded conversation turn.
type HistoryMessage struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdOn"`
}

// BotClient is the HTTP Messenger implementation against the bot platform API.
type BotClient struct {
	baseURL string
	token   string
	http    *http.Client
	logger  zerolog.Logger
}

// NewBotClient creates a bot platform client.
func NewBotClient(baseURL, token string, logger zerolog.Logger) *BotClient {
	return &BotClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger.With().Str("component", "bot").Logger(),
	}
}

func (c *BotClient) SendToVisitor(ctx context.Context, visitorID, text string) error {
	body := map[string]string{"to": visitorID, "text": text, "type": "user"}
	return c.post(ctx, "/messages", body)
}

func (c *BotClient) SendBotPrompt(ctx context.Context, visitorID, text string) error {
	body := map[string]string{"to": visitorID, "text": text, "type": "bot"}
	return c.post(ctx, "/messages", body)
}

func (c *BotClient) ClearAgentSession(ctx context.Context, visitorID string) error {
	body := map[string]string{"to": visitorID}
	if err := c.post(ctx, "/agent-session/clear", body); err != nil {
		// Clearing an already-cleared session comes back as 404.
		var apiErr *berrors.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil
		}
		return err
	}
	return nil
}

func (c *BotClient) History(ctx context.Context, visitorID string, limit, offset int) ([]HistoryMessage, error) {
	u := c.baseURL + "/users/" + visitorID + "/history?limit=" + strconv.Itoa(limit) + "&offset=" + strconv.Itoa(offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bot history: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("bot reading history: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, berrors.NewAPIError("bot", resp.StatusCode, "GET history")
	}

	var body struct {
		Messages []HistoryMessage `json:"messages"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("bot decoding history: %w", err)
	}
	return body.Messages, nil
}

func (c *BotClient) post(ctx context.Context, path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bot POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return berrors.NewAPIError("bot", resp.StatusCode, "POST "+path)
	}
	return nil
}
