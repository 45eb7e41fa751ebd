// Package livechat implements the REST protocol of the live-chat backend:
// session creation, chat initiation, message exchange and chat end.
package livechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	berrors "github.com/p-blackswan/handoff-bridge/internal/errors"
)

const (
	headerAPIVersion = "X-Liveagent-Api-Version"
	headerAffinity   = "X-Liveagent-Affinity"
	headerSessionKey = "X-Liveagent-Session-Key"
	headerSequence   = "X-Liveagent-Sequence"
)

// Config holds the backend connection settings.
type Config struct {
	BaseURL          string
	OrganizationID   string
	DeploymentID     string
	ButtonID         string
	APIVersion       string
	ScreenResolution string
	UserAgent        string
	Language         string

	// HTTPTimeout bounds every call, including the long poll. The backend
	// holds the messages request up to clientPollTimeout, so this must stay
	// comfortably above it.
	HTTPTimeout time.Duration
}

// Client talks to the live-chat backend.
type Client struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger
}

// NewClient creates a backend client.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "47"
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 60 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.HTTPTimeout},
		logger: logger.With().Str("component", "livechat").Logger(),
	}
}

// CreateSession asks the backend for a new chat session identity.
func (c *Client) CreateSession(ctx context.Context) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/System/SessionId", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(headerAffinity, "null")
	req.Header.Set(headerAPIVersion, c.cfg.APIVersion)

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	c.logger.Debug().
		Str("session_key", s.Key).
		Str("session_id", s.ID).
		Int("poll_timeout", s.ClientPollTimeout).
		Msg("chat session created")
	return &s, nil
}

// InitChat initiates the chat between the visitor and an agent, sending the
// pre-chat details and entities that pre-populate the agent console.
func (c *Client) InitChat(ctx context.Context, session *Session, v Visitor) error {
	buttonID := v.ButtonID
	if buttonID == "" {
		buttonID = c.cfg.ButtonID
	}

	payload := initRequest{
		OrganizationID:      c.cfg.OrganizationID,
		DeploymentID:        c.cfg.DeploymentID,
		SessionKey:          session.ID,
		ButtonID:            buttonID,
		ScreenResolution:    c.cfg.ScreenResolution,
		UserAgent:           c.cfg.UserAgent,
		Language:            c.cfg.Language,
		VisitorName:         v.FirstName,
		PrechatDetails:      prechatDetails(v),
		PrechatEntities:     prechatEntities(),
		ReceiveQueueUpdates: true,
		IsPost:              true,
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/Chasitor/ChasitorInit", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerSequence, "1")
	req.Header.Set(headerAffinity, session.AffinityToken)
	req.Header.Set(headerSessionKey, session.Key)
	req.Header.Set(headerAPIVersion, c.cfg.APIVersion)

	if _, err := c.do(req); err != nil {
		return err
	}
	c.logger.Debug().Str("session_key", session.Key).Msg("chat initiated")
	return nil
}

// SendMessage delivers visitor text to the agent.
func (c *Client) SendMessage(ctx context.Context, sessionKey, affinityToken, text string) error {
	raw, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/Chasitor/ChatMessage", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	c.setChatHeaders(req, sessionKey, affinityToken)

	_, err = c.do(req)
	return err
}

// PendingMessages performs one blocking fetch of agent-side events. A
// non-JSON body means the poll window closed with nothing pending and yields
// an empty batch, never an error.
func (c *Client) PendingMessages(ctx context.Context, sessionKey, affinityToken string) ([]Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/System/Messages", nil)
	if err != nil {
		return nil, err
	}
	c.setChatHeaders(req, sessionKey, affinityToken)

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var resp messagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.logger.Debug().Str("session_key", sessionKey).Msg("non-JSON poll body, treating as empty batch")
		return nil, nil
	}
	return resp.Messages, nil
}

// EndChat closes the chat from the visitor side.
func (c *Client) EndChat(ctx context.Context, sessionKey, affinityToken string) error {
	raw, _ := json.Marshal(map[string]string{"reason": "client"})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/Chasitor/ChatEnd", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	c.setChatHeaders(req, sessionKey, affinityToken)

	if _, err := c.do(req); err != nil {
		return err
	}
	c.logger.Debug().Str("session_key", sessionKey).Msg("chat ended by client")
	return nil
}

func (c *Client) setChatHeaders(req *http.Request, sessionKey, affinityToken string) {
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(headerAPIVersion, c.cfg.APIVersion)
	req.Header.Set(headerAffinity, affinityToken)
	req.Header.Set(headerSessionKey, sessionKey)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("livechat %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("livechat reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, berrors.NewAPIError("livechat", resp.StatusCode, string(truncateBytes(body, 200)))
	}
	return body, nil
}

func truncateBytes(b []byte, max int) []byte {
	if len(b) <= max {
		return b
	}
	return b[:max]
}
