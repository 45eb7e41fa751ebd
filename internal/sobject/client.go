// Package sobject is the client for the backend's business-object REST API:
// contact lookup and creation, case lifecycle and feedback records. All calls
// carry the bearer token supplied by the credential cache.
package sobject

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	berrors "github.com/p-blackswan/handoff-bridge/internal/errors"
	"github.com/p-blackswan/handoff-bridge/internal/retry"
)

// TokenSource supplies the bearer credential for every call.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client talks to the business-object API.
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
	retry   retry.Config
	logger  zerolog.Logger
}

// NewClient creates a business-object API client.
func NewClient(baseURL string, tokens TokenSource, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		http:    &http.Client{Timeout: 15 * time.Second},
		retry:   retry.DefaultConfig(),
		logger:  logger.With().Str("component", "sobject").Logger(),
	}
}

// Contact is a visitor's contact record.
type Contact struct {
	ID        string `json:"Id"`
	FirstName string `json:"FirstName"`
	LastName  string `json:"LastName"`
	Name      string `json:"Name"`
	Email     string `json:"Email"`
}

// NewContact carries the fields for contact creation.
type NewContact struct {
	FirstName  string `json:"FirstName"`
	LastName   string `json:"LastName"`
	Email      string `json:"Email"`
	PostalCode string `json:"MailingPostalCode,omitempty"`
	Birthdate  string `json:"Birthdate,omitempty"`
	OptIn      bool   `json:"Contact_Opt_In__c,omitempty"`
}

// NewCase carries the fields for case creation.
type NewCase struct {
	Status    string     `json:"Status"`
	Origin    string     `json:"Origin"`
	Priority  string     `json:"Priority"`
	BrandCode string     `json:"Brand__c,omitempty"`
	Subject1  string     `json:"Subject1__c,omitempty"`
	Subject2  string     `json:"Subject2__c,omitempty"`
	Website   string     `json:"Product_Information__c,omitempty"`
	ContactID string     `json:"ContactId"`
	Record    RecordType `json:"RecordType"`
}

// RecordType names the record type of a case.
type RecordType struct {
	Name string `json:"Name"`
}

// CaseUpdate is the PATCH payload that closes a case.
type CaseUpdate struct {
	Status    string     `json:"Status"`
	Origin    string     `json:"Origin"`
	BrandCode string     `json:"Brand__c,omitempty"`
	Priority  string     `json:"Priority"`
	Subject1  string     `json:"Subject1__c,omitempty"`
	Subject2  string     `json:"Subject2__c,omitempty"`
	ContactID string     `json:"ContactId"`
	Record    RecordType `json:"RecordType"`
}

// Feedback is a survey response linked to a case.
type Feedback struct {
	Satisfaction int    `json:"Services_Satisfaction__c"`
	EffortScore  int    `json:"Customer_Effort_Score__c"`
	Verbatim     string `json:"Verbatim__c,omitempty"`
	CaseID       string `json:"Case__c"`
}

// VisitorRecord is the live-chat visitor record a transcript links to.
type VisitorRecord struct {
	SessionKey string `json:"SessionKey,omitempty"`
}

// Transcript is an archived chat transcript attached to a visitor record.
type Transcript struct {
	VisitorRecordID string `json:"LiveChatVisitorId"`
	DeploymentID    string `json:"LiveChatDeploymentId"`
	ButtonID        string `json:"LiveChatButtonId"`
	Body            string `json:"Body"`
	VisitorType     string `json:"Visitor_Type__c,omitempty"`
	VisitorEmail    string `json:"Visitor_Email__c,omitempty"`
	RequestTime     string `json:"RequestTime,omitempty"`
	StartTime       string `json:"StartTime,omitempty"`
	EndTime         string `json:"EndTime,omitempty"`
}

type createResponse struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
}

type queryResponse struct {
	TotalSize int               `json:"totalSize"`
	Records   []json.RawMessage `json:"records"`
}

// FindContactByEmail returns the most recently created contact for the email,
// or nil when none exists.
func (c *Client) FindContactByEmail(ctx context.Context, email string) (*Contact, error) {
	soql := fmt.Sprintf("SELECT Id FROM Contact WHERE Email='%s' ORDER BY CreatedDate DESC LIMIT 1", email)

	var resp queryResponse
	if err := c.call(ctx, http.MethodGet, "/query/?q="+url.QueryEscape(soql), nil, &resp); err != nil {
		return nil, err
	}
	if resp.TotalSize != 1 || len(resp.Records) == 0 {
		return nil, nil
	}

	var ref struct {
		ID string `json:"Id"`
	}
	if err := json.Unmarshal(resp.Records[0], &ref); err != nil {
		return nil, fmt.Errorf("decoding contact query: %w", err)
	}
	return c.GetContact(ctx, ref.ID)
}

// GetContact fetches the full contact record.
func (c *Client) GetContact(ctx context.Context, contactID string) (*Contact, error) {
	var contact Contact
	if err := c.call(ctx, http.MethodGet, "/sobjects/Contact/"+contactID, nil, &contact); err != nil {
		return nil, err
	}
	return &contact, nil
}

// CreateContact creates a contact record and returns its ID.
func (c *Client) CreateContact(ctx context.Context, nc NewContact) (string, error) {
	var resp createResponse
	if err := c.call(ctx, http.MethodPost, "/sobjects/Contact/", nc, &resp); err != nil {
		return "", err
	}
	c.logger.Info().Str("contact_id", resp.ID).Str("email", nc.Email).Msg("contact created")
	return resp.ID, nil
}

// CreateCase creates a case and returns its ID.
func (c *Client) CreateCase(ctx context.Context, caseData NewCase) (string, error) {
	var resp createResponse
	if err := c.call(ctx, http.MethodPost, "/sobjects/Case/", caseData, &resp); err != nil {
		return "", err
	}
	c.logger.Info().Str("case_id", resp.ID).Str("contact_id", caseData.ContactID).Msg("case created")
	return resp.ID, nil
}

// CaseNumber looks up the human-facing case number for a case ID.
func (c *Client) CaseNumber(ctx context.Context, caseID string) (string, error) {
	soql := fmt.Sprintf("SELECT CaseNumber FROM Case WHERE Id='%s'", caseID)

	var resp queryResponse
	if err := c.call(ctx, http.MethodGet, "/query/?q="+url.QueryEscape(soql), nil, &resp); err != nil {
		return "", err
	}
	if len(resp.Records) == 0 {
		return "", berrors.ErrNotFound
	}

	var rec struct {
		CaseNumber string `json:"CaseNumber"`
	}
	if err := json.Unmarshal(resp.Records[0], &rec); err != nil {
		return "", fmt.Errorf("decoding case query: %w", err)
	}
	return rec.CaseNumber, nil
}

// UpdateCase applies a partial update (case closure).
func (c *Client) UpdateCase(ctx context.Context, caseID string, upd CaseUpdate) error {
	return c.call(ctx, http.MethodPatch, "/sobjects/Case/"+caseID, upd, nil)
}

// CreateFeedback records a survey response.
func (c *Client) CreateFeedback(ctx context.Context, fb Feedback) (string, error) {
	var resp createResponse
	if err := c.call(ctx, http.MethodPost, "/sobjects/Survey_Response__c", fb, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// CreateVisitor creates a live-chat visitor record and returns its ID.
func (c *Client) CreateVisitor(ctx context.Context, v VisitorRecord) (string, error) {
	var resp createResponse
	if err := c.call(ctx, http.MethodPost, "/sobjects/LiveChatVisitor", v, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// CreateTranscript archives a chat transcript against a visitor record.
func (c *Client) CreateTranscript(ctx context.Context, t Transcript) (string, error) {
	var resp createResponse
	if err := c.call(ctx, http.MethodPost, "/sobjects/LiveChatTranscript", t, &resp); err != nil {
		return "", err
	}
	c.logger.Info().Str("transcript_id", resp.ID).Str("visitor_record_id", t.VisitorRecordID).Msg("transcript archived")
	return resp.ID, nil
}

// call performs one authorized request with retry on transient failures.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	return retry.Do(ctx, c.retry, func(ctx context.Context) error {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("acquiring token: %w", err)
		}

		var reader io.Reader
		if body != nil {
			raw, err := json.Marshal(body)
			if err != nil {
				return err
			}
			reader = bytes.NewReader(raw)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("sobject %s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("sobject reading response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return berrors.NewAPIError("sobject", resp.StatusCode, method+" "+path)
		}
		if out != nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("sobject decoding response: %w", err)
			}
		}
		return nil
	})
}
