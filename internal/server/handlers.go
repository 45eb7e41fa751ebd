package server

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/handoff-bridge/internal/brand"
	"github.com/p-blackswan/handoff-bridge/internal/bridge"
	berrors "github.com/p-blackswan/handoff-bridge/internal/errors"
	"github.com/p-blackswan/handoff-bridge/internal/livechat"
	"github.com/p-blackswan/handoff-bridge/internal/sobject"
)

// Bridger is the bridge surface the webhook handlers drive.
type Bridger interface {
	HandleHandoff(ctx context.Context, req bridge.HandoffRequest) error
	HandleVisitorMessage(ctx context.Context, visitorID, text string) (bridge.VisitorDisposition, string, error)
	HandleBotMessage(ctx context.Context, visitorID, text string) (bool, error)
	ActiveSessions() int
}

// Records is the business-object API surface the webhooks proxy.
// Nil when the business-object API is not configured.
type Records interface {
	FindContactByEmail(ctx context.Context, email string) (*sobject.Contact, error)
	CreateContact(ctx context.Context, nc sobject.NewContact) (string, error)
	CreateCase(ctx context.Context, caseData sobject.NewCase) (string, error)
	CaseNumber(ctx context.Context, caseID string) (string, error)
	UpdateCase(ctx context.Context, caseID string, upd sobject.CaseUpdate) error
	CreateFeedback(ctx context.Context, fb sobject.Feedback) (string, error)
}

// Handlers holds dependencies for the webhook handlers.
type Handlers struct {
	bridge  Bridger
	records Records
	brands  *brand.Family
	prod    bool
	logger  zerolog.Logger
}

// NewHandlers creates a Handlers instance.
func NewHandlers(b Bridger, records Records, brands *brand.Family, production bool, logger zerolog.Logger) *Handlers {
	return &Handlers{
		bridge:  b,
		records: records,
		brands:  brands,
		prod:    production,
		logger:  logger.With().Str("component", "handlers").Logger(),
	}
}

// AgentTransferRequest is the handoff webhook body.
type AgentTransferRequest struct {
	VisitorID  string          `json:"visitorId"`
	FirstName  string          `json:"firstName"`
	LastName   string          `json:"lastName"`
	Name       string          `json:"name"`
	Email      string          `json:"email"`
	ContactID  string          `json:"contactId"`
	CaseID     string          `json:"caseId"`
	CaseNumber string          `json:"caseNum"`
	ButtonID   string          `json:"buttonId"`
	Snapshot   json.RawMessage `json:"context"`
}

// AgentTransfer handles POST /hooks/agent-transfer.
func (h *Handlers) AgentTransfer(c *fiber.Ctx) error {
	var req AgentTransferRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.VisitorID == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_visitor", "Bad Request",
			"visitorId is required")
	}

	err := h.bridge.HandleHandoff(c.Context(), bridge.HandoffRequest{
		VisitorID: req.VisitorID,
		Visitor: livechat.Visitor{
			FirstName:  req.FirstName,
			LastName:   req.LastName,
			Name:       req.Name,
			Email:      req.Email,
			ContactID:  req.ContactID,
			CaseID:     req.CaseID,
			CaseNumber: req.CaseNumber,
			ButtonID:   req.ButtonID,
		},
		Snapshot: req.Snapshot,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("visitor_id", req.VisitorID).Msg("handoff failed")
		return problemResponse(c, fiber.StatusBadGateway,
			"handoff_failed", "Bad Gateway",
			"Could not open an agent chat")
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
}

// MessageRequest is the visitor/bot message webhook body.
type MessageRequest struct {
	VisitorID string `json:"visitorId"`
	Message   string `json:"message"`
}

// VisitorMessage handles POST /hooks/message. The response tells the bot
// platform who owns the message now.
func (h *Handlers) VisitorMessage(c *fiber.Ctx) error {
	var req MessageRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.VisitorID == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_visitor", "Bad Request",
			"visitorId is required")
	}

	disp, text, err := h.bridge.HandleVisitorMessage(c.Context(), req.VisitorID, req.Message)
	if err != nil && disp == bridge.DispositionBot {
		h.logger.Error().Err(err).Str("visitor_id", req.VisitorID).Msg("visitor message failed")
		return problemResponse(c, fiber.StatusBadGateway,
			"message_failed", "Bad Gateway",
			"Could not route the visitor message")
	}

	switch disp {
	case bridge.DispositionForwarded:
		return c.JSON(fiber.Map{"action": "forwarded"})
	case bridge.DispositionClosed:
		return c.JSON(fiber.Map{"action": "closed"})
	default:
		return c.JSON(fiber.Map{"action": "bot", "message": text})
	}
}

// BotMessage handles POST /hooks/bot-message.
func (h *Handlers) BotMessage(c *fiber.Ctx) error {
	var req MessageRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}

	suppressed, err := h.bridge.HandleBotMessage(c.Context(), req.VisitorID, req.Message)
	if err != nil {
		h.logger.Error().Err(err).Str("visitor_id", req.VisitorID).Msg("bot message failed")
		return problemResponse(c, fiber.StatusBadGateway,
			"message_failed", "Bad Gateway",
			"Could not deliver the bot message")
	}
	return c.JSON(fiber.Map{"suppressed": suppressed})
}

// EventRequest is the lifecycle event webhook body.
type EventRequest struct {
	VisitorID string `json:"visitorId"`
	EventType string `json:"eventType"`
	CaseID    string `json:"caseId"`
	ContactID string `json:"contactId"`
	Product   string `json:"productCode"`
}

// FAQ closures always carry the same classification.
const (
	faqSubject1 = "General"
	faqSubject2 = "Product"
)

// Event handles POST /hooks/event. An endFAQ event closes the visitor's case
// with the FAQ classification.
func (h *Handlers) Event(c *fiber.Ctx) error {
	var req EventRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}

	if req.EventType != "endFAQ" {
		return c.JSON(fiber.Map{"status": "ignored"})
	}
	if h.records == nil {
		return problemResponse(c, fiber.StatusNotImplemented,
			"cases_disabled", "Not Implemented",
			"The business-object API is not configured")
	}
	if req.CaseID == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_case", "Bad Request",
			"caseId is required for endFAQ")
	}

	product := req.Product
	if product == "" {
		product = h.brands.Default()
	}
	upd := sobject.CaseUpdate{
		Status:    "Closed",
		Origin:    "Chat",
		BrandCode: h.brands.BackendCode(product, h.prod),
		Priority:  "Medium",
		Subject1:  faqSubject1,
		Subject2:  faqSubject2,
		ContactID: req.ContactID,
		Record:    sobject.RecordType{Name: "Inquiry"},
	}
	if err := h.records.UpdateCase(c.Context(), req.CaseID, upd); err != nil {
		h.logger.Error().Err(err).Str("case_id", req.CaseID).Msg("closing case")
		status := fiber.StatusBadGateway
		if berrors.IsAuth(err) {
			status = fiber.StatusUnauthorized
		}
		return problemResponse(c, status,
			"case_update_failed", "Bad Gateway",
			"Could not close the case")
	}
	return c.JSON(fiber.Map{"status": "closed", "caseId": req.CaseID})
}
