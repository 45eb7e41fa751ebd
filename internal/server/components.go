package server

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	berrors "github.com/p-blackswan/handoff-bridge/internal/errors"
	"github.com/p-blackswan/handoff-bridge/internal/sobject"
)

// Component webhooks proxy individual business-object operations for the bot
// platform: contact sync, case creation, case-number lookup and feedback.
// Each one answers 501 when the business-object API is not configured.

// ContactSyncRequest is the contact lookup/create webhook body.
type ContactSyncRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Birthday string `json:"birthday"`
	Zip      string `json:"zip"`
	OptIn    bool   `json:"optIn"`
}

// ContactSync handles POST /hooks/components/contact. It searches for a
// contact by email and, when none exists and the profile is complete, creates
// one. The response reports whether the visitor is now a confirmed contact.
func (h *Handlers) ContactSync(c *fiber.Ctx) error {
	if h.records == nil {
		return recordsDisabled(c)
	}

	var req ContactSyncRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.Email == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_email", "Bad Request",
			"email is required")
	}

	contact, err := h.records.FindContactByEmail(c.Context(), req.Email)
	if err != nil {
		h.logger.Error().Err(err).Str("email", req.Email).Msg("contact search failed")
		return recordsFailure(c, err, "Could not search for the contact")
	}
	if contact != nil {
		h.logger.Info().Str("contact_id", contact.ID).Msg("contact matched by email")
		return c.JSON(fiber.Map{
			"confirmed": true,
			"contactId": contact.ID,
			"firstName": contact.FirstName,
			"lastName":  contact.LastName,
			"name":      contact.Name,
			"email":     contact.Email,
		})
	}

	// No match. A new record needs the full profile.
	if req.Name == "" || req.Birthday == "" || req.Zip == "" {
		return c.JSON(fiber.Map{"confirmed": false})
	}

	first, last := splitName(req.Name)
	id, err := h.records.CreateContact(c.Context(), sobject.NewContact{
		FirstName:  first,
		LastName:   last,
		Email:      req.Email,
		PostalCode: req.Zip,
		Birthdate:  isoDate(req.Birthday),
		OptIn:      req.OptIn,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("email", req.Email).Msg("contact creation failed")
		return recordsFailure(c, err, "Could not create the contact")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"confirmed": true,
		"contactId": id,
		"firstName": first,
		"lastName":  last,
	})
}

// CaseCreateRequest is the case creation webhook body.
type CaseCreateRequest struct {
	ContactID string `json:"contactId"`
	Product   string `json:"productCode"`
}

// CaseCreate handles POST /hooks/components/case. New cases open with the
// availability classification against the family's default brand site.
func (h *Handlers) CaseCreate(c *fiber.Ctx) error {
	if h.records == nil {
		return recordsDisabled(c)
	}

	var req CaseCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.ContactID == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_contact", "Bad Request",
			"contactId is required")
	}

	product := req.Product
	if product == "" {
		product = h.brands.Default()
	}
	id, err := h.records.CreateCase(c.Context(), sobject.NewCase{
		Status:    "New",
		Origin:    "Chat",
		Priority:  "Medium",
		BrandCode: h.brands.BackendCode(product, h.prod),
		Subject1:  "Availability",
		Subject2:  "General",
		Website:   h.brands.Website,
		ContactID: req.ContactID,
		Record:    sobject.RecordType{Name: "Inquiry"},
	})
	if err != nil {
		h.logger.Error().Err(err).Str("contact_id", req.ContactID).Msg("case creation failed")
		return recordsFailure(c, err, "Could not create the case")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"caseId": id})
}

// CaseNumber handles GET /hooks/components/case-number/:caseId.
func (h *Handlers) CaseNumber(c *fiber.Ctx) error {
	if h.records == nil {
		return recordsDisabled(c)
	}

	caseID := c.Params("caseId")
	num, err := h.records.CaseNumber(c.Context(), caseID)
	if err != nil {
		if berrors.IsNotFound(err) {
			return problemResponse(c, fiber.StatusNotFound,
				"case_not_found", "Not Found",
				"No case with that id")
		}
		h.logger.Error().Err(err).Str("case_id", caseID).Msg("case number lookup failed")
		return recordsFailure(c, err, "Could not look up the case number")
	}
	return c.JSON(fiber.Map{"caseId": caseID, "caseNumber": num})
}

// FeedbackRequest is the survey feedback webhook body.
type FeedbackRequest struct {
	CaseID       string `json:"caseId"`
	Satisfaction int    `json:"satisfaction"`
	EffortScore  int    `json:"effortScore"`
	Comments     string `json:"comments"`
}

// Feedback handles POST /hooks/components/feedback.
func (h *Handlers) Feedback(c *fiber.Ctx) error {
	if h.records == nil {
		return recordsDisabled(c)
	}

	var req FeedbackRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.CaseID == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_case", "Bad Request",
			"caseId is required")
	}

	id, err := h.records.CreateFeedback(c.Context(), sobject.Feedback{
		Satisfaction: req.Satisfaction,
		EffortScore:  req.EffortScore,
		Verbatim:     req.Comments,
		CaseID:       req.CaseID,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("case_id", req.CaseID).Msg("feedback creation failed")
		return recordsFailure(c, err, "Could not record the feedback")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"feedbackId": id})
}

func recordsDisabled(c *fiber.Ctx) error {
	return problemResponse(c, fiber.StatusNotImplemented,
		"records_disabled", "Not Implemented",
		"The business-object API is not configured")
}

func recordsFailure(c *fiber.Ctx, err error, detail string) error {
	status := fiber.StatusBadGateway
	title := "Bad Gateway"
	if berrors.IsAuth(err) {
		status = fiber.StatusUnauthorized
		title = "Unauthorized"
	}
	return problemResponse(c, status, "records_failed", title, detail)
}

// splitName splits a display name into first and last tokens. A single-token
// name lands in both, matching the upstream contact form.
func splitName(name string) (first, last string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], parts[len(parts)-1]
}

// isoDate rewrites MM/DD/YYYY into YYYY-MM-DD; anything else passes through.
func isoDate(date string) string {
	parts := strings.Split(date, "/")
	if len(parts) != 3 || len(parts[2]) != 4 {
		return date
	}
	return parts[2] + "-" + parts[0] + "-" + parts[1]
}
