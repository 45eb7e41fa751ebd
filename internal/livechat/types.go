package livechat

// Session is the backend-issued chat session identity. Key and AffinityToken
// must accompany every subsequent call belonging to this chat.
type Session struct {
	Key               string `json:"key"`
	ID                string `json:"id"`
	ClientPollTimeout int    `json:"clientPollTimeout"`
	AffinityToken     string `json:"affinityToken"`
}

// Event kinds returned by the messages endpoint.
const (
	EventChatEstablished    = "ChatEstablished"
	EventChatRequestSuccess = "ChatRequestSuccess"
	EventChatRequestFail    = "ChatRequestFail"
	EventChatMessage        = "ChatMessage"
	EventChatEnded          = "ChatEnded"
)

// ReasonNoPost is the one ChatRequestFail reason that does not terminate the
// session. The upstream protocol does not document what it means; the
// behavior is preserved as observed.
const ReasonNoPost = "NoPost"

// Event is a single agent-side event from one poll batch.
type Event struct {
	Type    string       `json:"type"`
	Message EventMessage `json:"message"`
}

// EventMessage is the union of payload fields across event kinds; only the
// fields relevant to the event's Type are populated.
type EventMessage struct {
	Text              string      `json:"text,omitempty"`
	Name              string      `json:"name,omitempty"`
	Reason            string      `json:"reason,omitempty"`
	ConnectionTimeout int64       `json:"connectionTimeout,omitempty"`
	IdleTimeout       IdleTimeout `json:"chasitorIdleTimeout,omitempty"`
}

// IdleTimeout carries the server-communicated idle timeout in milliseconds.
type IdleTimeout struct {
	Enabled bool  `json:"isEnabled,omitempty"`
	Timeout int64 `json:"timeout,omitempty"`
}

// messagesResponse is the poll payload.
type messagesResponse struct {
	Messages []Event `json:"messages"`
	Sequence int64   `json:"sequence,omitempty"`
}

// Visitor carries the identity fields sent as pre-chat details when a chat
// is initiated, so the agent console is pre-populated with the visitor's
// contact and case records.
type Visitor struct {
	FirstName  string
	LastName   string
	Name       string
	Email      string
	ContactID  string
	CaseID     string
	CaseNumber string
	ButtonID   string // overrides the configured button when set
}

// PrechatDetail is one agent-visible field with its entity mappings.
type PrechatDetail struct {
	Label            string      `json:"label"`
	Value            string      `json:"value"`
	EntityMaps       []EntityMap `json:"entityMaps"`
	TranscriptFields []string    `json:"transcriptFields"`
	DisplayToAgent   bool        `json:"displayToAgent"`
}

// EntityMap binds a pre-chat detail to a business-object field.
type EntityMap struct {
	EntityName string `json:"entityName"`
	FieldName  string `json:"fieldName"`
}

// PrechatEntity describes how pre-chat details map onto backend records.
type PrechatEntity struct {
	EntityName        string           `json:"entityName"`
	ShowOnCreate      bool             `json:"showOnCreate,omitempty"`
	SaveToTranscript  string           `json:"saveToTranscript"`
	LinkToEntityName  string           `json:"linkToEntityName,omitempty"`
	LinkToEntityField string           `json:"linkToEntityField,omitempty"`
	EntityFieldsMaps  []EntityFieldMap `json:"entityFieldsMaps"`
}

// EntityFieldMap drives the backend's find-or-create behavior per field.
type EntityFieldMap struct {
	FieldName    string `json:"fieldName"`
	Label        string `json:"label"`
	DoFind       bool   `json:"doFind"`
	IsExactMatch bool   `json:"isExactMatch"`
	DoCreate     bool   `json:"doCreate"`
}

// initRequest is the ChasitorInit body.
type initRequest struct {
	OrganizationID      string          `json:"organizationId"`
	DeploymentID        string          `json:"deploymentId"`
	SessionKey          string          `json:"sessionkey"`
	ButtonID            string          `json:"buttonId"`
	ScreenResolution    string          `json:"screenResolution"`
	UserAgent           string          `json:"userAgent"`
	Language            string          `json:"language"`
	VisitorName         string          `json:"visitorName"`
	PrechatDetails      []PrechatDetail `json:"prechatDetails"`
	PrechatEntities     []PrechatEntity `json:"prechatEntities"`
	ReceiveQueueUpdates bool            `json:"receiveQueueUpdates"`
	IsPost              bool            `json:"isPost"`
}

func contactDetail(label, value string) PrechatDetail {
	return PrechatDetail{
		Label:            label,
		Value:            value,
		EntityMaps:       []EntityMap{{EntityName: "Contact", FieldName: label}},
		TranscriptFields: []string{label + "__c"},
		DisplayToAgent:   true,
	}
}

func caseDetail(label, value, transcriptField string) PrechatDetail {
	return PrechatDetail{
		Label:            label,
		Value:            value,
		EntityMaps:       []EntityMap{{EntityName: "Case", FieldName: label}},
		TranscriptFields: []string{transcriptField},
		DisplayToAgent:   true,
	}
}

// prechatDetails builds the agent-visible pre-chat fields for a visitor.
func prechatDetails(v Visitor) []PrechatDetail {
	return []PrechatDetail{
		contactDetail("LastName", v.LastName),
		contactDetail("FirstName", v.FirstName),
		contactDetail("Email", v.Email),
		contactDetail("Id", v.ContactID),
		caseDetail("CaseNumber", v.CaseNumber, "caseNumber__c"),
		caseDetail("Status", "New", "caseStatus__c"),
		caseDetail("Origin", "Chat", "caseOrigin__c"),
	}
}

// prechatEntities builds the Contact and Case find-or-create mappings.
func prechatEntities() []PrechatEntity {
	contactFields := []EntityFieldMap{
		{FieldName: "LastName", Label: "LastName", DoFind: true, IsExactMatch: true, DoCreate: true},
		{FieldName: "FirstName", Label: "FirstName", DoFind: true, IsExactMatch: true, DoCreate: true},
		{FieldName: "Email", Label: "Email", DoFind: true, IsExactMatch: true, DoCreate: true},
		{FieldName: "Id", Label: "Id", DoFind: true, IsExactMatch: true, DoCreate: true},
	}
	caseFields := []EntityFieldMap{
		{FieldName: "CaseNumber", Label: "CaseNumber", DoFind: true, IsExactMatch: true, DoCreate: true},
		{FieldName: "Status", Label: "Status", DoCreate: true},
		{FieldName: "Origin", Label: "Origin", DoFind: true, DoCreate: true},
	}
	return []PrechatEntity{
		{
			EntityName:        "Contact",
			SaveToTranscript:  "Contact",
			LinkToEntityName:  "Case",
			LinkToEntityField: "ContactId",
			EntityFieldsMaps:  contactFields,
		},
		{
			EntityName:       "Case",
			ShowOnCreate:     true,
			SaveToTranscript: "Case",
			EntityFieldsMaps: caseFields,
		},
	}
}
