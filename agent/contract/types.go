package contract

import "time"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a conversation transcript. Assistant messages may
// carry the action requests the model emitted alongside (or instead of) text;
// tool messages carry the serialized result of one executed action and
// reference it through ActionID.
type Message struct {
	Role     Role            `json:"role"`
	Content  string          `json:"content"`
	Actions  []ActionRequest `json:"actions,omitempty"`
	ActionID string          `json:"action_id,omitempty"`
	At       time.Time       `json:"at,omitempty"`
}

// ActionRequest is a structured request, emitted by the decision step, to
// invoke a named external capability with arguments.
type ActionRequest struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type ActionStatus string

const (
	ActionSucceeded    ActionStatus = "succeeded"
	ActionFailed       ActionStatus = "failed"
	ActionNotAttempted ActionStatus = "not_attempted"
)

// ActionResult reports the outcome of one dispatched action. A batch keeps
// request order: everything after a terminal failure stays not_attempted.
type ActionResult struct {
	ID      string       `json:"id,omitempty"`
	Name    string       `json:"name"`
	Status  ActionStatus `json:"status"`
	Payload any          `json:"payload,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// ActionSchema describes one dispatchable action to the decision step.
// Parameters holds a JSON-schema object the same way the upstream chat API
// expects function parameters.
type ActionSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// DecisionRequest is the input to the generative-response collaborator.
type DecisionRequest struct {
	Transcript []Message      `json:"transcript"`
	Actions    []ActionSchema `json:"actions,omitempty"`
}

// DecisionResponse is what the collaborator proposed: plain text, a list of
// action requests, or both.
type DecisionResponse struct {
	Text    string          `json:"text,omitempty"`
	Actions []ActionRequest `json:"actions,omitempty"`
}

// CalendarSlot is one bookable window returned by the calendar adapter.
type CalendarSlot struct {
	Date      string `json:"date"`
	Time      string `json:"time"`
	Available bool   `json:"available"`
}

// BookingRequest books a consultation appointment for a contact.
type BookingRequest struct {
	ContactID string    `json:"contact_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Title     string    `json:"title,omitempty"`
	Notes     string    `json:"notes,omitempty"`
}

// ContactInfo is the CRM view of a contact.
type ContactInfo struct {
	ID    string   `json:"id"`
	Name  string   `json:"name,omitempty"`
	Email string   `json:"email,omitempty"`
	Phone string   `json:"phone,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}
