package contract

import "context"

// Responder is the generative-response collaborator: given a transcript and
// the schema of available actions it proposes a reply and/or action requests.
type Responder interface {
	Decide(ctx context.Context, req DecisionRequest) (DecisionResponse, error)
}

// Messenger delivers an outbound message to the customer's channel and
// returns the provider message id.
type Messenger interface {
	Send(ctx context.Context, contactID, text, conversationID string) (string, error)
}

// Calendar exposes the appointment API surface the engine needs.
type Calendar interface {
	FreeSlots(ctx context.Context, windowDays int) ([]CalendarSlot, error)
	Book(ctx context.Context, req BookingRequest) (string, error)
}

// Contacts reads and updates CRM contact records.
type Contacts interface {
	Get(ctx context.Context, contactID string) (ContactInfo, error)
	Update(ctx context.Context, contactID string, fields map[string]any) error
}
