package state

import (
	"context"
	"errors"
	"time"
)

var (
	ErrMemoryNotFound = errors.New("memory record not found")
	ErrNilState       = errors.New("conversation state is nil")
	ErrInvalidContact = errors.New("contact id is empty")
)

// Namespace is the category tag that keeps conversation memory, derived
// insights, and review flags from colliding under the same contact id.
type Namespace string

const (
	NamespaceConversation Namespace = "conversation"
	NamespaceInsights     Namespace = "insights"
	NamespaceFlags        Namespace = "flags"
)

// Store is the durable per-contact key/value contract. Save is
// last-write-wins: writes for one contact are serialized by the engine's
// per-contact exclusion scope, not by the store.
type Store interface {
	Load(ctx context.Context, ns Namespace, contactID string, out any) error
	Save(ctx context.Context, ns Namespace, contactID string, v any) error
	Delete(ctx context.Context, ns Namespace, contactID string) error

	// List returns contact ids present in a namespace, most recently
	// written first, at most limit entries. Used by the admin surface only.
	List(ctx context.Context, ns Namespace, limit int) ([]string, error)
}

// LoadConversation fetches a contact's ConversationState, or
// ErrMemoryNotFound when the contact has no history.
func LoadConversation(ctx context.Context, s Store, contactID string) (*ConversationState, error) {
	var st ConversationState
	if err := s.Load(ctx, NamespaceConversation, contactID, &st); err != nil {
		return nil, err
	}
	if err := st.Validate(); err != nil {
		return nil, err
	}
	return &st, nil
}

// SaveConversation persists a contact's ConversationState.
func SaveConversation(ctx context.Context, s Store, st *ConversationState) error {
	if st == nil {
		return ErrNilState
	}
	if err := st.Validate(); err != nil {
		return err
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	return s.Save(ctx, NamespaceConversation, st.ContactID, st)
}
