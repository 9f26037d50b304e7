package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/dmelendez/enerbot/agent/contract"
	statex "github.com/dmelendez/enerbot/agent/state"
)

// Mode selects where conversation history comes from. In durable mode the
// store's transcript is the source of truth; in stateless mode the caller
// supplies the history on every turn and only slots survive between runs.
// Both modes must yield the same slots and stage for the same logical
// history.
type Mode string

const (
	ModeDurable   Mode = "durable"
	ModeStateless Mode = "stateless"
)

type Config struct {
	Mode Mode `envconfig:"MODE" default:"durable"`
}

// Inbound is one customer turn entering the engine.
type Inbound struct {
	ContactID      string
	ConversationID string
	Text           string

	// History is the caller-supplied transcript, honored in stateless mode
	// only.
	History []contractx.Message
}

// Boundary owns the load-at-start / persist-at-end lifecycle of a
// ConversationState. The engine never touches the store directly.
type Boundary struct {
	store statex.Store
	mode  Mode
	now   func() time.Time
}

func NewBoundary(store statex.Store, mode Mode) (*Boundary, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: session store is nil", contractx.ErrConfiguration)
	}
	switch mode {
	case "":
		mode = ModeDurable
	case ModeDurable, ModeStateless:
	default:
		return nil, fmt.Errorf("%w: unknown session mode %q", contractx.ErrConfiguration, mode)
	}
	return &Boundary{store: store, mode: mode, now: time.Now}, nil
}

func (b *Boundary) Mode() Mode { return b.mode }

// Begin validates the inbound turn, reconstructs (or creates) the contact's
// state, and appends the turn to the transcript. The returned state is owned
// by the caller until Commit.
func (b *Boundary) Begin(ctx context.Context, in Inbound) (*statex.ConversationState, error) {
	contactID := strings.TrimSpace(in.ContactID)
	if contactID == "" {
		return nil, fmt.Errorf("%w: contact id is required", contractx.ErrValidation)
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: inbound text is empty", contractx.ErrValidation)
	}

	now := b.now()
	st, err := statex.LoadConversation(ctx, b.store, contactID)
	switch {
	case errors.Is(err, statex.ErrMemoryNotFound):
		st = statex.NewConversationState(contactID, in.ConversationID, now)
	case err != nil:
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if v := strings.TrimSpace(in.ConversationID); v != "" {
		st.ConversationID = v
	}

	if b.mode == ModeStateless {
		st.Transcript = append([]contractx.Message(nil), in.History...)
	}
	st.Append(contractx.Message{Role: contractx.RoleUser, Content: text, At: now})
	return st, nil
}

// Commit recomputes the derived stage and persists the state, so a stored
// stage is always consistent with the stored slots.
func (b *Boundary) Commit(ctx context.Context, st *statex.ConversationState) error {
	if st == nil {
		return statex.ErrNilState
	}
	st.RecomputeStage()
	st.Touch(b.now())
	if err := statex.SaveConversation(ctx, b.store, st); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}
