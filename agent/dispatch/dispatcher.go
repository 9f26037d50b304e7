package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/dmelendez/enerbot/agent/contract"
	statex "github.com/dmelendez/enerbot/agent/state"
)

// Invocation is everything a handler may need: the run identity, the raw
// arguments, and the in-run conversation state (so extraction actions can
// patch slots without a store round-trip).
type Invocation struct {
	ContactID      string
	ConversationID string
	Args           map[string]any
	State          *statex.ConversationState
}

// Handler executes one action. It runs exactly once per dispatch; retry
// decisions belong to the caller so side effects are never silently
// duplicated here.
type Handler func(ctx context.Context, inv Invocation) (any, error)

// Action describes a dispatchable capability. Commit marks booking-type
// actions that the human-review gate may withhold.
type Action struct {
	Name        string
	Description string
	Parameters  map[string]any
	Commit      bool
}

type registered struct {
	action  Action
	handler Handler
}

// Dispatcher resolves action requests against a fixed registry of adapters.
type Dispatcher struct {
	actions map[string]registered
}

func New() *Dispatcher {
	return &Dispatcher{actions: make(map[string]registered)}
}

func (d *Dispatcher) Register(action Action, handler Handler) error {
	name := strings.TrimSpace(action.Name)
	if name == "" {
		return fmt.Errorf("%w: action name is empty", contractx.ErrValidation)
	}
	if handler == nil {
		return fmt.Errorf("%w: handler for %s is nil", contractx.ErrValidation, name)
	}
	if _, exists := d.actions[name]; exists {
		return fmt.Errorf("%w: action %s registered twice", contractx.ErrValidation, name)
	}
	d.actions[name] = registered{action: action, handler: handler}
	return nil
}

func (d *Dispatcher) MustRegister(action Action, handler Handler) {
	if err := d.Register(action, handler); err != nil {
		panic(err)
	}
}

// IsCommit reports whether an action is a booking/commit-type action subject
// to the human-review gate.
func (d *Dispatcher) IsCommit(name string) bool {
	reg, ok := d.actions[name]
	return ok && reg.action.Commit
}

// Schemas returns the tool schema advertised to the decision step, sorted by
// name so the collaborator sees a stable ordering.
func (d *Dispatcher) Schemas() []contractx.ActionSchema {
	schemas := make([]contractx.ActionSchema, 0, len(d.actions))
	for _, reg := range d.actions {
		schemas = append(schemas, contractx.ActionSchema{
			Name:        reg.action.Name,
			Description: reg.action.Description,
			Parameters:  reg.action.Parameters,
		})
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

// Dispatch resolves and invokes one action. The adapter is invoked at most
// once; an unknown name fails with ErrUnknownAction, never silently.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation, name string) (any, error) {
	reg, ok := d.actions[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", contractx.ErrUnknownAction, name)
	}

	log.Debug().
		Str("component", "dispatcher").
		Str("action", reg.action.Name).
		Str("contact_id", inv.ContactID).
		Msg("dispatching action")

	payload, err := reg.handler(ctx, inv)
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", reg.action.Name, err)
	}
	return payload, nil
}
