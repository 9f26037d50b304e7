package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	contractx "github.com/dmelendez/enerbot/agent/contract"
	"github.com/dmelendez/enerbot/agent/dispatch"
	"github.com/dmelendez/enerbot/agent/prompt"
	sessionx "github.com/dmelendez/enerbot/agent/session"
	statex "github.com/dmelendez/enerbot/agent/state"
	toolx "github.com/dmelendez/enerbot/agent/tool"
)

// Config tunes orchestration behavior. Defaults favor the production shape:
// one decide pass per turn, queue concurrent turns per contact, force a
// customer reply out of every successful decision.
type Config struct {
	MaxRetryAttempts   int           `envconfig:"MAX_RETRY_ATTEMPTS" split_words:"true" default:"3"`
	RetryBackoff       time.Duration `envconfig:"RETRY_BACKOFF" split_words:"true" default:"500ms"`
	ExponentialBackoff bool          `envconfig:"EXPONENTIAL_BACKOFF" split_words:"true" default:"true"`

	EnableHumanReview bool `envconfig:"ENABLE_HUMAN_REVIEW" split_words:"true" default:"false"`
	ForceSendReply    bool `envconfig:"FORCE_SEND_REPLY" split_words:"true" default:"true"`
	MultiRoundTools   bool `envconfig:"MULTI_ROUND_TOOLS" split_words:"true" default:"false"`
	MaxToolRounds     int  `envconfig:"MAX_TOOL_ROUNDS" split_words:"true" default:"3"`
	RejectBusyContact bool `envconfig:"REJECT_BUSY_CONTACT" split_words:"true" default:"false"`
	EnableReflection  bool `envconfig:"ENABLE_REFLECTION" split_words:"true" default:"false"`
}

// Recorder runs the post-conversation analysis pass. It is best effort: a
// failure is logged and never affects the customer-facing run.
type Recorder interface {
	Record(ctx context.Context, st *statex.ConversationState) error
}

// Deps are the engine's collaborators, injected explicitly.
type Deps struct {
	Boundary  *sessionx.Boundary
	Responder contractx.Responder
	Actions   *dispatch.Dispatcher
	Messenger contractx.Messenger
	Store     statex.Store
	Prompts   prompt.PromptSet
	Profile   *toolx.Profile
	Insights  Recorder
}

// Engine is the conversation orchestrator: a small state machine that
// alternates between a decide step (the generative collaborator) and an act
// step (the action dispatcher), then terminates in done or escalate.
type Engine struct {
	cfg       Config
	boundary  *sessionx.Boundary
	responder contractx.Responder
	actions   *dispatch.Dispatcher
	messenger contractx.Messenger
	store     statex.Store
	prompts   prompt.PromptSet
	apology   string
	insights  Recorder
	policy    RetryPolicy
	locks     *contactLocks
	metrics   Metrics
	now       func() time.Time
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Boundary == nil {
		return nil, fmt.Errorf("%w: session boundary is required", contractx.ErrConfiguration)
	}
	if deps.Responder == nil {
		return nil, fmt.Errorf("%w: responder is required", contractx.ErrConfiguration)
	}
	if deps.Actions == nil {
		return nil, fmt.Errorf("%w: action dispatcher is required", contractx.ErrConfiguration)
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("%w: memory store is required", contractx.ErrConfiguration)
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 3
	}

	apology := ""
	if deps.Profile != nil {
		apology = deps.Profile.Templates.Apology
	}
	return &Engine{
		cfg:       cfg,
		boundary:  deps.Boundary,
		responder: deps.Responder,
		actions:   deps.Actions,
		messenger: deps.Messenger,
		store:     deps.Store,
		prompts:   deps.Prompts,
		apology:   apology,
		insights:  deps.Insights,
		policy: RetryPolicy{
			MaxAttempts: cfg.MaxRetryAttempts,
			Backoff:     cfg.RetryBackoff,
			Exponential: cfg.ExponentialBackoff,
		},
		locks: newContactLocks(),
		now:   time.Now,
	}, nil
}

// Result is the outcome of one orchestration run.
type Result struct {
	RunID        string                   `json:"run_id"`
	ContactID    string                   `json:"contact_id"`
	Reply        string                   `json:"reply,omitempty"`
	Actions      []contractx.ActionResult `json:"actions,omitempty"`
	Stage        statex.Stage             `json:"stage"`
	Escalated    bool                     `json:"escalated"`
	ReviewReason string                   `json:"review_reason,omitempty"`
}

type phase int

const (
	phaseDecide phase = iota
	phaseAct
	phaseEscalate
	phaseDone
)

// Run processes one inbound customer turn to termination. Runs for the same
// contact are serialized; the state loaded at the start is persisted exactly
// once, when the run reaches a terminal phase.
func (e *Engine) Run(ctx context.Context, in sessionx.Inbound) (*Result, error) {
	contactID := strings.TrimSpace(in.ContactID)
	if contactID == "" {
		return nil, fmt.Errorf("%w: contact id is required", contractx.ErrValidation)
	}

	release, err := e.locks.Acquire(ctx, contactID, e.cfg.RejectBusyContact)
	if err != nil {
		return nil, err
	}
	defer release()

	st, err := e.boundary.Begin(ctx, in)
	if err != nil {
		return nil, err
	}
	st.RetryCount = 0
	st.LastError = ""

	res := &Result{RunID: uuid.NewString(), ContactID: contactID}
	logger := log.With().
		Str("component", "engine").
		Str("run_id", res.RunID).
		Str("contact_id", contactID).
		Logger()
	e.metrics.runs.Add(1)
	logger.Info().Str("stage", string(st.Stage)).Msg("run started")

	var pending []contractx.ActionRequest
	round := 0
	current := phaseDecide
	for {
		switch current {
		case phaseDecide:
			decision, derr := e.decide(ctx, st)
			if derr != nil {
				return e.fatal(ctx, st, res, derr, &logger)
			}
			st.Append(contractx.Message{
				Role:    contractx.RoleAssistant,
				Content: decision.Text,
				Actions: decision.Actions,
				At:      e.now(),
			})
			if decision.Text != "" {
				res.Reply = decision.Text
			}

			pending = decision.Actions
			if len(pending) == 0 && decision.Text != "" && e.cfg.ForceSendReply {
				// The collaborator answered in plain text without requesting
				// delivery; synthesize the send so the customer always hears
				// back.
				pending = []contractx.ActionRequest{{
					ID:   "forced-" + uuid.NewString(),
					Name: dispatch.ActionSendMessage,
					Args: map[string]any{"message": decision.Text},
				}}
				logger.Debug().Msg("synthesized send for text-only decision")
			}
			if len(pending) == 0 {
				current = phaseDone
				continue
			}
			current = phaseAct

		case phaseAct:
			outcome := e.act(ctx, st, pending, res, &logger)
			if outcome == phaseDecide {
				round++
				if !e.cfg.MultiRoundTools || round >= e.cfg.MaxToolRounds {
					outcome = phaseDone
				}
			}
			current = outcome

		case phaseEscalate:
			return e.escalate(ctx, st, res, &logger)

		case phaseDone:
			return e.finish(ctx, st, res, &logger)
		}
	}
}

func (e *Engine) decide(ctx context.Context, st *statex.ConversationState) (contractx.DecisionResponse, error) {
	transcript := make([]contractx.Message, 0, len(st.Transcript)+1)
	if e.prompts.System != "" {
		transcript = append(transcript, contractx.Message{Role: contractx.RoleSystem, Content: e.prompts.System})
	}
	transcript = append(transcript, st.Transcript...)

	var resp contractx.DecisionResponse
	attempts := 0
	err := e.policy.Do(ctx, "decide", func(ctx context.Context) error {
		attempts++
		r, derr := e.responder.Decide(ctx, contractx.DecisionRequest{
			Transcript: transcript,
			Actions:    e.actions.Schemas(),
		})
		if derr != nil {
			st.RetryCount = attempts
			st.LastError = derr.Error()
			return derr
		}
		st.RetryCount = 0
		st.LastError = ""
		resp = r
		return nil
	})
	return resp, err
}

// act executes one batch of requested actions in order. The batch stops at
// the first terminal failure or withheld action; everything behind it is
// reported as not_attempted. A batch that delivered the customer reply ends
// the turn; a pure tool batch is a candidate for another decide round.
func (e *Engine) act(ctx context.Context, st *statex.ConversationState, pending []contractx.ActionRequest, res *Result, logger *zerolog.Logger) phase {
	replied := false
	for i, req := range pending {
		if e.cfg.EnableHumanReview && e.actions.IsCommit(req.Name) && !readyForCommit(st.Slots) {
			st.PendingHumanReview = true
			st.ReviewReason = fmt.Sprintf("action %s withheld: contact not fully qualified", req.Name)
			res.Actions = append(res.Actions, contractx.ActionResult{
				ID:     req.ID,
				Name:   req.Name,
				Status: contractx.ActionNotAttempted,
				Error:  "pending human review",
			})
			appendNotAttempted(res, pending[i+1:])
			logger.Info().Str("action", req.Name).Msg("commit action withheld for human review")
			return phaseEscalate
		}

		inv := dispatch.Invocation{
			ContactID:      st.ContactID,
			ConversationID: st.ConversationID,
			Args:           req.Args,
			State:          st,
		}
		var payload any
		err := e.policy.Do(ctx, "act:"+req.Name, func(ctx context.Context) error {
			p, derr := e.actions.Dispatch(ctx, inv, req.Name)
			if derr != nil {
				return derr
			}
			payload = p
			return nil
		})
		if err != nil {
			e.metrics.actionsFailed.Add(1)
			st.LastError = err.Error()
			res.Actions = append(res.Actions, contractx.ActionResult{
				ID:     req.ID,
				Name:   req.Name,
				Status: contractx.ActionFailed,
				Error:  err.Error(),
			})
			appendNotAttempted(res, pending[i+1:])
			st.Append(toolMessage(req, map[string]any{"error": err.Error()}, e.now()))
			logger.Error().Str("action", req.Name).Err(err).Msg("action failed")

			if req.Name == dispatch.ActionSendMessage {
				// Customer-facing delivery is the one failure a human must
				// see. Apologize on a best-effort channel and park the
				// conversation for review.
				st.PendingHumanReview = true
				st.ReviewReason = "customer delivery failed after retries"
				e.sendApology(ctx, st, logger)
				return phaseEscalate
			}
			return phaseDone
		}

		e.metrics.actionsExecuted.Add(1)
		res.Actions = append(res.Actions, contractx.ActionResult{
			ID:      req.ID,
			Name:    req.Name,
			Status:  contractx.ActionSucceeded,
			Payload: payload,
		})
		st.Append(toolMessage(req, payload, e.now()))
		if req.Name == dispatch.ActionSendMessage {
			e.metrics.repliesSent.Add(1)
			replied = true
			if msg, ok := req.Args["message"].(string); ok && msg != "" {
				res.Reply = msg
			}
		}
	}
	if replied {
		return phaseDone
	}
	return phaseDecide
}

func (e *Engine) finish(ctx context.Context, st *statex.ConversationState, res *Result, logger *zerolog.Logger) (*Result, error) {
	if err := e.boundary.Commit(ctx, st); err != nil {
		logger.Error().Err(err).Msg("persisting conversation failed")
		return res, err
	}
	res.Stage = st.Stage
	logger.Info().Str("stage", string(st.Stage)).Int("actions", len(res.Actions)).Msg("run completed")

	if e.cfg.EnableReflection && e.insights != nil {
		if err := e.insights.Record(ctx, st); err != nil {
			logger.Warn().Err(err).Msg("reflection pass failed")
		}
	}
	return res, nil
}

func (e *Engine) escalate(ctx context.Context, st *statex.ConversationState, res *Result, logger *zerolog.Logger) (*Result, error) {
	e.metrics.escalations.Add(1)
	res.Escalated = true
	res.ReviewReason = st.ReviewReason
	if err := e.boundary.Commit(ctx, st); err != nil {
		logger.Error().Err(err).Msg("persisting escalated conversation failed")
		return res, err
	}
	res.Stage = st.Stage
	logger.Warn().Str("reason", st.ReviewReason).Msg("run escalated to human review")
	return res, nil
}

// fatal handles a decide step that could not produce a decision at all. The
// customer gets a best-effort apology, the failure is recorded on the state,
// and the error surfaces to the caller.
func (e *Engine) fatal(ctx context.Context, st *statex.ConversationState, res *Result, cause error, logger *zerolog.Logger) (*Result, error) {
	e.metrics.fatalRuns.Add(1)
	st.LastError = cause.Error()
	e.sendApology(ctx, st, logger)
	if err := e.boundary.Commit(ctx, st); err != nil {
		logger.Error().Err(err).Msg("persisting failed conversation failed")
	}
	res.Stage = st.Stage
	logger.Error().Err(cause).Msg("run failed")
	return res, cause
}

func (e *Engine) sendApology(ctx context.Context, st *statex.ConversationState, logger *zerolog.Logger) {
	if e.messenger == nil || e.apology == "" {
		return
	}
	if _, err := e.messenger.Send(ctx, st.ContactID, e.apology, st.ConversationID); err != nil {
		logger.Warn().Err(err).Msg("fallback apology delivery failed")
		return
	}
	e.metrics.repliesSent.Add(1)
}

// Metrics returns the live counters for the admin surface.
func (e *Engine) Metrics() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// readyForCommit reports whether the contact is qualified enough for a
// commit-type action to run unreviewed: interest confirmed, phone captured,
// load computed.
func readyForCommit(s statex.Slots) bool {
	return s.ConsultationInterest != nil && *s.ConsultationInterest &&
		s.Phone != nil && s.ComputedLoadWatts != nil
}

func appendNotAttempted(res *Result, rest []contractx.ActionRequest) {
	for _, req := range rest {
		res.Actions = append(res.Actions, contractx.ActionResult{
			ID:     req.ID,
			Name:   req.Name,
			Status: contractx.ActionNotAttempted,
		})
	}
}

func toolMessage(req contractx.ActionRequest, payload any, at time.Time) contractx.Message {
	content, err := json.Marshal(payload)
	if err != nil {
		content = []byte(`{}`)
	}
	return contractx.Message{
		Role:     contractx.RoleTool,
		Content:  string(content),
		ActionID: req.ID,
		At:       at,
	}
}
