package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/rs/zerolog/log"

	contractx "github.com/dmelendez/enerbot/agent/contract"
	"github.com/dmelendez/enerbot/agent/llm"
	statex "github.com/dmelendez/enerbot/agent/state"
)

// Record is the distilled reading of one conversation, produced by the
// reflection pass and stored alongside (never inside) the conversation
// state.
type Record struct {
	Sentiment      string    `json:"sentiment"`
	KeyTopics      []string  `json:"key_topics"`
	PainPoints     []string  `json:"pain_points,omitempty"`
	Opportunities  []string  `json:"opportunities,omitempty"`
	Summary        string    `json:"summary"`
	NextBestAction string    `json:"next_best_action"`
	AnalyzedAt     time.Time `json:"analyzed_at"`
}

// Analyzer runs the reflection prompt over a finished turn. It shares the
// chat client with the decision step but may use a cheaper model.
type Analyzer struct {
	client      openai.Client
	model       string
	temperature float64
	prompt      string
	store       statex.Store
	timeout     time.Duration
	now         func() time.Time
}

func NewAnalyzer(cfg llm.Config, store statex.Store, reflectionPrompt string) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: insight store is nil", contractx.ErrConfiguration)
	}
	if strings.TrimSpace(reflectionPrompt) == "" {
		return nil, fmt.Errorf("%w: reflection prompt is empty", contractx.ErrConfiguration)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Analyzer{
		client:      llm.NewClient(cfg),
		model:       cfg.ReflectionModelName(),
		temperature: cfg.ReflectionTemperature,
		prompt:      reflectionPrompt,
		store:       store,
		timeout:     timeout,
		now:         time.Now,
	}, nil
}

// Record analyzes the conversation and persists the result in the insights
// namespace. Callers treat the whole pass as best effort.
func (a *Analyzer) Record(ctx context.Context, st *statex.ConversationState) error {
	if st == nil {
		return statex.ErrNilState
	}
	rec, err := a.Analyze(ctx, st)
	if err != nil {
		return err
	}
	if err := a.store.Save(ctx, statex.NamespaceInsights, st.ContactID, rec); err != nil {
		return fmt.Errorf("save insights: %w", err)
	}
	log.Debug().
		Str("component", "insight").
		Str("contact_id", st.ContactID).
		Str("sentiment", rec.Sentiment).
		Msg("reflection recorded")
	return nil
}

// Analyze asks the model for a strict-JSON reading of the transcript.
func (a *Analyzer) Analyze(ctx context.Context, st *statex.ConversationState) (*Record, error) {
	dialogue := renderDialogue(st.Transcript)
	if dialogue == "" {
		return nil, fmt.Errorf("%w: transcript has no dialogue to analyze", contractx.ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	completion, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(a.model),
		Temperature: openai.Float(a.temperature),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(a.prompt),
			openai.UserMessage(dialogue),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("reflection call: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: reflection returned no choices", contractx.ErrValidation)
	}

	var rec Record
	raw := stripFences(completion.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("%w: reflection output is not valid JSON: %v", contractx.ErrValidation, err)
	}
	rec.AnalyzedAt = a.now().UTC()
	return &rec, nil
}

// renderDialogue flattens the customer-visible turns. Tool results and
// system prompts are noise for sentiment reading.
func renderDialogue(transcript []contractx.Message) string {
	var b strings.Builder
	for _, msg := range transcript {
		if msg.Content == "" {
			continue
		}
		switch msg.Role {
		case contractx.RoleUser:
			b.WriteString("Cliente: ")
		case contractx.RoleAssistant:
			b.WriteString("Agente: ")
		default:
			continue
		}
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}
