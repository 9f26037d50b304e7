package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	contractx "github.com/dmelendez/enerbot/agent/contract"
)

// NewClient builds an OpenAI-compatible chat client. BaseURL may point at any
// OpenAI-compatible gateway.
func NewClient(cfg Config) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
	}
	if trimmed := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed))
	}
	return openai.NewClient(opts...)
}

// Responder implements the generative-response collaborator on the chat
// completions API with function calling.
type Responder struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int64
	timeout     time.Duration
}

func NewResponder(cfg Config) (*Responder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Responder{
		client:      NewClient(cfg),
		model:       strings.TrimSpace(cfg.Model),
		temperature: cfg.Temperature,
		maxTokens:   int64(cfg.MaxCompletionToken),
		timeout:     timeout,
	}, nil
}

func (r *Responder) Decide(ctx context.Context, req contractx.DecisionRequest) (contractx.DecisionResponse, error) {
	if len(req.Transcript) == 0 {
		return contractx.DecisionResponse{}, fmt.Errorf("%w: transcript is empty", contractx.ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(r.model),
		Messages:    toChatMessages(req.Transcript),
		Temperature: openai.Float(r.temperature),
		MaxTokens:   openai.Int(r.maxTokens),
	}
	if tools := toTools(req.Actions); len(tools) > 0 {
		params.Tools = tools
	}

	completion, err := r.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return contractx.DecisionResponse{}, classifyErr(err)
	}
	if len(completion.Choices) == 0 {
		return contractx.DecisionResponse{}, fmt.Errorf("%w: completion has no choices", contractx.ErrValidation)
	}

	msg := completion.Choices[0].Message
	resp := contractx.DecisionResponse{Text: strings.TrimSpace(msg.Content)}
	for _, call := range msg.ToolCalls {
		name := strings.TrimSpace(call.Function.Name)
		if name == "" {
			return contractx.DecisionResponse{}, fmt.Errorf("%w: tool call name is empty", contractx.ErrValidation)
		}
		args := map[string]any{}
		if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return contractx.DecisionResponse{}, fmt.Errorf("%w: invalid arguments for action %s: %v", contractx.ErrValidation, name, err)
			}
		}
		resp.Actions = append(resp.Actions, contractx.ActionRequest{
			ID:   call.ID,
			Name: name,
			Args: args,
		})
	}
	return resp, nil
}

func toChatMessages(transcript []contractx.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(transcript))
	for _, msg := range transcript {
		switch msg.Role {
		case contractx.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case contractx.RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case contractx.RoleAssistant:
			if len(msg.Actions) == 0 {
				out = append(out, openai.AssistantMessage(msg.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			for _, action := range msg.Actions {
				argsJSON, err := json.Marshal(action.Args)
				if err != nil {
					argsJSON = []byte("{}")
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: action.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      action.Name,
						Arguments: string(argsJSON),
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case contractx.RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ActionID))
		}
	}
	return out
}

func toTools(schemas []contractx.ActionSchema) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(schemas))
	for _, s := range schemas {
		tools = append(tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        s.Name,
				Description: openai.String(s.Description),
				Parameters:  openai.FunctionParameters(s.Parameters),
			},
		})
	}
	return tools
}

// classifyErr maps provider failures onto the engine's taxonomy: rate limits,
// timeouts, and 5xx are retryable; everything the API rejected outright is
// not.
func classifyErr(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%w: model call failed with status=%d", contractx.ErrTransient, apiErr.StatusCode)
		default:
			return fmt.Errorf("%w: model call rejected with status=%d", contractx.ErrValidation, apiErr.StatusCode)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: model call timed out", contractx.ErrTransient)
	}
	return fmt.Errorf("%w: model call transport error: %v", contractx.ErrTransient, err)
}
