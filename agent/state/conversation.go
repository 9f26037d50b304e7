package state

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	contractx "github.com/dmelendez/enerbot/agent/contract"
)

// Stage is a coarse, derived label for conversation progress. It is always
// recomputed from Slots and never set directly by the decision step.
type Stage string

const (
	StageGreeting      Stage = "greeting"
	StageDiscovery     Stage = "discovery"
	StageQualification Stage = "qualification"
	StageScheduling    Stage = "scheduling"
	StageCompleted     Stage = "completed"
)

// Slots are the typed, independently-nullable fields collected over the
// conversation. A nil pointer means the slot was never extracted; later, more
// specific extraction may overwrite an earlier value.
type Slots struct {
	HousingType           *string  `json:"housing_type,omitempty"` // "casa" | "apartamento"
	Equipment             []string `json:"equipment,omitempty"`
	ComputedLoadWatts     *float64 `json:"computed_load_watts,omitempty"`
	BatteryRecommendation *string  `json:"battery_recommendation,omitempty"`
	ConsultationInterest  *bool    `json:"consultation_interest,omitempty"`
	Name                  *string  `json:"name,omitempty"`
	Phone                 *string  `json:"phone,omitempty"`
	Email                 *string  `json:"email,omitempty"`
}

// ClassifyStage derives the conversation stage from slots. Rules are
// evaluated in fixed order, first match wins, so two states with identical
// slots always classify identically.
func ClassifyStage(s Slots) Stage {
	switch {
	case s.HousingType == nil:
		return StageDiscovery
	case s.ComputedLoadWatts == nil:
		return StageQualification
	case s.ConsultationInterest != nil && *s.ConsultationInterest && s.Phone == nil:
		return StageScheduling
	case s.Phone != nil:
		return StageCompleted
	default:
		return StageGreeting
	}
}

// ConversationState is the unit the orchestration engine operates on. It is
// reconstructed from the memory store on every run, mutated only inside that
// run, and persisted when the run terminates.
type ConversationState struct {
	ContactID      string `json:"contact_id"`
	ConversationID string `json:"conversation_id,omitempty"`

	Transcript []contractx.Message `json:"transcript,omitempty"`
	Slots      Slots               `json:"slots"`
	Stage      Stage               `json:"stage"`

	RetryCount         int    `json:"retry_count"`
	LastError          string `json:"last_error,omitempty"`
	PendingHumanReview bool   `json:"pending_human_review"`
	ReviewReason       string `json:"review_reason,omitempty"`
	FlagReason         string `json:"flag_reason,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

func NewConversationState(contactID, conversationID string, now time.Time) *ConversationState {
	return &ConversationState{
		ContactID:      contactID,
		ConversationID: conversationID,
		Stage:          StageGreeting,
		UpdatedAt:      now.UTC(),
	}
}

func (c *ConversationState) Touch(now time.Time) {
	c.UpdatedAt = now.UTC()
}

// Append adds a message to the transcript. Transcript is append-only within
// a run; the full log is what the decision step sees.
func (c *ConversationState) Append(msg contractx.Message) {
	c.Transcript = append(c.Transcript, msg)
}

// RecomputeStage refreshes the derived stage from the current slots.
func (c *ConversationState) RecomputeStage() {
	c.Stage = ClassifyStage(c.Slots)
}

func (c *ConversationState) Validate() error {
	if strings.TrimSpace(c.ContactID) == "" {
		return fmt.Errorf("%w: contact id is empty", contractx.ErrValidation)
	}
	if c.RetryCount < 0 {
		return fmt.Errorf("%w: retry count is negative", contractx.ErrValidation)
	}
	return nil
}

// Slot patch keys accepted from the extraction action. The model speaks this
// vocabulary; anything else is a validation failure, not a silent drop.
const (
	SlotHousingType          = "housing_type"
	SlotEquipment            = "equipment_list"
	SlotComputedLoad         = "total_consumption_watts"
	SlotBatteryRec           = "battery_recommendation"
	SlotConsultationInterest = "interested_in_consultation"
	SlotName                 = "customer_name"
	SlotPhone                = "customer_phone"
	SlotEmail                = "customer_email"
)

// ApplySlotPatch merges extracted values into the slots. Keys are applied
// independently; an unknown key fails the whole patch.
func (c *ConversationState) ApplySlotPatch(patch map[string]any) error {
	for key, raw := range patch {
		if raw == nil {
			continue
		}
		switch key {
		case SlotHousingType:
			v, err := stringValue(key, raw)
			if err != nil {
				return err
			}
			c.Slots.HousingType = &v
		case SlotEquipment:
			v, err := stringListValue(key, raw)
			if err != nil {
				return err
			}
			c.Slots.Equipment = v
		case SlotComputedLoad:
			v, err := floatValue(key, raw)
			if err != nil {
				return err
			}
			c.Slots.ComputedLoadWatts = &v
		case SlotBatteryRec:
			v, err := stringValue(key, raw)
			if err != nil {
				return err
			}
			c.Slots.BatteryRecommendation = &v
		case SlotConsultationInterest:
			v, err := boolValue(key, raw)
			if err != nil {
				return err
			}
			c.Slots.ConsultationInterest = &v
		case SlotName:
			v, err := stringValue(key, raw)
			if err != nil {
				return err
			}
			c.Slots.Name = &v
		case SlotPhone:
			v, err := stringValue(key, raw)
			if err != nil {
				return err
			}
			c.Slots.Phone = &v
		case SlotEmail:
			v, err := stringValue(key, raw)
			if err != nil {
				return err
			}
			c.Slots.Email = &v
		default:
			return fmt.Errorf("%w: unknown slot %q", contractx.ErrValidation, key)
		}
	}
	return nil
}

func stringValue(key string, raw any) (string, error) {
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: slot %s must be a string", contractx.ErrValidation, key)
	}
	return strings.TrimSpace(s), nil
}

func stringListValue(key string, raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: slot %s must be a list of strings", contractx.ErrValidation, key)
			}
			out = append(out, strings.TrimSpace(s))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: slot %s must be a list of strings", contractx.ErrValidation, key)
	}
}

func floatValue(key string, raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: slot %s is not numeric", contractx.ErrValidation, key)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: slot %s is not numeric", contractx.ErrValidation, key)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: slot %s must be numeric", contractx.ErrValidation, key)
	}
}

func boolValue(key string, raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("%w: slot %s is not boolean", contractx.ErrValidation, key)
		}
		return b, nil
	default:
		return false, fmt.Errorf("%w: slot %s must be boolean", contractx.ErrValidation, key)
	}
}
