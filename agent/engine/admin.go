package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/dmelendez/enerbot/agent/contract"
	statex "github.com/dmelendez/enerbot/agent/state"
)

// ConversationSummary is the list row for the review inbox.
type ConversationSummary struct {
	ContactID          string       `json:"contact_id"`
	Stage              statex.Stage `json:"stage"`
	PendingHumanReview bool         `json:"pending_human_review"`
	ReviewReason       string       `json:"review_reason,omitempty"`
	FlagReason         string       `json:"flag_reason,omitempty"`
	LastError          string       `json:"last_error,omitempty"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// ConversationDetail is the full operator view of one contact: the state,
// the latest reflection record if any, and the manual flag if any.
type ConversationDetail struct {
	State    *statex.ConversationState `json:"state"`
	Insights map[string]any            `json:"insights,omitempty"`
	Flag     *FlagRecord               `json:"flag,omitempty"`
}

// FlagRecord is a manual operator annotation. It never changes slots or
// stage.
type FlagRecord struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// ListConversations returns up to limit conversations, most recently updated
// first. status filters: "review" keeps only conversations pending human
// review, a stage name keeps that stage, empty keeps everything.
func (e *Engine) ListConversations(ctx context.Context, limit int, status string) ([]ConversationSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := e.store.List(ctx, statex.NamespaceConversation, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	out := make([]ConversationSummary, 0, len(ids))
	for _, id := range ids {
		st, err := statex.LoadConversation(ctx, e.store, id)
		if err != nil {
			if errors.Is(err, statex.ErrMemoryNotFound) {
				continue
			}
			return nil, fmt.Errorf("load conversation %s: %w", id, err)
		}
		if !matchesStatus(st, status) {
			continue
		}
		out = append(out, ConversationSummary{
			ContactID:          st.ContactID,
			Stage:              st.Stage,
			PendingHumanReview: st.PendingHumanReview,
			ReviewReason:       st.ReviewReason,
			FlagReason:         st.FlagReason,
			LastError:          st.LastError,
			UpdatedAt:          st.UpdatedAt,
		})
	}
	return out, nil
}

func matchesStatus(st *statex.ConversationState, status string) bool {
	switch strings.TrimSpace(strings.ToLower(status)) {
	case "":
		return true
	case "review":
		return st.PendingHumanReview
	default:
		return string(st.Stage) == strings.TrimSpace(strings.ToLower(status))
	}
}

// ConversationDetail loads one contact's state together with its reflection
// record and manual flag. Missing insights or flag are not errors.
func (e *Engine) ConversationDetail(ctx context.Context, contactID string) (*ConversationDetail, error) {
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return nil, fmt.Errorf("%w: contact id is required", contractx.ErrValidation)
	}
	st, err := statex.LoadConversation(ctx, e.store, contactID)
	if err != nil {
		return nil, err
	}
	detail := &ConversationDetail{State: st}

	var insights map[string]any
	if err := e.store.Load(ctx, statex.NamespaceInsights, contactID, &insights); err == nil {
		detail.Insights = insights
	} else if !errors.Is(err, statex.ErrMemoryNotFound) {
		return nil, fmt.Errorf("load insights %s: %w", contactID, err)
	}

	var flag FlagRecord
	if err := e.store.Load(ctx, statex.NamespaceFlags, contactID, &flag); err == nil {
		detail.Flag = &flag
	} else if !errors.Is(err, statex.ErrMemoryNotFound) {
		return nil, fmt.Errorf("load flag %s: %w", contactID, err)
	}
	return detail, nil
}

// Flag annotates a conversation for operator follow-up. Slots and stage are
// untouched; only the annotation is written.
func (e *Engine) Flag(ctx context.Context, contactID, reason string) error {
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return fmt.Errorf("%w: contact id is required", contractx.ErrValidation)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("%w: flag reason is required", contractx.ErrValidation)
	}

	release, err := e.locks.Acquire(ctx, contactID, false)
	if err != nil {
		return err
	}
	defer release()

	st, err := statex.LoadConversation(ctx, e.store, contactID)
	if err != nil {
		return err
	}
	st.FlagReason = reason
	if err := e.boundary.Commit(ctx, st); err != nil {
		return err
	}
	return e.store.Save(ctx, statex.NamespaceFlags, contactID, FlagRecord{Reason: reason, At: e.now()})
}
