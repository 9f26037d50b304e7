package session

import (
	"context"
	"errors"
	"testing"

	contractx "github.com/dmelendez/enerbot/agent/contract"
	statex "github.com/dmelendez/enerbot/agent/state"
)

func TestNewBoundaryValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewBoundary(nil, ModeDurable); !errors.Is(err, contractx.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for nil store, got %v", err)
	}
	if _, err := NewBoundary(statex.NewMemoryStore(), Mode("weird")); !errors.Is(err, contractx.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for unknown mode, got %v", err)
	}

	b, err := NewBoundary(statex.NewMemoryStore(), "")
	if err != nil {
		t.Fatalf("NewBoundary() error = %v", err)
	}
	if b.Mode() != ModeDurable {
		t.Fatalf("empty mode should default to durable, got %s", b.Mode())
	}
}

func TestBeginValidatesInbound(t *testing.T) {
	t.Parallel()

	b, err := NewBoundary(statex.NewMemoryStore(), ModeDurable)
	if err != nil {
		t.Fatalf("NewBoundary() error = %v", err)
	}

	if _, err := b.Begin(context.Background(), Inbound{ContactID: " ", Text: "hola"}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := b.Begin(context.Background(), Inbound{ContactID: "c-1", Text: "  "}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestBeginCreatesFreshState(t *testing.T) {
	t.Parallel()

	b, err := NewBoundary(statex.NewMemoryStore(), ModeDurable)
	if err != nil {
		t.Fatalf("NewBoundary() error = %v", err)
	}

	st, err := b.Begin(context.Background(), Inbound{ContactID: "c-1", ConversationID: "conv-1", Text: "hola"})
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if st.Stage != statex.StageGreeting {
		t.Fatalf("fresh stage = %s, want %s", st.Stage, statex.StageGreeting)
	}
	if len(st.Transcript) != 1 || st.Transcript[0].Role != contractx.RoleUser || st.Transcript[0].Content != "hola" {
		t.Fatalf("inbound turn not appended: %+v", st.Transcript)
	}
}

func TestDurableModeAccumulatesTranscript(t *testing.T) {
	t.Parallel()

	store := statex.NewMemoryStore()
	b, err := NewBoundary(store, ModeDurable)
	if err != nil {
		t.Fatalf("NewBoundary() error = %v", err)
	}
	ctx := context.Background()

	st, err := b.Begin(ctx, Inbound{ContactID: "c-1", Text: "primer turno"})
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	st.Append(contractx.Message{Role: contractx.RoleAssistant, Content: "respuesta"})
	if err := b.Commit(ctx, st); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	st2, err := b.Begin(ctx, Inbound{ContactID: "c-1", Text: "segundo turno"})
	if err != nil {
		t.Fatalf("second Begin() error = %v", err)
	}
	if len(st2.Transcript) != 3 {
		t.Fatalf("transcript length = %d, want 3", len(st2.Transcript))
	}
}

func TestStatelessModeUsesCallerHistory(t *testing.T) {
	t.Parallel()

	store := statex.NewMemoryStore()
	b, err := NewBoundary(store, ModeStateless)
	if err != nil {
		t.Fatalf("NewBoundary() error = %v", err)
	}
	ctx := context.Background()

	st, err := b.Begin(ctx, Inbound{ContactID: "c-1", Text: "primer turno"})
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	st.Append(contractx.Message{Role: contractx.RoleAssistant, Content: "respuesta"})
	if err := b.Commit(ctx, st); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	history := []contractx.Message{
		{Role: contractx.RoleUser, Content: "primer turno"},
		{Role: contractx.RoleAssistant, Content: "respuesta"},
	}
	st2, err := b.Begin(ctx, Inbound{ContactID: "c-1", Text: "segundo turno", History: history})
	if err != nil {
		t.Fatalf("second Begin() error = %v", err)
	}
	if len(st2.Transcript) != 3 {
		t.Fatalf("transcript length = %d, want caller history + inbound", len(st2.Transcript))
	}
	if st2.Transcript[2].Content != "segundo turno" {
		t.Fatalf("inbound turn not last: %+v", st2.Transcript)
	}
}

// The two session modes must agree on slots and stage for the same logical
// history.
func TestModesAgreeOnSlotsAndStage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	patch := map[string]any{
		statex.SlotHousingType:          "casa",
		statex.SlotComputedLoad:         450.0,
		statex.SlotConsultationInterest: true,
	}

	runTurns := func(mode Mode) *statex.ConversationState {
		store := statex.NewMemoryStore()
		b, err := NewBoundary(store, mode)
		if err != nil {
			t.Fatalf("NewBoundary(%s) error = %v", mode, err)
		}

		st, err := b.Begin(ctx, Inbound{ContactID: "c-1", Text: "hola"})
		if err != nil {
			t.Fatalf("Begin() error = %v", err)
		}
		if err := st.ApplySlotPatch(patch); err != nil {
			t.Fatalf("patch failed: %v", err)
		}
		if err := b.Commit(ctx, st); err != nil {
			t.Fatalf("Commit() error = %v", err)
		}

		st2, err := b.Begin(ctx, Inbound{ContactID: "c-1", Text: "sigo aquí"})
		if err != nil {
			t.Fatalf("second Begin() error = %v", err)
		}
		if err := b.Commit(ctx, st2); err != nil {
			t.Fatalf("second Commit() error = %v", err)
		}
		final, err := statex.LoadConversation(ctx, store, "c-1")
		if err != nil {
			t.Fatalf("LoadConversation() error = %v", err)
		}
		return final
	}

	durable := runTurns(ModeDurable)
	stateless := runTurns(ModeStateless)

	if durable.Stage != stateless.Stage {
		t.Fatalf("stage mismatch: durable=%s stateless=%s", durable.Stage, stateless.Stage)
	}
	if *durable.Slots.HousingType != *stateless.Slots.HousingType {
		t.Fatal("housing slot mismatch between modes")
	}
	if *durable.Slots.ComputedLoadWatts != *stateless.Slots.ComputedLoadWatts {
		t.Fatal("load slot mismatch between modes")
	}
	if durable.Stage != statex.StageScheduling {
		t.Fatalf("stage = %s, want %s", durable.Stage, statex.StageScheduling)
	}
}
