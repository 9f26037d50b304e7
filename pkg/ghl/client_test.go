package ghl

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	contractx "github.com/dmelendez/enerbot/agent/contract"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		BaseURL:    server.URL,
		APIKey:     "key",
		CalendarID: "cal-1",
		APIVersion: "2021-07-28",
		Timeout:    5 * time.Second,
	}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func TestSendMessage(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth, gotVersion string
	var gotBody map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotVersion = r.Header.Get("Version")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		writeTestJSON(w, http.StatusCreated, map[string]string{"messageId": "m-1", "conversationId": "conv-1"})
	})

	messageID, err := client.Send(context.Background(), "c-1", "hola", "conv-1")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if messageID != "m-1" {
		t.Fatalf("messageID = %q", messageID)
	}
	if gotPath != "POST /conversations/messages" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer key" || gotVersion != "2021-07-28" {
		t.Fatalf("headers = %q / %q", gotAuth, gotVersion)
	}
	if gotBody["contactId"] != "c-1" || gotBody["message"] != "hola" {
		t.Fatalf("body = %+v", gotBody)
	}
}

func TestSendValidatesInput(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	if _, err := client.Send(context.Background(), " ", "hola", ""); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := client.Send(context.Background(), "c-1", "  ", ""); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestGetContact(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/contacts/c-1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		writeTestJSON(w, http.StatusOK, map[string]any{
			"contact": map[string]any{
				"id":    "c-1",
				"name":  "Ana Rivera",
				"phone": "787-555-0101",
				"tags":  []string{"lead"},
			},
		})
	})

	info, err := client.Get(context.Background(), "c-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if info.Name != "Ana Rivera" || info.Phone != "787-555-0101" {
		t.Fatalf("info = %+v", info)
	}
}

func TestStatusClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status        int
		wantTransient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusRequestTimeout, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
	}

	for _, tc := range cases {
		status := tc.status
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})
		_, err := client.Get(context.Background(), "c-1")
		if err == nil {
			t.Fatalf("status %d: expected error", status)
		}
		if got := errors.Is(err, contractx.ErrTransient); got != tc.wantTransient {
			t.Fatalf("status %d: transient = %v, want %v (%v)", status, got, tc.wantTransient, err)
		}
		if !tc.wantTransient && !errors.Is(err, contractx.ErrValidation) {
			t.Fatalf("status %d: expected ErrValidation, got %v", status, err)
		}
	}
}

func TestFreeSlotsParsesDateMap(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{
			"2026-09-01": map[string]any{"slots": []string{"10:00", "11:00"}},
			"2026-09-02": map[string]any{"slots": []string{"09:30"}},
			"traceId":    "abc",
		})
	})

	slots, err := client.FreeSlots(context.Background(), 7)
	if err != nil {
		t.Fatalf("FreeSlots() error = %v", err)
	}
	if len(slots) != 3 {
		t.Fatalf("slots = %+v", slots)
	}
	for _, slot := range slots {
		if !slot.Available || slot.Date == "" || slot.Time == "" {
			t.Fatalf("bad slot: %+v", slot)
		}
	}
}

func TestBookAppointment(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/calendars/events/appointments" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode: %v", err)
		}
		writeTestJSON(w, http.StatusCreated, map[string]string{"id": "appt-9"})
	})

	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.FixedZone("AST", -4*3600))
	id, err := client.Book(context.Background(), contractx.BookingRequest{
		ContactID: "c-1",
		Start:     start,
		End:       start.Add(30 * time.Minute),
		Title:     "Orientación",
	})
	if err != nil {
		t.Fatalf("Book() error = %v", err)
	}
	if id != "appt-9" {
		t.Fatalf("appointment id = %q", id)
	}
	if gotBody["calendarId"] != "cal-1" || gotBody["contactId"] != "c-1" {
		t.Fatalf("body = %+v", gotBody)
	}
}

func TestBookValidatesWindow(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	start := time.Now()
	_, err := client.Book(context.Background(), contractx.BookingRequest{
		ContactID: "c-1",
		Start:     start,
		End:       start.Add(-time.Hour),
	})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
