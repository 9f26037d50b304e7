package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	contractx "github.com/dmelendez/enerbot/agent/contract"
	enginex "github.com/dmelendez/enerbot/agent/engine"
	sessionx "github.com/dmelendez/enerbot/agent/session"
	statex "github.com/dmelendez/enerbot/agent/state"
)

type fakeAgent struct {
	mu      sync.Mutex
	runs    []sessionx.Inbound
	runErr  error
	result  *enginex.Result
	flagged map[string]string
	detail  *enginex.ConversationDetail
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{
		result:  &enginex.Result{RunID: "r-1", ContactID: "c-1", Reply: "hola", Stage: statex.StageDiscovery},
		flagged: map[string]string{},
	}
}

func (f *fakeAgent) Run(ctx context.Context, in sessionx.Inbound) (*enginex.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, in)
	if f.runErr != nil {
		return nil, f.runErr
	}
	return f.result, nil
}

func (f *fakeAgent) ListConversations(ctx context.Context, limit int, status string) ([]enginex.ConversationSummary, error) {
	return []enginex.ConversationSummary{{ContactID: "c-1", Stage: statex.StageDiscovery}}, nil
}

func (f *fakeAgent) ConversationDetail(ctx context.Context, contactID string) (*enginex.ConversationDetail, error) {
	if f.detail == nil {
		return nil, statex.ErrMemoryNotFound
	}
	return f.detail, nil
}

func (f *fakeAgent) Flag(ctx context.Context, contactID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flagged[contactID] = reason
	return nil
}

func (f *fakeAgent) Metrics() enginex.MetricsSnapshot {
	return enginex.MetricsSnapshot{Runs: 7}
}

func newTestServer(agent Agent, cfg Config) *httptest.Server {
	return httptest.NewServer(New(cfg, agent).Router())
}

func TestGHLWebhookRunsEngine(t *testing.T) {
	t.Parallel()

	agent := newFakeAgent()
	srv := newTestServer(agent, Config{})
	defer srv.Close()

	body := `{"contactId":"c-1","conversationId":"conv-1","message":"hola"}`
	resp, err := http.Post(srv.URL+"/webhooks/ghl", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if len(agent.runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(agent.runs))
	}
	if agent.runs[0].ContactID != "c-1" || agent.runs[0].Text != "hola" {
		t.Fatalf("unexpected inbound: %+v", agent.runs[0])
	}

	var result enginex.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Reply != "hola" {
		t.Fatalf("reply = %q", result.Reply)
	}
}

func TestGHLWebhookAcceptsBodyField(t *testing.T) {
	t.Parallel()

	agent := newFakeAgent()
	srv := newTestServer(agent, Config{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/webhooks/ghl", "application/json",
		strings.NewReader(`{"contactId":"c-1","body":"texto viejo"}`))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if agent.runs[0].Text != "texto viejo" {
		t.Fatalf("body field not honored: %+v", agent.runs[0])
	}
}

func TestGHLWebhookRejectsMissingFields(t *testing.T) {
	t.Parallel()

	srv := newTestServer(newFakeAgent(), Config{})
	defer srv.Close()

	for _, body := range []string{
		`{"message":"hola"}`,
		`{"contactId":"c-1"}`,
		`not json`,
	} {
		resp, err := http.Post(srv.URL+"/webhooks/ghl", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST error = %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestGHLWebhookBusyContact(t *testing.T) {
	t.Parallel()

	agent := newFakeAgent()
	agent.runErr = contractx.ErrContactBusy
	srv := newTestServer(agent, Config{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/webhooks/ghl", "application/json",
		strings.NewReader(`{"contactId":"c-1","message":"hola"}`))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
}

func TestMetaVerifyChallenge(t *testing.T) {
	t.Parallel()

	srv := newTestServer(newFakeAgent(), Config{MetaVerifyToken: "secreto"})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/webhooks/meta?hub.mode=subscribe&hub.verify_token=secreto&hub.challenge=12345")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if buf.String() != "12345" {
		t.Fatalf("challenge echo = %q", buf.String())
	}
}

func TestMetaVerifyWrongToken(t *testing.T) {
	t.Parallel()

	srv := newTestServer(newFakeAgent(), Config{MetaVerifyToken: "secreto"})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/webhooks/meta?hub.mode=subscribe&hub.verify_token=otro&hub.challenge=1")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func signMeta(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestMetaWebhookSignatureChecked(t *testing.T) {
	t.Parallel()

	agent := newFakeAgent()
	srv := newTestServer(agent, Config{MetaVerifyToken: "secreto", MetaAppSecret: "app-secret"})
	defer srv.Close()

	body := []byte(`{"entry":[{"changes":[{"value":{"leadgen_id":"lead-1"}}]}]}`)

	// Bad signature is rejected without running the engine.
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/webhooks/meta", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	if len(agent.runs) != 0 {
		t.Fatalf("engine ran on a forged payload: %+v", agent.runs)
	}

	// Valid signature triggers the synthetic lead greeting.
	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/webhooks/meta", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", signMeta("app-secret", body))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(agent.runs) != 1 || agent.runs[0].ContactID != "lead-1" {
		t.Fatalf("lead greeting not run: %+v", agent.runs)
	}
	if agent.runs[0].Text == "" {
		t.Fatal("synthetic lead turn has no text")
	}
}

func TestAdminListConversations(t *testing.T) {
	t.Parallel()

	srv := newTestServer(newFakeAgent(), Config{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/admin/conversations?limit=10&status=discovery")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var payload struct {
		Conversations []enginex.ConversationSummary `json:"conversations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Conversations) != 1 {
		t.Fatalf("conversations = %+v", payload.Conversations)
	}
}

func TestAdminListConversationsBadLimit(t *testing.T) {
	t.Parallel()

	srv := newTestServer(newFakeAgent(), Config{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/admin/conversations?limit=banana")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAdminConversationDetailNotFound(t *testing.T) {
	t.Parallel()

	srv := newTestServer(newFakeAgent(), Config{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/admin/conversations/missing")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAdminFlagConversation(t *testing.T) {
	t.Parallel()

	agent := newFakeAgent()
	srv := newTestServer(agent, Config{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/admin/conversations/c-1/flag", "application/json",
		strings.NewReader(`{"reason":"cliente vip"}`))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if agent.flagged["c-1"] != "cliente vip" {
		t.Fatalf("flag not recorded: %+v", agent.flagged)
	}
}

func TestAdminMetrics(t *testing.T) {
	t.Parallel()

	srv := newTestServer(newFakeAgent(), Config{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/admin/metrics")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()

	var snap enginex.MetricsSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Runs != 7 {
		t.Fatalf("runs = %d, want 7", snap.Runs)
	}
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(newFakeAgent(), Config{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
