package ghl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	contractx "github.com/dmelendez/enerbot/agent/contract"
)

const maxResponseSizeBytes = 2 << 20

// ClientOption customizes Client.
type ClientOption func(*Client)

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// Client talks to the GoHighLevel REST API. It implements the Messenger,
// Contacts, and Calendar adapter contracts.
type Client struct {
	baseURL    string
	apiKey     string
	locationID string
	calendarID string
	apiVersion string
	httpClient *http.Client
}

func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		locationID: strings.TrimSpace(cfg.LocationID),
		calendarID: strings.TrimSpace(cfg.CalendarID),
		apiVersion: strings.TrimSpace(cfg.APIVersion),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

type sendMessageRequest struct {
	Type           string `json:"type"`
	ContactID      string `json:"contactId"`
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
}

type sendMessageResponse struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

// Send delivers a message on the contact's active conversation channel and
// returns the provider message id.
func (c *Client) Send(ctx context.Context, contactID, text, conversationID string) (string, error) {
	if strings.TrimSpace(contactID) == "" {
		return "", fmt.Errorf("%w: contact id is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: message text is empty", contractx.ErrValidation)
	}

	var out sendMessageResponse
	err := c.do(ctx, http.MethodPost, "/conversations/messages", sendMessageRequest{
		Type:           "SMS",
		ContactID:      contactID,
		Message:        text,
		ConversationID: conversationID,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.MessageID, nil
}

type contactEnvelope struct {
	Contact struct {
		ID    string   `json:"id"`
		Name  string   `json:"name"`
		Email string   `json:"email"`
		Phone string   `json:"phone"`
		Tags  []string `json:"tags"`
	} `json:"contact"`
}

func (c *Client) Get(ctx context.Context, contactID string) (contractx.ContactInfo, error) {
	if strings.TrimSpace(contactID) == "" {
		return contractx.ContactInfo{}, fmt.Errorf("%w: contact id is required", contractx.ErrValidation)
	}

	var out contactEnvelope
	if err := c.do(ctx, http.MethodGet, "/contacts/"+contactID, nil, &out); err != nil {
		return contractx.ContactInfo{}, err
	}
	return contractx.ContactInfo{
		ID:    out.Contact.ID,
		Name:  out.Contact.Name,
		Email: out.Contact.Email,
		Phone: out.Contact.Phone,
		Tags:  out.Contact.Tags,
	}, nil
}

func (c *Client) Update(ctx context.Context, contactID string, fields map[string]any) error {
	if strings.TrimSpace(contactID) == "" {
		return fmt.Errorf("%w: contact id is required", contractx.ErrValidation)
	}
	if len(fields) == 0 {
		return fmt.Errorf("%w: no contact fields to update", contractx.ErrValidation)
	}
	return c.do(ctx, http.MethodPut, "/contacts/"+contactID, fields, nil)
}

// FreeSlots returns bookable windows over the next windowDays days.
func (c *Client) FreeSlots(ctx context.Context, windowDays int) ([]contractx.CalendarSlot, error) {
	if strings.TrimSpace(c.calendarID) == "" {
		return nil, fmt.Errorf("%w: calendar id is not configured", contractx.ErrConfiguration)
	}
	if windowDays <= 0 {
		windowDays = 7
	}

	now := time.Now()
	path := fmt.Sprintf("/calendars/%s/free-slots?startDate=%d&endDate=%d",
		c.calendarID,
		now.UnixMilli(),
		now.AddDate(0, 0, windowDays).UnixMilli(),
	)

	// The free-slots payload is keyed by date, each date carrying its slot
	// timestamps.
	var raw map[string]json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	var out []contractx.CalendarSlot
	for date, entry := range raw {
		if strings.HasPrefix(date, "_") || strings.EqualFold(date, "traceId") {
			continue
		}
		var day struct {
			Slots []string `json:"slots"`
		}
		if err := json.Unmarshal(entry, &day); err != nil {
			continue
		}
		for _, slot := range day.Slots {
			out = append(out, contractx.CalendarSlot{Date: date, Time: slot, Available: true})
		}
	}
	return out, nil
}

type bookingRequest struct {
	CalendarID string `json:"calendarId"`
	LocationID string `json:"locationId,omitempty"`
	ContactID  string `json:"contactId"`
	StartTime  string `json:"startTime"`
	EndTime    string `json:"endTime"`
	Title      string `json:"title,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

type bookingResponse struct {
	ID string `json:"id"`
}

// Book creates an appointment and returns its id.
func (c *Client) Book(ctx context.Context, req contractx.BookingRequest) (string, error) {
	if strings.TrimSpace(c.calendarID) == "" {
		return "", fmt.Errorf("%w: calendar id is not configured", contractx.ErrConfiguration)
	}
	if strings.TrimSpace(req.ContactID) == "" {
		return "", fmt.Errorf("%w: contact id is required", contractx.ErrValidation)
	}
	if req.Start.IsZero() || req.End.IsZero() || !req.End.After(req.Start) {
		return "", fmt.Errorf("%w: appointment window is invalid", contractx.ErrValidation)
	}

	var out bookingResponse
	err := c.do(ctx, http.MethodPost, "/calendars/events/appointments", bookingRequest{
		CalendarID: c.calendarID,
		LocationID: c.locationID,
		ContactID:  req.ContactID,
		StartTime:  req.Start.Format(time.RFC3339),
		EndTime:    req.End.Format(time.RFC3339),
		Title:      req.Title,
		Notes:      req.Notes,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal ghl request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build ghl request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Version", c.apiVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: ghl request failed: %v", contractx.ErrTransient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return fmt.Errorf("%w: read ghl response: %v", contractx.ErrTransient, err)
	}
	if err := classifyStatus(resp.StatusCode, raw); err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode ghl response: %w", err)
	}
	return nil
}

// classifyStatus maps provider status codes onto the engine's taxonomy:
// throttling, timeouts, and 5xx are retryable, 4xx is not.
func classifyStatus(status int, body []byte) error {
	switch {
	case status >= http.StatusOK && status < http.StatusMultipleChoices:
		return nil
	case status == http.StatusRequestTimeout,
		status == http.StatusTooEarly,
		status == http.StatusTooManyRequests,
		status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: ghl status=%d body=%s", contractx.ErrTransient, status, truncate(body))
	default:
		return fmt.Errorf("%w: ghl status=%d body=%s", contractx.ErrValidation, status, truncate(body))
	}
}

func truncate(body []byte) string {
	const max = 256
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
