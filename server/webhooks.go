package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/dmelendez/enerbot/agent/contract"
	sessionx "github.com/dmelendez/enerbot/agent/session"
)

const maxWebhookBodyBytes = 1 << 20

// ghlWebhookPayload is the inbound-message event GoHighLevel posts. Older
// workflow configurations deliver the text under "body" instead of
// "message".
type ghlWebhookPayload struct {
	ContactID      string `json:"contactId"`
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
	Body           string `json:"body"`
}

func (p ghlWebhookPayload) text() string {
	if v := strings.TrimSpace(p.Message); v != "" {
		return v
	}
	return strings.TrimSpace(p.Body)
}

func (s *Server) handleGHLWebhook(w http.ResponseWriter, r *http.Request) {
	var payload ghlWebhookPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBodyBytes)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}
	if strings.TrimSpace(payload.ContactID) == "" || payload.text() == "" {
		writeError(w, http.StatusBadRequest, "contactId and message are required")
		return
	}

	res, err := s.agent.Run(r.Context(), sessionx.Inbound{
		ContactID:      payload.ContactID,
		ConversationID: payload.ConversationID,
		Text:           payload.text(),
	})
	if err != nil {
		s.writeRunError(w, payload.ContactID, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeRunError(w http.ResponseWriter, contactID string, err error) {
	switch {
	case errors.Is(err, contractx.ErrContactBusy):
		writeError(w, http.StatusTooManyRequests, "contact run already in progress")
	case errors.Is(err, contractx.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Str("contact_id", contactID).Err(err).Msg("webhook run failed")
		writeError(w, http.StatusInternalServerError, "run failed")
	}
}

// handleMetaVerify answers Meta's one-time subscription challenge.
func (s *Server) handleMetaVerify(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MetaVerifyToken == "" {
		writeError(w, http.StatusNotFound, "meta webhook is not configured")
		return
	}
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != s.cfg.MetaVerifyToken {
		writeError(w, http.StatusForbidden, "verification failed")
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(q.Get("hub.challenge")))
}

// metaLeadIntro is the synthetic first turn injected for every new Facebook
// lead so the decision step opens the conversation with the greeting script.
const metaLeadIntro = "Nuevo lead de Facebook Ads. Saluda al cliente y comienza la conversación."

type metaWebhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				LeadgenID string `json:"leadgen_id"`
				ContactID string `json:"contact_id"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

func (s *Server) handleMetaWebhook(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MetaAppSecret == "" {
		writeError(w, http.StatusNotFound, "meta webhook is not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if !validMetaSignature(body, r.Header.Get("X-Hub-Signature-256"), s.cfg.MetaAppSecret) {
		writeError(w, http.StatusForbidden, "invalid signature")
		return
	}

	var payload metaWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	accepted := 0
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			contactID := strings.TrimSpace(change.Value.ContactID)
			if contactID == "" {
				contactID = strings.TrimSpace(change.Value.LeadgenID)
			}
			if contactID == "" {
				continue
			}
			if _, err := s.agent.Run(r.Context(), sessionx.Inbound{
				ContactID: contactID,
				Text:      metaLeadIntro,
			}); err != nil {
				log.Error().Str("contact_id", contactID).Err(err).Msg("lead greeting run failed")
				continue
			}
			accepted++
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"accepted": accepted})
}

// validMetaSignature checks the sha256= HMAC Meta computes over the raw
// request body with the app secret.
func validMetaSignature(body []byte, header, secret string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(sig)))
}
