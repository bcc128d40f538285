package chatbot

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidSignature is returned when a webhook body does not match its signature.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Event types delivered by the chat channel.
const (
	EventFollow   = "follow"
	EventUnfollow = "unfollow"
	EventMessage  = "message"
)

// Event is one inbound chat event.
type Event struct {
	Type       string `json:"type"`
	ReplyToken string `json:"replyToken"`
	Timestamp  int64  `json:"timestamp"`
	Source     struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
	} `json:"source"`
	Message struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
}

type webhookBody struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// VerifySignature checks the base64 HMAC-SHA256 of body under secret.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the signature the channel would send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ParseWebhook verifies and decodes a webhook delivery.
func ParseWebhook(secret string, body []byte, signature string) ([]Event, error) {
	if !VerifySignature(secret, body, signature) {
		return nil, ErrInvalidSignature
	}
	var payload webhookBody
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	return payload.Events, nil
}
