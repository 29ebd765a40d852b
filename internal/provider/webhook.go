package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"settlement-engine/internal/store"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body
const SignatureHeader = "X-CC-Webhook-Signature"

// Event types delivered by the payment provider
const (
	EventConfirmed = "charge:confirmed"
	EventFailed    = "charge:failed"
	EventResolved  = "charge:resolved"
	EventCreated   = "charge:created"
	EventPending   = "charge:pending"
)

// Event is the part of a provider notification the engine acts on
type Event struct {
	Id         string
	Type       string
	ChargeId   string
	ChargeCode string
}

type eventEnvelope struct {
	Event struct {
		Id   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Id   string `json:"id"`
			Code string `json:"code"`
		} `json:"data"`
	} `json:"event"`
}

// VerifySignature checks the signature over the raw body before any of it
// is trusted. An empty secret rejects every request.
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" {
		return fmt.Errorf("%w: webhook secret not configured", store.ErrInvalidSignature)
	}

	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return fmt.Errorf("%w: malformed signature", store.ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return store.ErrInvalidSignature
	}
	return nil
}

// Sign computes the signature the provider sends for body
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseEvent decodes a verified notification body
func ParseEvent(body []byte) (*Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed event: %v", store.ErrValidation, err)
	}
	if env.Event.Type == "" {
		return nil, fmt.Errorf("%w: event type missing", store.ErrValidation)
	}

	return &Event{
		Id:         env.Event.Id,
		Type:       env.Event.Type,
		ChargeId:   env.Event.Data.Id,
		ChargeCode: env.Event.Data.Code,
	}, nil
}
