package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"settlement-engine/internal/models"
	"settlement-engine/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":{"type":"charge:confirmed"}}`)
	sig := Sign("shh", body)

	require.NoError(t, VerifySignature("shh", body, sig))

	t.Run("wrong secret", func(t *testing.T) {
		assert.ErrorIs(t, VerifySignature("other", body, sig), store.ErrInvalidSignature)
	})
	t.Run("tampered body", func(t *testing.T) {
		assert.ErrorIs(t, VerifySignature("shh", append(body, ' '), sig), store.ErrInvalidSignature)
	})
	t.Run("not hex", func(t *testing.T) {
		assert.ErrorIs(t, VerifySignature("shh", body, "zz"), store.ErrInvalidSignature)
	})
	t.Run("missing", func(t *testing.T) {
		assert.ErrorIs(t, VerifySignature("shh", body, ""), store.ErrInvalidSignature)
	})
	t.Run("no secret configured", func(t *testing.T) {
		assert.ErrorIs(t, VerifySignature("", body, Sign("", body)), store.ErrInvalidSignature)
	})
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"id":"x","event":{"id":"ev1","type":"charge:resolved","data":{"id":"ch_1","code":"ABC"}}}`))
	require.NoError(t, err)
	assert.Equal(t, &Event{Id: "ev1", Type: EventResolved, ChargeId: "ch_1", ChargeCode: "ABC"}, ev)

	_, err = ParseEvent([]byte(`not json`))
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = ParseEvent([]byte(`{"event":{}}`))
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestCreateCharge(t *testing.T) {
	var got chargeBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/charges", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-CC-Api-Key"))
		assert.Equal(t, apiVersion, r.Header.Get("X-CC-Version"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"ch_1","code":"ABC","hosted_url":"https://pay.example.com/ABC",
			"expires_at":"2026-03-01T13:00:00Z","addresses":{"bitcoin":"bc1qxyz"}}}`))
	}))
	defer srv.Close()

	c := newClient(models.ProviderConfig{BaseURL: srv.URL + "/", APIKey: "key"}, srv.Client())
	charge, err := c.CreateCharge(context.Background(), ChargeRequest{
		Reference: "d1", UserId: "user1", Currency: "BTC", Amount: decimal.RequireFromString("0.015"),
	})
	require.NoError(t, err)

	assert.Equal(t, "ch_1", charge.Id)
	assert.Equal(t, "https://pay.example.com/ABC", charge.HostedURL)
	assert.Equal(t, "bitcoin:bc1qxyz?amount=0.015", charge.PaymentURI)
	require.NotNil(t, charge.ExpiresAt)
	assert.Equal(t, "d1", got.Metadata["deposit_id"])
	assert.Equal(t, "0.015", got.LocalPrice.Amount)
}

func TestCreateCharge_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newClient(models.ProviderConfig{BaseURL: srv.URL}, srv.Client())
	_, err := c.CreateCharge(context.Background(), ChargeRequest{Reference: "d1", Currency: "BTC", Amount: decimal.RequireFromString("1")})
	assert.True(t, errors.Is(err, store.ErrExternalService), "got %v", err)
}
