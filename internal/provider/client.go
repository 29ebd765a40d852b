/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"settlement-engine/internal/httpclient"
	"settlement-engine/internal/models"
	"settlement-engine/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const apiVersion = "2018-03-22"

// ChargeRequest asks the provider for a hosted crypto payment
type ChargeRequest struct {
	Reference   string
	UserId      string
	Currency    string
	Amount      decimal.Decimal
	Description string
}

// Charge is the provider's payment session for a deposit
type Charge struct {
	Id         string
	Code       string
	HostedURL  string
	PaymentURI string
	ExpiresAt  *time.Time
}

type Client struct {
	baseURL     string
	apiKey      string
	redirectURL string
	http        *http.Client
}

func NewClient(cfg models.ProviderConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("payment provider base URL cannot be empty")
	}

	hc, err := httpclient.New(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	return newClient(cfg, &hc), nil
}

func newClient(cfg models.ProviderConfig, hc *http.Client) *Client {
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		redirectURL: cfg.RedirectURL,
		http:        hc,
	}
}

type chargeBody struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	PricingType string            `json:"pricing_type"`
	LocalPrice  money             `json:"local_price"`
	Metadata    map[string]string `json:"metadata"`
	RedirectURL string            `json:"redirect_url,omitempty"`
}

type money struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type chargeResponse struct {
	Data struct {
		Id        string            `json:"id"`
		Code      string            `json:"code"`
		HostedURL string            `json:"hosted_url"`
		ExpiresAt *time.Time        `json:"expires_at"`
		Addresses map[string]string `json:"addresses"`
	} `json:"data"`
}

// CreateCharge registers a payment session and returns its identifiers.
// Transport and non-2xx failures are ErrExternalService.
func (c *Client) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	body, err := json.Marshal(chargeBody{
		Name:        "Account deposit",
		Description: req.Description,
		PricingType: "fixed_price",
		LocalPrice:  money{Amount: req.Amount.String(), Currency: strings.ToUpper(req.Currency)},
		Metadata:    map[string]string{"deposit_id": req.Reference, "user_id": req.UserId},
		RedirectURL: c.redirectURL,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to encode charge: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/charges", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("unable to build charge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-CC-Api-Key", c.apiKey)
	httpReq.Header.Set("X-CC-Version", apiVersion)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: create charge: %v", store.ErrExternalService, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			zap.L().Debug("Failed to close provider response body", zap.Error(err))
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read charge response: %v", store.ErrExternalService, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		zap.L().Error("Payment provider rejected charge",
			zap.Int("status", resp.StatusCode),
			zap.String("reference", req.Reference),
			zap.String("body", models.Truncate(string(raw), 512)))
		return nil, fmt.Errorf("%w: create charge returned status %d", store.ErrExternalService, resp.StatusCode)
	}

	var decoded chargeResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: decode charge response: %v", store.ErrExternalService, err)
	}
	if decoded.Data.Id == "" {
		return nil, fmt.Errorf("%w: charge response missing id", store.ErrExternalService)
	}

	charge := &Charge{
		Id:        decoded.Data.Id,
		Code:      decoded.Data.Code,
		HostedURL: decoded.Data.HostedURL,
		ExpiresAt: decoded.Data.ExpiresAt,
	}
	if addr := addressFor(decoded.Data.Addresses, req.Currency); addr != "" {
		charge.PaymentURI = PaymentURI(req.Currency, addr, req.Amount)
	}

	zap.L().Info("Charge created",
		zap.String("charge_id", charge.Id),
		zap.String("reference", req.Reference),
		zap.String("currency", req.Currency),
		zap.String("amount", req.Amount.String()))

	return charge, nil
}

var uriSchemes = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"USDT": "ethereum",
	"USDC": "ethereum",
	"LTC":  "litecoin",
}

var addressKeys = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"USDT": "tether",
	"USDC": "usdc",
	"LTC":  "litecoin",
}

func addressFor(addresses map[string]string, currency string) string {
	code := strings.ToUpper(currency)
	if key, ok := addressKeys[code]; ok {
		if addr := addresses[key]; addr != "" {
			return addr
		}
	}
	return addresses[strings.ToLower(code)]
}

// PaymentURI builds a wallet deep link such as bitcoin:<addr>?amount=0.015
func PaymentURI(currency, address string, amount decimal.Decimal) string {
	scheme, ok := uriSchemes[strings.ToUpper(currency)]
	if !ok {
		scheme = strings.ToLower(currency)
	}
	return fmt.Sprintf("%s:%s?amount=%s", scheme, address, amount.String())
}
