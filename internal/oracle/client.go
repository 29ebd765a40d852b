package oracle

import (
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

// Client reads spot prices for crypto in the platform fiat currency
type Client struct {
	baseURL string
	fiat    string
	timeout time.Duration
	http    *http.Client
}

func NewClient(cfg models.OracleConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("rate oracle base URL cannot be empty")
	}

	hc, err := httpclient.New(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}
	return newClient(cfg, &hc), nil
}

func newClient(cfg models.OracleConfig, hc *http.Client) *Client {
	fiat := strings.ToUpper(cfg.FiatCurrency)
	if fiat == "" {
		fiat = "INR"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		fiat:    fiat,
		timeout: timeout,
		http:    hc,
	}
}

type spotResponse struct {
	Data struct {
		Amount   string `json:"amount"`
		Base     string `json:"base"`
		Currency string `json:"currency"`
	} `json:"data"`
}

// Rate returns the fiat value of one unit of currency. Every failure,
// including a non-positive quote, is ErrExternalService.
func (c *Client) Rate(ctx context.Context, currency string) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pair := fmt.Sprintf("%s-%s", strings.ToUpper(currency), c.fiat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/prices/"+pair+"/spot", nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unable to build rate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: rate %s: %v", store.ErrExternalService, pair, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			zap.L().Debug("Failed to close oracle response body", zap.Error(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: rate %s returned status %d", store.ErrExternalService, pair, resp.StatusCode)
	}

	var decoded spotResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&decoded); err != nil {
		return decimal.Zero, fmt.Errorf("%w: decode rate %s: %v", store.ErrExternalService, pair, err)
	}

	rate, err := decimal.NewFromString(decoded.Data.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid rate %q for %s", store.ErrExternalService, decoded.Data.Amount, pair)
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive rate %s for %s", store.ErrExternalService, rate.String(), pair)
	}

	zap.L().Debug("Rate fetched", zap.String("pair", pair), zap.String("rate", rate.String()))
	return rate, nil
}
