package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"settlement-engine/internal/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// CurrencyConfig is one entry of the currencies file
type CurrencyConfig struct {
	Code          string `yaml:"code"`
	Kind          string `yaml:"kind"`
	Scale         int32  `yaml:"scale"`
	MinDeposit    string `yaml:"min_deposit"`
	MinWithdrawal string `yaml:"min_withdrawal"`
	FeePercent    string `yaml:"fee_percent"`
	FeeFloor      string `yaml:"fee_floor"`
	FlatFee       string `yaml:"flat_fee"`
	WalletId      string `yaml:"wallet_id"`
	Network       string `yaml:"network"`
}

type CurrenciesConfig struct {
	FiatCurrency string           `yaml:"fiat_currency"`
	Currencies   []CurrencyConfig `yaml:"currencies"`
}

// defaultCatalog is used when no currencies file is configured
const defaultCatalog = `
fiat_currency: INR
currencies:
  - code: INR
    kind: fiat
    scale: 2
    min_withdrawal: "100"
    fee_percent: "0.5"
    fee_floor: "50"
  - code: BTC
    kind: crypto
    scale: 8
    min_deposit: "0.0001"
    min_withdrawal: "500"
    flat_fee: "100"
    network: bitcoin-mainnet
  - code: ETH
    kind: crypto
    scale: 8
    min_deposit: "0.001"
    min_withdrawal: "500"
    flat_fee: "150"
    network: ethereum-mainnet
  - code: USDT
    kind: crypto
    scale: 6
    min_deposit: "1"
    min_withdrawal: "500"
    flat_fee: "100"
    network: ethereum-mainnet
`

// LoadCatalog reads the supported currencies from catalogFile, or the
// built-in catalog when catalogFile is empty
func LoadCatalog(catalogFile string) (*models.Catalog, error) {
	if catalogFile == "" {
		return ParseCatalog([]byte(defaultCatalog))
	}

	var catalogPath string
	if filepath.IsAbs(catalogFile) {
		catalogPath = catalogFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		catalogPath = filepath.Join(wd, catalogFile)
	}

	data, err := os.ReadFile(catalogPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", catalogFile, err)
	}

	catalog, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", catalogFile, err)
	}
	return catalog, nil
}

// ParseCatalog decodes and validates a currencies document
func ParseCatalog(data []byte) (*models.Catalog, error) {
	var config CurrenciesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	catalog := &models.Catalog{
		FiatCurrency: strings.ToUpper(config.FiatCurrency),
		Currencies:   make(map[string]models.Currency, len(config.Currencies)),
	}
	if catalog.FiatCurrency == "" {
		return nil, fmt.Errorf("fiat_currency is required")
	}

	for i, c := range config.Currencies {
		cur, err := c.toCurrency()
		if err != nil {
			return nil, fmt.Errorf("currency at index %d: %w", i, err)
		}
		if _, dup := catalog.Currencies[cur.Code]; dup {
			return nil, fmt.Errorf("currency %s listed twice", cur.Code)
		}
		catalog.Currencies[cur.Code] = cur
	}

	fiat, ok := catalog.Currencies[catalog.FiatCurrency]
	if !ok || fiat.Kind != models.CurrencyFiat {
		return nil, fmt.Errorf("fiat currency %s must be listed with kind fiat", catalog.FiatCurrency)
	}

	return catalog, nil
}

func (c CurrencyConfig) toCurrency() (models.Currency, error) {
	code := strings.ToUpper(strings.TrimSpace(c.Code))
	if code == "" {
		return models.Currency{}, fmt.Errorf("missing code")
	}

	kind := models.CurrencyKind(c.Kind)
	switch kind {
	case models.CurrencyFiat:
		if c.Scale == 0 {
			c.Scale = models.FiatScale
		}
	case models.CurrencyCrypto:
		if c.Scale == 0 {
			c.Scale = models.CryptoScale
		}
	default:
		return models.Currency{}, fmt.Errorf("%s: kind must be fiat or crypto, got %q", code, c.Kind)
	}

	cur := models.Currency{
		Code:     code,
		Kind:     kind,
		Scale:    c.Scale,
		WalletId: c.WalletId,
		Network:  c.Network,
	}

	fields := []struct {
		name  string
		value string
		dst   *decimal.Decimal
	}{
		{"min_deposit", c.MinDeposit, &cur.MinDeposit},
		{"min_withdrawal", c.MinWithdrawal, &cur.MinWithdrawal},
		{"fee_percent", c.FeePercent, &cur.FeePercent},
		{"fee_floor", c.FeeFloor, &cur.FeeFloor},
		{"flat_fee", c.FlatFee, &cur.FlatFee},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		v, err := decimal.NewFromString(f.value)
		if err != nil || v.IsNegative() {
			return models.Currency{}, fmt.Errorf("%s: invalid %s %q", code, f.name, f.value)
		}
		*f.dst = v
	}

	if kind == models.CurrencyCrypto && cur.Network == "" {
		return models.Currency{}, fmt.Errorf("%s: crypto currency missing network", code)
	}

	return cur, nil
}
