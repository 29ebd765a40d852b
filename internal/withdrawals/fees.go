package withdrawals

import (
	"settlement-engine/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Fee is the charge added on top of a withdrawal amount. Fiat pays a
// percentage with a floor, crypto a flat fee. Both are rounded half-up to
// the fiat scale.
func Fee(cur models.Currency, amount decimal.Decimal) decimal.Decimal {
	if cur.Kind == models.CurrencyCrypto {
		return cur.FlatFee.Round(models.FiatScale)
	}

	fee := amount.Mul(cur.FeePercent).Div(hundred).Round(models.FiatScale)
	if fee.LessThan(cur.FeeFloor) {
		fee = cur.FeeFloor
	}
	return fee.Round(models.FiatScale)
}

// QuoteCrypto converts a fiat amount into the payout currency at rate
func QuoteCrypto(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Div(rate).Round(models.CryptoScale)
}
