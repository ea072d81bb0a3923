package validate

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PaymentLimit is one payment-method entry of the onramp provider's
// currency catalog.
type PaymentLimit struct {
	ID  string `json:"id"`
	Min string `json:"min"`
	Max string `json:"max"`
}

// PaymentCurrency mirrors the catalog's paymentCurrencies entries; only the
// limits of the first currency are consumed here.
type PaymentCurrency struct {
	ID     string         `json:"id"`
	Limits []PaymentLimit `json:"limits"`
}

// Amount checks that the amount is a positive decimal.
func Amount(amount string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("'%s' is not a valid amount", amount)
	}
	if !value.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be greater than zero")
	}
	return value, nil
}

// AmountWithinLimits checks the amount against the bounds of the given
// payment method in the first payment currency. An empty catalog or a
// method without limits imposes no bound.
func AmountWithinLimits(amount, paymentMethod string, currencies []PaymentCurrency) error {
	value, err := Amount(amount)
	if err != nil {
		return err
	}
	if len(currencies) == 0 {
		return nil
	}

	for _, limit := range currencies[0].Limits {
		if !strings.EqualFold(limit.ID, paymentMethod) {
			continue
		}
		if limit.Min != "" {
			min, err := decimal.NewFromString(limit.Min)
			if err == nil && value.LessThan(min) {
				return fmt.Errorf("amount %s is below the minimum of %s for %s", amount, limit.Min, paymentMethod)
			}
		}
		if limit.Max != "" {
			max, err := decimal.NewFromString(limit.Max)
			if err == nil && value.GreaterThan(max) {
				return fmt.Errorf("amount %s is above the maximum of %s for %s", amount, limit.Max, paymentMethod)
			}
		}
		return nil
	}
	return nil
}
