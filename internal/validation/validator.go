package validation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	return "invalid request"
}

// ValidateOrderDraft checks a submission before it reaches the lifecycle
// controller: the controller assumes a validated draft.
func ValidateOrderDraft(instrument, side, price, quantity string) ValidationErrors {
	var errs ValidationErrors

	if strings.TrimSpace(instrument) == "" {
		errs = append(errs, FieldError{Field: "instrument", Message: "instrument is required"})
	}

	switch strings.ToLower(strings.TrimSpace(side)) {
	case "buy", "sell":
	default:
		errs = append(errs, FieldError{Field: "side", Message: "side must be buy or sell"})
	}

	if _, err := ParsePrice(price); err != nil {
		errs = append(errs, FieldError{Field: "price", Message: err.Error()})
	}
	if _, err := ParseQuantity(quantity); err != nil {
		errs = append(errs, FieldError{Field: "quantity", Message: err.Error()})
	}

	return errs
}

// ParsePrice accepts a positive decimal with at most two fractional digits.
func ParsePrice(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("price is required")
	}
	price, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price must be a decimal number")
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("price must be positive")
	}
	if price.Exponent() < -2 {
		return decimal.Zero, fmt.Errorf("price allows at most 2 decimal places")
	}
	return price, nil
}

// ParseQuantity accepts a positive whole number.
func ParseQuantity(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("quantity is required")
	}
	qty, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("quantity must be a number")
	}
	if !qty.IsPositive() {
		return decimal.Zero, fmt.Errorf("quantity must be positive")
	}
	if !qty.IsInteger() {
		return decimal.Zero, fmt.Errorf("quantity must be a whole number")
	}
	return qty, nil
}

func NormalizeInstrument(instrument string) string {
	return strings.ToUpper(strings.TrimSpace(instrument))
}

func NormalizeSide(side string) string {
	return strings.ToLower(strings.TrimSpace(side))
}
