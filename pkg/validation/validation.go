// Package validation holds the input checks applied before any amount reaches
// the ledger calculator. The calculator itself never rejects inputs.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mcclellann/microloan/pkg/models"
	"github.com/shopspring/decimal"
)

// DefaultMaxMonthlyRatePct is the highest monthly rate a loan may carry.
var DefaultMaxMonthlyRatePct = decimal.NewFromInt(20)

// PayableTolerance is accepted above the maximum payable to absorb display rounding.
var PayableTolerance = decimal.New(1, -2)

// Error describes a rejected input field.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *Error {
	return &Error{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err carries an *Error.
func IsValidationError(err error) bool {
	var vErr *Error
	return errors.As(err, &vErr)
}

// LoanInput is what an operator submits to open a loan.
type LoanInput struct {
	CustomerKey    string          `json:"customer_key"`
	Principal      decimal.Decimal `json:"principal"`
	MonthlyRatePct decimal.Decimal `json:"monthly_rate_pct"`
	CycleDays      int             `json:"cycle_days"`
	TransferAt     *time.Time      `json:"transfer_at,omitempty"` // Defaults to now
}

// ValidateLoan checks a new loan against the business rules. maxRatePct caps
// the monthly rate; a zero value falls back to DefaultMaxMonthlyRatePct.
func ValidateLoan(in LoanInput, maxRatePct decimal.Decimal) error {
	if maxRatePct.IsZero() {
		maxRatePct = DefaultMaxMonthlyRatePct
	}
	if strings.TrimSpace(in.CustomerKey) == "" {
		return invalid("customer_key", "is required")
	}
	if !in.Principal.IsPositive() {
		return invalid("principal", "must be greater than zero")
	}
	if !in.MonthlyRatePct.IsPositive() {
		return invalid("monthly_rate_pct", "must be greater than zero")
	}
	if in.MonthlyRatePct.GreaterThan(maxRatePct) {
		return invalid("monthly_rate_pct", "must not exceed %s%%", maxRatePct.String())
	}
	if in.CycleDays < 1 {
		return invalid("cycle_days", "must be at least 1")
	}
	return nil
}

// PaymentInput is what an operator submits to register a payment.
type PaymentInput struct {
	Amount decimal.Decimal    `json:"amount"`
	Type   models.PaymentType `json:"type"`
	PaidAt *time.Time         `json:"paid_at,omitempty"` // Defaults to now
	Note   string             `json:"note,omitempty"`
}

// ValidatePaymentShape checks the fields that do not depend on the loan.
func ValidatePaymentShape(in PaymentInput, now time.Time) error {
	if !in.Type.Valid() {
		return invalid("type", "unknown payment type %q", string(in.Type))
	}
	if !in.Amount.IsPositive() {
		return invalid("amount", "must be greater than zero")
	}
	if !in.Amount.Equal(in.Amount.Round(2)) {
		return invalid("amount", "must be given in whole cents")
	}
	if in.PaidAt != nil && in.PaidAt.After(now) {
		return invalid("paid_at", "must not be in the future")
	}
	return nil
}

// ValidatePaymentAmount rejects amounts above maxPayable plus PayableTolerance.
func ValidatePaymentAmount(amount, maxPayable decimal.Decimal) error {
	if amount.GreaterThan(maxPayable.Add(PayableTolerance)) {
		return invalid("amount", "maximum allowed is %s", maxPayable.StringFixed(2))
	}
	return nil
}
