package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanStatusActive LoanStatus = "active"
	LoanStatusClosed LoanStatus = "closed"
)

type Loan struct {
	ID                  uuid.UUID       `json:"id"`
	CustomerKey         string          `json:"customer_key"` // Link to external customer system
	PrincipalInitial    decimal.Decimal `json:"principal_initial"`
	PrincipalOpen       decimal.Decimal `json:"principal_open"`
	MonthlyRatePct      decimal.Decimal `json:"monthly_rate_pct"` // e.g. 10 means 10% per cycle
	CycleDays           int             `json:"cycle_days"`
	CycleInterestAmount decimal.Decimal `json:"cycle_interest_amount"` // Interest due for the current cycle
	TransferAt          time.Time       `json:"transfer_at"`
	DueAt               time.Time       `json:"due_at"`
	Status              LoanStatus      `json:"status"`
	Version             int64           `json:"version"` // Bumped on every write, used for optimistic locking
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// IsActive reports whether the loan still accepts payments.
func (l *Loan) IsActive() bool {
	return l.Status == LoanStatusActive
}

type PaymentType string

const (
	PaymentTypeInterestOnly          PaymentType = "interest_only"
	PaymentTypeInterestPlusPrincipal PaymentType = "interest_plus_principal"
	PaymentTypeFullSettlement        PaymentType = "full_settlement"
)

// Valid reports whether t is one of the known payment types.
func (t PaymentType) Valid() bool {
	switch t {
	case PaymentTypeInterestOnly, PaymentTypeInterestPlusPrincipal, PaymentTypeFullSettlement:
		return true
	}
	return false
}

// TouchesPrincipal reports whether a payment of this type may reduce principal.
func (t PaymentType) TouchesPrincipal() bool {
	return t == PaymentTypeInterestPlusPrincipal || t == PaymentTypeFullSettlement
}

type Payment struct {
	ID                uuid.UUID       `json:"id"`
	LoanID            uuid.UUID       `json:"loan_id"`
	Amount            decimal.Decimal `json:"amount"`
	Type              PaymentType     `json:"type"`
	LateFeePaid       decimal.Decimal `json:"late_fee_paid"`
	CycleInterestPaid decimal.Decimal `json:"cycle_interest_paid"`
	PrincipalPaid     decimal.Decimal `json:"principal_paid"`
	Change            decimal.Decimal `json:"change"` // Leftover not applied to any bucket
	Note              string          `json:"note,omitempty"`
	PaidAt            time.Time       `json:"paid_at"`
	CreatedAt         time.Time       `json:"created_at"`
}
