package ledger

import (
	"time"

	"github.com/mcclellann/microloan/pkg/models"
	"github.com/shopspring/decimal"
)

const (
	// LateFeeBaseDays is the divisor that turns cycle interest into a daily
	// penalty. It does not follow the loan's own cycle length.
	LateFeeBaseDays = 30
	// DefaultCycleDays applies when a loan is created without a cycle length.
	DefaultCycleDays = 30

	day = 24 * time.Hour
)

var (
	// SettlementEpsilon is the principal left over that still counts as a full settlement.
	SettlementEpsilon = decimal.New(1, -2)

	lateFeeBase = decimal.NewFromInt(LateFeeBaseDays)
)

// Allocation is the breakdown of a single payment across the debt buckets.
type Allocation struct {
	LateFeePaid       decimal.Decimal `json:"late_fee_paid"`
	CycleInterestPaid decimal.Decimal `json:"cycle_interest_paid"`
	PrincipalPaid     decimal.Decimal `json:"principal_paid"`
	Remaining         decimal.Decimal `json:"remaining"`
}

// Applied returns the part of the payment that went to some bucket.
func (a Allocation) Applied() decimal.Decimal {
	return a.LateFeePaid.Add(a.CycleInterestPaid).Add(a.PrincipalPaid)
}

// CycleState is the slice of a loan the rollover needs.
type CycleState struct {
	PrincipalOpen  decimal.Decimal
	MonthlyRatePct decimal.Decimal
	CycleDays      int
	CycleInterest  decimal.Decimal
	LateFee        decimal.Decimal
	DueAt          time.Time
}

// RolloverResult holds the mutable loan fields after a payment was applied.
type RolloverResult struct {
	PrincipalOpen       decimal.Decimal   `json:"principal_open"`
	CycleInterestAmount decimal.Decimal   `json:"cycle_interest_amount"`
	DueAt               time.Time         `json:"due_at"`
	Status              models.LoanStatus `json:"status"`
}

// Closed reports whether the payment settled the loan.
func (r RolloverResult) Closed() bool {
	return r.Status == models.LoanStatusClosed
}

// CycleInterest returns the interest of one cycle: principalOpen * monthlyRatePct / 100.
// The rate is not clamped here.
func CycleInterest(principalOpen, monthlyRatePct decimal.Decimal) decimal.Decimal {
	return principalOpen.Mul(monthlyRatePct).Shift(-2)
}

// LateDays returns the number of whole days elapsed since dueAt, never negative.
func LateDays(dueAt, now time.Time) int {
	elapsed := now.Sub(dueAt)
	if elapsed <= 0 {
		return 0
	}
	return int(elapsed / day)
}

// LateFee charges cycleInterest/30 per late day. The total is rounded to cents
// once, so a fee below half a cent comes out as zero. CycleInterest is not
// rounded; it is the base the fee is derived from.
func LateFee(cycleInterest decimal.Decimal, lateDays int) decimal.Decimal {
	if lateDays <= 0 {
		return decimal.Zero
	}
	return cycleInterest.Mul(decimal.NewFromInt(int64(lateDays))).Div(lateFeeBase).Round(2)
}

// DueDate returns transferAt moved forward by cycleDays calendar days, in UTC.
func DueDate(transferAt time.Time, cycleDays int) time.Time {
	return transferAt.UTC().AddDate(0, 0, cycleDays)
}

// TotalDebt is everything owed right now.
func TotalDebt(lateFee, cycleInterest, principalOpen decimal.Decimal) decimal.Decimal {
	return lateFee.Add(cycleInterest).Add(principalOpen)
}

// MaxPayable is the largest amount a payment of type t is allowed to carry.
func MaxPayable(t models.PaymentType, lateFee, cycleInterest, principalOpen decimal.Decimal) decimal.Decimal {
	if t.TouchesPrincipal() {
		return TotalDebt(lateFee, cycleInterest, principalOpen)
	}
	return lateFee.Add(cycleInterest)
}

// AllocatePayment splits amount across late fee, cycle interest and principal,
// in that order. Principal is only touched by interest_plus_principal and
// full_settlement payments. Whatever does not fit the buckets is returned as
// Remaining; amounts above the allowed maximum are not rejected here.
func AllocatePayment(amount, lateFee, cycleInterest, principalOpen decimal.Decimal, t models.PaymentType) Allocation {
	remaining := decimal.Max(amount, decimal.Zero)

	take := func(limit decimal.Decimal) decimal.Decimal {
		paid := decimal.Min(remaining, decimal.Max(limit, decimal.Zero))
		remaining = remaining.Sub(paid)
		return paid
	}

	a := Allocation{
		LateFeePaid:       take(lateFee),
		CycleInterestPaid: take(cycleInterest),
		PrincipalPaid:     decimal.Zero,
	}
	if t.TouchesPrincipal() {
		a.PrincipalPaid = take(principalOpen)
	}
	a.Remaining = remaining
	return a
}

// Rollover applies an allocation to the loan state. Unpaid interest and late fee
// are added to principal. A full settlement that leaves at most SettlementEpsilon
// closes the loan and keeps the cycle fields as they were; anything else starts a
// new cycle at the given moment.
func Rollover(s CycleState, a Allocation, t models.PaymentType, at time.Time) RolloverResult {
	unpaidInterest := s.CycleInterest.Sub(a.CycleInterestPaid)
	unpaidLateFee := s.LateFee.Sub(a.LateFeePaid)
	newPrincipal := s.PrincipalOpen.Sub(a.PrincipalPaid).Add(unpaidInterest).Add(unpaidLateFee)
	clamped := decimal.Max(newPrincipal, decimal.Zero)

	if t == models.PaymentTypeFullSettlement && newPrincipal.LessThanOrEqual(SettlementEpsilon) {
		return RolloverResult{
			PrincipalOpen:       clamped,
			CycleInterestAmount: s.CycleInterest,
			DueAt:               s.DueAt,
			Status:              models.LoanStatusClosed,
		}
	}

	cycleDays := s.CycleDays
	if cycleDays < 1 {
		cycleDays = DefaultCycleDays
	}
	return RolloverResult{
		PrincipalOpen:       clamped,
		CycleInterestAmount: CycleInterest(clamped, s.MonthlyRatePct),
		DueAt:               DueDate(at, cycleDays),
		Status:              models.LoanStatusActive,
	}
}
