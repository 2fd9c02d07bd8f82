package ledger

import (
	"testing"
	"time"

	"github.com/mcclellann/microloan/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, expected string, got decimal.Decimal, field string) {
	t.Helper()
	if !got.Equal(d(expected)) {
		t.Errorf("Expected %s %s, got %s", field, expected, got)
	}
}

func TestCycleInterest(t *testing.T) {
	tests := []struct {
		principal, rate, want string
	}{
		{"1000", "10", "100"},
		{"0", "10", "0"},
		{"1000", "0", "0"},
		{"1234.56", "3.5", "43.2096"},
		{"250.00", "20", "50"},
	}
	for _, tt := range tests {
		t.Run(tt.principal+"@"+tt.rate, func(t *testing.T) {
			got := CycleInterest(d(tt.principal), d(tt.rate))
			assertDecimal(t, tt.want, got, "cycle interest")
			// Same inputs must reproduce the exact same value.
			assert.True(t, got.Equal(CycleInterest(d(tt.principal), d(tt.rate))))
			assert.True(t, got.Equal(d(tt.principal).Mul(d(tt.rate)).Div(decimal.NewFromInt(100))))
		})
	}
}

func TestLateDays(t *testing.T) {
	due := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"exactly due", due, 0},
		{"before due", due.Add(-72 * time.Hour), 0},
		{"almost a day", due.Add(23*time.Hour + 59*time.Minute), 0},
		{"one day", due.Add(24 * time.Hour), 1},
		{"ten days and change", due.Add(10*24*time.Hour + 5*time.Hour), 10},
		{"other time zone", due.Add(48 * time.Hour).In(time.FixedZone("BRT", -3*60*60)), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LateDays(due, tt.now))
		})
	}
}

func TestLateFee(t *testing.T) {
	assertDecimal(t, "0", LateFee(d("100"), 0), "late fee")
	assertDecimal(t, "0", LateFee(d("100"), -5), "late fee")
	assertDecimal(t, "33.33", LateFee(d("100"), 10), "late fee")
	assertDecimal(t, "3.33", LateFee(d("100"), 1), "late fee")
	assertDecimal(t, "100", LateFee(d("100"), 30), "late fee")
	assertDecimal(t, "4.17", LateFee(d("12.50"), 10), "late fee")
}

func TestLateFee_RoundsToCentsOnce(t *testing.T) {
	// 0.14/30 is under half a cent
	assertDecimal(t, "0", LateFee(d("0.14"), 1), "late fee")
	// 43.2096*7/30 = 10.08224
	assertDecimal(t, "10.08", LateFee(d("43.2096"), 7), "late fee")
	// 1.00*3/30 = 0.1, no per-day rounding
	assertDecimal(t, "0.1", LateFee(d("1.00"), 3), "late fee")
	// cycle interest keeps full precision
	assertDecimal(t, "43.2096", CycleInterest(d("432.096"), d("10")), "cycle interest")
}

func TestLateFee_IgnoresCycleLength(t *testing.T) {
	due := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	now := due.Add(6 * 24 * time.Hour)
	short := &models.Loan{CycleDays: 15, CycleInterestAmount: d("100"), PrincipalOpen: d("1000"), DueAt: due}
	long := &models.Loan{CycleDays: 45, CycleInterestAmount: d("100"), PrincipalOpen: d("1000"), DueAt: due}

	// Both accrue 100/30 per day regardless of their own cycle.
	assertDecimal(t, "20", QuoteLoan(short, now).LateFee, "late fee")
	assertDecimal(t, "20", QuoteLoan(long, now).LateFee, "late fee")
}

func TestDueDate(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), DueDate(start, 30))
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), DueDate(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), 29))
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), DueDate(start, 1))

	local := time.Date(2024, 1, 1, 22, 0, 0, 0, time.FixedZone("BRT", -3*60*60))
	assert.Equal(t, time.Date(2024, 2, 1, 1, 0, 0, 0, time.UTC), DueDate(local, 30))
}

func TestAllocatePayment_InterestPlusPrincipal(t *testing.T) {
	a := AllocatePayment(d("150"), d("20"), d("100"), d("1000"), models.PaymentTypeInterestPlusPrincipal)
	assertDecimal(t, "20", a.LateFeePaid, "late fee paid")
	assertDecimal(t, "100", a.CycleInterestPaid, "cycle interest paid")
	assertDecimal(t, "30", a.PrincipalPaid, "principal paid")
	assertDecimal(t, "0", a.Remaining, "remaining")
}

func TestAllocatePayment_InterestOnlyNeverTouchesPrincipal(t *testing.T) {
	a := AllocatePayment(d("500"), d("0"), d("100"), d("1000"), models.PaymentTypeInterestOnly)
	assertDecimal(t, "0", a.LateFeePaid, "late fee paid")
	assertDecimal(t, "100", a.CycleInterestPaid, "cycle interest paid")
	assertDecimal(t, "0", a.PrincipalPaid, "principal paid")
	assertDecimal(t, "400", a.Remaining, "remaining")
}

func TestAllocatePayment_Waterfall(t *testing.T) {
	tests := []struct {
		name                                 string
		amount, lateFee, interest, principal string
		typ                                  models.PaymentType
		want                                 [4]string
	}{
		{"partial late fee", "15", "20", "100", "1000", models.PaymentTypeFullSettlement, [4]string{"15", "0", "0", "0"}},
		{"fee then part of interest", "70", "20", "100", "1000", models.PaymentTypeInterestOnly, [4]string{"20", "50", "0", "0"}},
		{"full settlement exact", "1120", "20", "100", "1000", models.PaymentTypeFullSettlement, [4]string{"20", "100", "1000", "0"}},
		{"overpay returns change", "1200", "20", "100", "1000", models.PaymentTypeFullSettlement, [4]string{"20", "100", "1000", "80"}},
		{"zero amount", "0", "20", "100", "1000", models.PaymentTypeInterestPlusPrincipal, [4]string{"0", "0", "0", "0"}},
		{"no debt", "50", "0", "0", "0", models.PaymentTypeFullSettlement, [4]string{"0", "0", "0", "50"}},
		{"cents", "100.10", "3.33", "96.77", "500", models.PaymentTypeInterestPlusPrincipal, [4]string{"3.33", "96.77", "0", "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := AllocatePayment(d(tt.amount), d(tt.lateFee), d(tt.interest), d(tt.principal), tt.typ)
			assertDecimal(t, tt.want[0], a.LateFeePaid, "late fee paid")
			assertDecimal(t, tt.want[1], a.CycleInterestPaid, "cycle interest paid")
			assertDecimal(t, tt.want[2], a.PrincipalPaid, "principal paid")
			assertDecimal(t, tt.want[3], a.Remaining, "remaining")
		})
	}
}

func TestAllocatePayment_NeverAllocatesMoreThanAmount(t *testing.T) {
	types := []models.PaymentType{models.PaymentTypeInterestOnly, models.PaymentTypeInterestPlusPrincipal, models.PaymentTypeFullSettlement}
	for _, typ := range types {
		for cents := int64(0); cents <= 150000; cents += 1237 {
			amount := decimal.New(cents, -2)
			a := AllocatePayment(amount, d("20.50"), d("100.25"), d("1000"), typ)
			assert.True(t, a.Applied().LessThanOrEqual(amount), "%s %s applied %s", typ, amount, a.Applied())
			assert.True(t, a.Applied().Add(a.Remaining).Equal(amount), "%s %s does not add up", typ, amount)
			assert.False(t, a.Remaining.IsNegative())
		}
	}
}

func TestAllocatePayment_Idempotent(t *testing.T) {
	first := AllocatePayment(d("150"), d("20"), d("100"), d("1000"), models.PaymentTypeInterestPlusPrincipal)
	second := AllocatePayment(d("150"), d("20"), d("100"), d("1000"), models.PaymentTypeInterestPlusPrincipal)
	assert.Equal(t, first, second)
}

func TestMaxPayable(t *testing.T) {
	assertDecimal(t, "120", MaxPayable(models.PaymentTypeInterestOnly, d("20"), d("100"), d("1000")), "max payable")
	assertDecimal(t, "1120", MaxPayable(models.PaymentTypeInterestPlusPrincipal, d("20"), d("100"), d("1000")), "max payable")
	assertDecimal(t, "1120", MaxPayable(models.PaymentTypeFullSettlement, d("20"), d("100"), d("1000")), "max payable")
}

func rolloverState() CycleState {
	return CycleState{
		PrincipalOpen:  d("1000"),
		MonthlyRatePct: d("10"),
		CycleDays:      30,
		CycleInterest:  d("100"),
		LateFee:        d("20"),
		DueAt:          time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}
}

func TestRollover_PartialInterest(t *testing.T) {
	s := rolloverState()
	at := time.Date(2024, 2, 6, 15, 0, 0, 0, time.UTC)
	a := AllocatePayment(d("50"), s.LateFee, s.CycleInterest, s.PrincipalOpen, models.PaymentTypeInterestOnly)

	r := Rollover(s, a, models.PaymentTypeInterestOnly, at)

	// 1000 - 0 + (100 - 30) + (20 - 20)
	assertDecimal(t, "1070", r.PrincipalOpen, "principal open")
	assertDecimal(t, "107", r.CycleInterestAmount, "cycle interest")
	assert.Equal(t, at.AddDate(0, 0, 30), r.DueAt)
	assert.Equal(t, models.LoanStatusActive, r.Status)
}

func TestRollover_ZeroPayment(t *testing.T) {
	s := rolloverState()
	at := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	a := AllocatePayment(decimal.Zero, s.LateFee, s.CycleInterest, s.PrincipalOpen, models.PaymentTypeInterestPlusPrincipal)

	r := Rollover(s, a, models.PaymentTypeInterestPlusPrincipal, at)

	assertDecimal(t, "1120", r.PrincipalOpen, "principal open")
	assertDecimal(t, "112", r.CycleInterestAmount, "cycle interest")
	// The clock restarts at the processing moment, not at the missed due date.
	assert.Equal(t, time.Date(2024, 4, 14, 0, 0, 0, 0, time.UTC), r.DueAt)
	assert.False(t, r.Closed())
}

func TestRollover_FullSettlementCloses(t *testing.T) {
	s := rolloverState()
	s.LateFee = decimal.Zero
	at := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
	a := AllocatePayment(d("1100"), s.LateFee, s.CycleInterest, s.PrincipalOpen, models.PaymentTypeFullSettlement)

	r := Rollover(s, a, models.PaymentTypeFullSettlement, at)

	assert.True(t, r.Closed())
	assertDecimal(t, "0", r.PrincipalOpen, "principal open")
	assert.Equal(t, s.DueAt, r.DueAt, "due date must not move on close")
	assert.True(t, r.CycleInterestAmount.Equal(s.CycleInterest), "cycle interest must not be recomputed on close")
}

func TestRollover_FullSettlementWithinEpsilon(t *testing.T) {
	s := rolloverState()
	s.LateFee = decimal.Zero
	a := AllocatePayment(d("1099.99"), s.LateFee, s.CycleInterest, s.PrincipalOpen, models.PaymentTypeFullSettlement)

	r := Rollover(s, a, models.PaymentTypeFullSettlement, time.Now())

	assert.True(t, r.Closed())
	assertDecimal(t, "0.01", r.PrincipalOpen, "principal open")
}

func TestRollover_FullSettlementShortStaysOpen(t *testing.T) {
	s := rolloverState()
	at := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	a := AllocatePayment(d("620"), s.LateFee, s.CycleInterest, s.PrincipalOpen, models.PaymentTypeFullSettlement)

	r := Rollover(s, a, models.PaymentTypeFullSettlement, at)

	assert.False(t, r.Closed())
	assertDecimal(t, "500", r.PrincipalOpen, "principal open")
	assertDecimal(t, "50", r.CycleInterestAmount, "cycle interest")
	assert.Equal(t, at.AddDate(0, 0, 30), r.DueAt)
}

func TestRollover_PayingEverythingWithoutSettlementKeepsLoanOpen(t *testing.T) {
	s := rolloverState()
	at := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	a := AllocatePayment(d("1120"), s.LateFee, s.CycleInterest, s.PrincipalOpen, models.PaymentTypeInterestPlusPrincipal)

	r := Rollover(s, a, models.PaymentTypeInterestPlusPrincipal, at)

	assert.False(t, r.Closed())
	assertDecimal(t, "0", r.PrincipalOpen, "principal open")
	assertDecimal(t, "0", r.CycleInterestAmount, "cycle interest")
}

func TestRollover_ClampsNegativePrincipal(t *testing.T) {
	s := rolloverState()
	s.LateFee = decimal.Zero
	s.CycleInterest = decimal.Zero
	// An allocation that claims more principal than is open.
	a := Allocation{LateFeePaid: decimal.Zero, CycleInterestPaid: decimal.Zero, PrincipalPaid: d("1000.50"), Remaining: decimal.Zero}

	r := Rollover(s, a, models.PaymentTypeInterestPlusPrincipal, time.Now())

	assertDecimal(t, "0", r.PrincipalOpen, "principal open")
	assertDecimal(t, "0", r.CycleInterestAmount, "cycle interest")
}

func TestRollover_RepeatedCyclesStayExact(t *testing.T) {
	s := rolloverState()
	s.LateFee = decimal.Zero
	at := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		a := AllocatePayment(s.CycleInterest, s.LateFee, s.CycleInterest, s.PrincipalOpen, models.PaymentTypeInterestOnly)
		r := Rollover(s, a, models.PaymentTypeInterestOnly, at)
		s.PrincipalOpen = r.PrincipalOpen
		s.CycleInterest = r.CycleInterestAmount
		s.DueAt = r.DueAt
		at = r.DueAt
	}
	assertDecimal(t, "1000", s.PrincipalOpen, "principal open")
	assertDecimal(t, "100", s.CycleInterest, "cycle interest")
}
