package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/microloan/pkg/metrics"
	"github.com/mcclellann/microloan/pkg/models"
	"github.com/mcclellann/microloan/pkg/store"
	"github.com/mcclellann/microloan/pkg/validation"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var ErrLoanNotActive = errors.New("loan is not active")

// Clock supplies the current time. Every time-dependent rule reads it through
// the Ledger so tests can pin it.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock in UTC.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

// Ledger handles the business logic for loans and payments.
type Ledger struct {
	storage          store.Storage
	clock            Clock
	log              logrus.FieldLogger
	maxRatePct       decimal.Decimal
	defaultCycleDays int
}

type Option func(*Ledger)

func WithClock(c Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Ledger) { l.log = log }
}

// WithMaxRate caps the monthly rate accepted by CreateLoan.
func WithMaxRate(pct decimal.Decimal) Option {
	return func(l *Ledger) { l.maxRatePct = pct }
}

// WithDefaultCycleDays sets the cycle used when a loan is created without one.
func WithDefaultCycleDays(days int) Option {
	return func(l *Ledger) { l.defaultCycleDays = days }
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage:          s,
		clock:            SystemClock,
		log:              logrus.StandardLogger(),
		maxRatePct:       validation.DefaultMaxMonthlyRatePct,
		defaultCycleDays: DefaultCycleDays,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) now() time.Time {
	return l.clock.Now().UTC()
}

// Quote is the debt position of a loan at a given instant.
type Quote struct {
	LoanID        uuid.UUID       `json:"loan_id"`
	AsOf          time.Time       `json:"as_of"`
	DueAt         time.Time       `json:"due_at"`
	PrincipalOpen decimal.Decimal `json:"principal_open"`
	CycleInterest decimal.Decimal `json:"cycle_interest"`
	LateDays      int             `json:"late_days"`
	LateFee       decimal.Decimal `json:"late_fee"`
	TotalDebt     decimal.Decimal `json:"total_debt"`
	// MaxInterestOnly is the cap for interest_only payments; TotalDebt caps the others.
	MaxInterestOnly decimal.Decimal `json:"max_interest_only"`
}

// IsLate reports whether at least one whole day passed since the due date.
func (q Quote) IsLate() bool {
	return q.LateDays > 0
}

// MaxPayableFor returns the cap that applies to a payment of type t.
func (q Quote) MaxPayableFor(t models.PaymentType) decimal.Decimal {
	return MaxPayable(t, q.LateFee, q.CycleInterest, q.PrincipalOpen)
}

// QuoteLoan computes the position of loan at now. Negative stored principal is
// treated as zero.
func QuoteLoan(loan *models.Loan, now time.Time) Quote {
	principal := decimal.Max(loan.PrincipalOpen, decimal.Zero)
	lateDays := LateDays(loan.DueAt, now)
	lateFee := LateFee(loan.CycleInterestAmount, lateDays)
	return Quote{
		LoanID:          loan.ID,
		AsOf:            now,
		DueAt:           loan.DueAt,
		PrincipalOpen:   principal,
		CycleInterest:   loan.CycleInterestAmount,
		LateDays:        lateDays,
		LateFee:         lateFee,
		TotalDebt:       TotalDebt(lateFee, loan.CycleInterestAmount, principal),
		MaxInterestOnly: lateFee.Add(loan.CycleInterestAmount),
	}
}

// CreateLoan validates the input and opens a new loan. The first due date is
// one cycle after the transfer.
func (l *Ledger) CreateLoan(ctx context.Context, in validation.LoanInput) (*models.Loan, error) {
	if in.CycleDays == 0 {
		in.CycleDays = l.defaultCycleDays
	}
	if err := validation.ValidateLoan(in, l.maxRatePct); err != nil {
		return nil, err
	}

	now := l.now()
	transferAt := now
	if in.TransferAt != nil {
		transferAt = in.TransferAt.UTC()
	}

	loan := &models.Loan{
		ID:                  uuid.New(),
		CustomerKey:         in.CustomerKey,
		PrincipalInitial:    in.Principal,
		PrincipalOpen:       in.Principal,
		MonthlyRatePct:      in.MonthlyRatePct,
		CycleDays:           in.CycleDays,
		CycleInterestAmount: CycleInterest(in.Principal, in.MonthlyRatePct),
		TransferAt:          transferAt,
		DueAt:               DueDate(transferAt, in.CycleDays),
		Status:              models.LoanStatusActive,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := l.storage.CreateLoan(ctx, loan); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}
	metrics.LoansCreated.Inc()

	l.log.WithFields(logrus.Fields{
		"loan_id":        loan.ID,
		"customer_key":   loan.CustomerKey,
		"principal":      loan.PrincipalInitial.StringFixed(2),
		"cycle_interest": loan.CycleInterestAmount.StringFixed(2),
		"due_at":         loan.DueAt,
	}).Info("Loan created")

	return loan, nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return l.storage.GetLoan(ctx, id)
}

// GetAllLoans retrieves all loans.
func (l *Ledger) GetAllLoans(ctx context.Context) ([]*models.Loan, error) {
	return l.storage.ListLoans(ctx)
}

// DeleteLoan deletes a loan together with its payments.
func (l *Ledger) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	if err := l.storage.DeleteLoan(ctx, id); err != nil {
		return err
	}
	l.log.WithField("loan_id", id).Info("Loan deleted")
	return nil
}

// ListPayments returns the payments of an existing loan, oldest first.
func (l *Ledger) ListPayments(ctx context.Context, loanID uuid.UUID) ([]*models.Payment, error) {
	if _, err := l.storage.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}
	return l.storage.ListPaymentsForLoan(ctx, loanID)
}

// Quote returns the current debt position of a loan.
func (l *Ledger) Quote(ctx context.Context, id uuid.UUID) (Quote, error) {
	loan, err := l.storage.GetLoan(ctx, id)
	if err != nil {
		return Quote{}, err
	}
	return QuoteLoan(loan, l.now()), nil
}

// Preview is what a payment would do, without storing anything.
type Preview struct {
	Quote      Quote          `json:"quote"`
	Allocation Allocation     `json:"allocation"`
	Next       RolloverResult `json:"next"`
}

// PreviewPayment allocates amount against the loan as it stands now.
func (l *Ledger) PreviewPayment(ctx context.Context, id uuid.UUID, amount decimal.Decimal, t models.PaymentType) (Preview, error) {
	if !t.Valid() {
		return Preview{}, &validation.Error{Field: "type", Message: fmt.Sprintf("unknown payment type %q", string(t))}
	}
	loan, err := l.storage.GetLoan(ctx, id)
	if err != nil {
		return Preview{}, err
	}
	now := l.now()
	q := QuoteLoan(loan, now)
	a := AllocatePayment(amount, q.LateFee, q.CycleInterest, q.PrincipalOpen, t)
	return Preview{
		Quote:      q,
		Allocation: a,
		Next:       Rollover(cycleState(loan, q), a, t, now),
	}, nil
}

func cycleState(loan *models.Loan, q Quote) CycleState {
	return CycleState{
		PrincipalOpen:  q.PrincipalOpen,
		MonthlyRatePct: loan.MonthlyRatePct,
		CycleDays:      loan.CycleDays,
		CycleInterest:  q.CycleInterest,
		LateFee:        q.LateFee,
		DueAt:          loan.DueAt,
	}
}

// PaymentResult is a stored payment with the loan state it produced.
type PaymentResult struct {
	Payment *models.Payment `json:"payment"`
	Loan    *models.Loan    `json:"loan"`
	Quote   Quote           `json:"quote"`
}

// RecordPayment processes a payment for a loan. The debt is evaluated at the
// processing moment, the amount is capped by the payment type, and the loan
// either closes or starts a new cycle from now. The write fails with
// store.ErrVersionConflict if another payment got there first.
func (l *Ledger) RecordPayment(ctx context.Context, loanID uuid.UUID, in validation.PaymentInput) (*PaymentResult, error) {
	now := l.now()
	if err := validation.ValidatePaymentShape(in, now); err != nil {
		return nil, err
	}

	loan, err := l.storage.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if !loan.IsActive() {
		return nil, ErrLoanNotActive
	}

	q := QuoteLoan(loan, now)
	if err := validation.ValidatePaymentAmount(in.Amount, q.MaxPayableFor(in.Type)); err != nil {
		return nil, err
	}

	alloc := AllocatePayment(in.Amount, q.LateFee, q.CycleInterest, q.PrincipalOpen, in.Type)
	next := Rollover(cycleState(loan, q), alloc, in.Type, now)

	paidAt := now
	if in.PaidAt != nil {
		paidAt = in.PaidAt.UTC()
	}
	payment := &models.Payment{
		ID:                uuid.New(),
		LoanID:            loan.ID,
		Amount:            in.Amount,
		Type:              in.Type,
		LateFeePaid:       alloc.LateFeePaid,
		CycleInterestPaid: alloc.CycleInterestPaid,
		PrincipalPaid:     alloc.PrincipalPaid,
		Change:            alloc.Remaining,
		Note:              in.Note,
		PaidAt:            paidAt,
		CreatedAt:         now,
	}

	updated := *loan
	updated.PrincipalOpen = next.PrincipalOpen
	updated.CycleInterestAmount = next.CycleInterestAmount
	updated.DueAt = next.DueAt
	updated.Status = next.Status
	updated.UpdatedAt = now

	if err := l.storage.ApplyPayment(ctx, payment, &updated); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			metrics.StoreConflicts.Inc()
			return nil, err
		}
		return nil, fmt.Errorf("failed to store payment: %w", err)
	}

	metrics.PaymentsRecorded.WithLabelValues(string(payment.Type)).Inc()
	metrics.ObserveBucket("late_fee", alloc.LateFeePaid)
	metrics.ObserveBucket("interest", alloc.CycleInterestPaid)
	metrics.ObserveBucket("principal", alloc.PrincipalPaid)
	metrics.ObserveBucket("change", alloc.Remaining)

	entry := l.log.WithFields(logrus.Fields{
		"loan_id":             loan.ID,
		"payment_id":          payment.ID,
		"payment_type":        payment.Type,
		"amount":              payment.Amount.StringFixed(2),
		"late_fee_paid":       alloc.LateFeePaid.StringFixed(2),
		"cycle_interest_paid": alloc.CycleInterestPaid.StringFixed(2),
		"principal_paid":      alloc.PrincipalPaid.StringFixed(2),
		"change":              alloc.Remaining.StringFixed(2),
		"principal_open":      updated.PrincipalOpen.StringFixed(2),
	})
	if next.Closed() {
		metrics.LoansClosed.Inc()
		entry.Info("Loan settled and closed")
	} else {
		entry.WithField("due_at", updated.DueAt).Info("Payment recorded, new cycle started")
	}

	return &PaymentResult{Payment: payment, Loan: &updated, Quote: q}, nil
}

// AgendaItem pairs an active loan with its current position.
type AgendaItem struct {
	Loan  *models.Loan `json:"loan"`
	Quote Quote        `json:"quote"`
}

// Agenda lists active loans by due date, soonest first.
func (l *Ledger) Agenda(ctx context.Context) ([]AgendaItem, error) {
	loans, err := l.storage.ListActiveLoans(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active loans: %w", err)
	}
	now := l.now()
	items := make([]AgendaItem, 0, len(loans))
	for _, loan := range loans {
		items = append(items, AgendaItem{Loan: loan, Quote: QuoteLoan(loan, now)})
	}
	return items, nil
}

// Report summarizes the active portfolio.
type Report struct {
	AsOf               time.Time       `json:"as_of"`
	ActiveCount        int             `json:"active_count"`
	ClosedCount        int             `json:"closed_count"`
	LateCount          int             `json:"late_count"`
	OnTimeCount        int             `json:"on_time_count"`
	TotalPrincipalOpen decimal.Decimal `json:"total_principal_open"`
	TotalLateFees      decimal.Decimal `json:"total_late_fees"`
	TotalDebt          decimal.Decimal `json:"total_debt"`
	Late               []AgendaItem    `json:"late"`
	OnTime             []AgendaItem    `json:"on_time"`
}

// Report splits active loans into late and on-time and totals the open amounts.
func (l *Ledger) Report(ctx context.Context) (*Report, error) {
	loans, err := l.storage.ListLoans(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}

	now := l.now()
	r := &Report{
		AsOf:               now,
		TotalPrincipalOpen: decimal.Zero,
		TotalLateFees:      decimal.Zero,
		TotalDebt:          decimal.Zero,
		Late:               []AgendaItem{},
		OnTime:             []AgendaItem{},
	}
	for _, loan := range loans {
		if !loan.IsActive() {
			r.ClosedCount++
			continue
		}
		q := QuoteLoan(loan, now)
		r.ActiveCount++
		r.TotalPrincipalOpen = r.TotalPrincipalOpen.Add(q.PrincipalOpen)
		r.TotalLateFees = r.TotalLateFees.Add(q.LateFee)
		r.TotalDebt = r.TotalDebt.Add(q.TotalDebt)
		item := AgendaItem{Loan: loan, Quote: q}
		if q.IsLate() {
			r.LateCount++
			r.Late = append(r.Late, item)
		} else {
			r.OnTimeCount++
			r.OnTime = append(r.OnTime, item)
		}
	}
	return r, nil
}

// SweepOverdue logs every overdue loan and refreshes the overdue gauge.
// It returns the number of overdue loans.
func (l *Ledger) SweepOverdue(ctx context.Context) (int, error) {
	items, err := l.Agenda(ctx)
	if err != nil {
		return 0, err
	}
	overdue := 0
	for _, item := range items {
		if !item.Quote.IsLate() {
			continue
		}
		overdue++
		l.log.WithFields(logrus.Fields{
			"loan_id":      item.Loan.ID,
			"customer_key": item.Loan.CustomerKey,
			"late_days":    item.Quote.LateDays,
			"late_fee":     item.Quote.LateFee.StringFixed(2),
			"total_debt":   item.Quote.TotalDebt.StringFixed(2),
		}).Warn("Loan overdue")
	}
	metrics.OverdueLoans.Set(float64(overdue))
	l.log.WithFields(logrus.Fields{"active": len(items), "overdue": overdue}).Info("Overdue sweep complete")
	return overdue, nil
}
