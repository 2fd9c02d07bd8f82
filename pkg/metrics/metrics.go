package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

var (
	// PaymentsRecorded counts stored payments by type.
	PaymentsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "microloan_payments_recorded_total",
			Help: "Payments stored, by payment type",
		},
		[]string{"type"},
	)

	// PaymentAmount sums allocated money by bucket (late_fee, interest, principal, change).
	PaymentAmount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "microloan_payment_amount_total",
			Help: "Money received, split by allocation bucket",
		},
		[]string{"bucket"},
	)

	LoansCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "microloan_loans_created_total",
		Help: "Loans opened",
	})

	LoansClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "microloan_loans_closed_total",
		Help: "Loans closed by full settlement",
	})

	// OverdueLoans is refreshed by the overdue sweep.
	OverdueLoans = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "microloan_overdue_loans",
		Help: "Active loans past their due date at the last sweep",
	})

	StoreConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "microloan_store_conflicts_total",
		Help: "Payments rejected because the loan changed concurrently",
	})
)

// ObserveBucket adds a money amount to the given bucket counter. Negative and
// zero amounts are ignored since counters only grow.
func ObserveBucket(bucket string, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	PaymentAmount.WithLabelValues(bucket).Add(amount.InexactFloat64())
}
