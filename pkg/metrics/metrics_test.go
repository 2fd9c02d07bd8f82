package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestObserveBucket(t *testing.T) {
	before := testutil.ToFloat64(PaymentAmount.WithLabelValues("test_bucket"))

	ObserveBucket("test_bucket", decimal.RequireFromString("12.50"))
	ObserveBucket("test_bucket", decimal.Zero)
	ObserveBucket("test_bucket", decimal.RequireFromString("-3"))

	after := testutil.ToFloat64(PaymentAmount.WithLabelValues("test_bucket"))
	assert.InDelta(t, 12.5, after-before, 1e-9)
}
