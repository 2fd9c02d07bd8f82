package ledger

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatCurrency(t *testing.T) {
	got := FormatCurrency(d("1234.5"))
	assert.True(t, strings.HasPrefix(got, "R$ "), got)
	assert.True(t, strings.HasSuffix(got, "234,50"), got)

	assert.True(t, strings.HasSuffix(FormatCurrency(d("33.333")), "33,33"))

	negative := FormatCurrency(d("-10"))
	assert.True(t, strings.HasPrefix(negative, "-R$ "), negative)
	assert.True(t, strings.HasSuffix(negative, "10,00"), negative)
}

func TestFormatDate(t *testing.T) {
	at := time.Date(2024, 1, 31, 14, 5, 0, 0, time.UTC)
	assert.Equal(t, "31/01/2024", FormatDate(at))
	assert.Equal(t, "31/01/2024 14:05", FormatDateTime(at))
}
