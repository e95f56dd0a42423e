package pricing

import (
	"errors"
	"testing"

	"github.com/foundry-cloud/flow/internal/flowerr"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestLimitCents(t *testing.T) {
	table := DefaultTable()

	tests := []struct {
		name      string
		priority  string
		threshold *decimal.Decimal
		want      int
	}{
		{name: "critical", priority: "critical", want: 1499},
		{name: "high is exact", priority: "high", want: 1229},
		{name: "standard", priority: "standard", want: 424},
		{name: "low", priority: "low", want: 200},
		{name: "empty priority defaults to standard", priority: "", want: 424},
		{name: "threshold overrides priority", priority: "critical", threshold: dec("3.5"), want: 350},
		{name: "fractional cents truncate", threshold: dec("1.999"), want: 199},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := table.LimitCents(tt.priority, tt.threshold)
			assert.NoError(t, err)
			check.Equal(t, tt.want, got)
		})
	}
}

func TestLimitCentsErrors(t *testing.T) {
	table := DefaultTable()

	_, err := table.LimitCents("urgent", nil)
	var vErr *flowerr.ValidationError
	assert.True(t, errors.As(err, &vErr))
	check.Equal(t, "task_management.priority", vErr.Field)

	for _, th := range []string{"0", "-1", "0.004"} {
		_, err := table.LimitCents("", dec(th))
		check.True(t, errors.As(err, &vErr))
	}
}
