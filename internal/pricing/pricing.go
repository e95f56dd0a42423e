// Package pricing turns a task's priority or explicit threshold into a bid
// limit price in cents.
package pricing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/foundry-cloud/flow/internal/flowerr"
	"github.com/shopspring/decimal"
)

const DefaultPriority = "standard"

// Table maps a priority level to a per-unit price in dollars.
type Table map[string]decimal.Decimal

func DefaultTable() Table {
	return Table{
		"critical": decimal.RequireFromString("14.99"),
		"high":     decimal.RequireFromString("12.29"),
		"standard": decimal.RequireFromString("4.24"),
		"low":      decimal.RequireFromString("2.00"),
	}
}

func (t Table) Priorities() []string {
	out := make([]string, 0, len(t))
	for k := range t {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LimitCents returns the limit price in whole cents. A non-nil threshold
// wins over the priority; otherwise an empty priority means DefaultPriority.
// Fractions of a cent are truncated.
func (t Table) LimitCents(priority string, threshold *decimal.Decimal) (int, error) {
	var dollars decimal.Decimal
	if threshold != nil {
		dollars = *threshold
	} else {
		p := priority
		if p == "" {
			p = DefaultPriority
		}
		price, ok := t[p]
		if !ok {
			return 0, &flowerr.ValidationError{
				Field:  "task_management.priority",
				Reason: fmt.Sprintf("must be one of %s, got %q", strings.Join(t.Priorities(), ", "), priority),
			}
		}
		dollars = price
	}

	cents := dollars.Shift(2).Truncate(0)
	if !cents.IsPositive() {
		return 0, &flowerr.ValidationError{Field: "limit_price_cents", Reason: "must be greater than 0, got " + cents.String()}
	}
	return int(cents.IntPart()), nil
}
