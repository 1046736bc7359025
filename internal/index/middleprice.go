package index

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ErrInvalidInput marks a configuration inconsistency in upstream data
// assembly. It is fatal: callers must escalate instead of retrying.
var ErrInvalidInput = errors.New("invalid input")

// TrimmedMeanPrice derives a single robust price from per-source prices.
// With more than two values the single minimum and single maximum are
// dropped before averaging; one or two values are averaged as-is.
func TrimmedMeanPrice(assetID string, prices []decimal.Decimal) (decimal.Decimal, error) {
	if assetID == "" {
		return decimal.Zero, fmt.Errorf("%w: blank asset id", ErrInvalidInput)
	}
	if len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("%w: no prices for asset %s", ErrInvalidInput, assetID)
	}

	sorted := make([]decimal.Decimal, len(prices))
	copy(sorted, prices)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].LessThan(sorted[j])
	})

	if len(sorted) > 2 {
		sorted = sorted[1 : len(sorted)-1]
	}

	return decimal.Avg(sorted[0], sorted[1:]...), nil
}
