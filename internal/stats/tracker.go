package stats

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cinar/indicator"

	"github.com/selivandex/crypto-index/pkg/models"
)

// KeyNumbers summarizes the recent behavior of the index.
type KeyNumbers struct {
	Current       float64   `json:"current"`
	Max           float64   `json:"max"`
	Min           float64   `json:"min"`
	ReturnPercent float64   `json:"return_percent"`
	Volatility    float64   `json:"volatility"`
	TrendUp       bool      `json:"trend_up"`
	From          time.Time `json:"from"`
	To            time.Time `json:"to"`
}

type sample struct {
	at    time.Time
	value float64
}

// Tracker keeps a rolling window of committed index values and derives
// trend and volatility numbers from it. It satisfies the engine's publisher
// contract, so it is fanned out next to the real publisher and consumes
// exactly what subscribers see.
type Tracker struct {
	mu      sync.Mutex
	window  time.Duration
	samples []sample
}

// NewTracker creates a tracker with the given window (for example 24h).
func NewTracker(window time.Duration) *Tracker {
	return &Tracker{window: window}
}

// Publish records the tick's value.
func (t *Tracker) Publish(ctx context.Context, tick *models.IndexTick) error {
	value, _ := tick.Bid.Float64()
	t.Add(tick.Timestamp, value)
	return nil
}

// Add records one index value and evicts samples older than the window.
func (t *Tracker) Add(at time.Time, value float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.samples = append(t.samples, sample{at: at, value: value})

	cutoff := at.Add(-t.window)
	i := 0
	for ; i < len(t.samples); i++ {
		if !t.samples[i].at.Before(cutoff) {
			break
		}
	}
	t.samples = t.samples[i:]
}

// KeyNumbers derives the window summary. Requires at least two samples.
func (t *Tracker) KeyNumbers() (*KeyNumbers, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.samples) < 2 {
		return nil, fmt.Errorf("not enough samples: %d", len(t.samples))
	}

	values := make([]float64, len(t.samples))
	for i, s := range t.samples {
		values[i] = s.value
	}

	first := values[0]
	last := values[len(values)-1]
	maxVal, minVal := values[0], values[0]
	for _, v := range values {
		maxVal = math.Max(maxVal, v)
		minVal = math.Min(minVal, v)
	}

	kn := &KeyNumbers{
		Current:       last,
		Max:           maxVal,
		Min:           minVal,
		ReturnPercent: (last/first - 1) * 100,
		Volatility:    logReturnStdDev(values),
		TrendUp:       trendUp(values),
		From:          t.samples[0].at,
		To:            t.samples[len(t.samples)-1].at,
	}
	return kn, nil
}

// logReturnStdDev is the standard deviation of log returns over the series.
func logReturnStdDev(values []float64) float64 {
	if len(values) < 3 {
		return 0
	}

	returns := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] <= 0 || values[i] <= 0 {
			continue
		}
		returns = append(returns, math.Log(values[i]/values[i-1]))
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance)
}

// trendUp smooths the series and compares the last smoothed value with the
// one a quarter of the window earlier.
func trendUp(values []float64) bool {
	period := len(values) / 4
	if period < 2 {
		return values[len(values)-1] >= values[0]
	}

	sma := indicator.Sma(period, values)
	last := sma[len(sma)-1]
	earlier := sma[len(sma)-1-period]
	return last >= earlier
}
