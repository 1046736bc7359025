package stats

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/selivandex/crypto-index/pkg/models"
)

func TestTrackerKeyNumbers(t *testing.T) {
	base := time.Date(2019, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("requires two samples", func(t *testing.T) {
		tracker := NewTracker(24 * time.Hour)
		if _, err := tracker.KeyNumbers(); err == nil {
			t.Error("expected error with no samples")
		}
		tracker.Add(base, 1000)
		if _, err := tracker.KeyNumbers(); err == nil {
			t.Error("expected error with one sample")
		}
	})

	t.Run("summary over a rising series", func(t *testing.T) {
		tracker := NewTracker(24 * time.Hour)
		values := []float64{1000, 1005.52, 1000.16, 1010, 1020}
		for i, v := range values {
			tracker.Add(base.Add(time.Duration(i)*time.Minute), v)
		}

		kn, err := tracker.KeyNumbers()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if kn.Current != 1020 {
			t.Errorf("current: expected 1020, got %v", kn.Current)
		}
		if kn.Max != 1020 || kn.Min != 1000 {
			t.Errorf("range: expected [1000, 1020], got [%v, %v]", kn.Min, kn.Max)
		}
		if math.Abs(kn.ReturnPercent-2.0) > 0.001 {
			t.Errorf("return: expected ~2%%, got %v", kn.ReturnPercent)
		}
		if kn.Volatility <= 0 {
			t.Errorf("expected positive volatility, got %v", kn.Volatility)
		}
		if !kn.TrendUp {
			t.Error("expected upward trend")
		}
		if !kn.From.Equal(base) || !kn.To.Equal(base.Add(4*time.Minute)) {
			t.Errorf("window bounds: %v .. %v", kn.From, kn.To)
		}
	})

	t.Run("downward trend", func(t *testing.T) {
		tracker := NewTracker(24 * time.Hour)
		for i, v := range []float64{1020, 1015, 1010, 1005} {
			tracker.Add(base.Add(time.Duration(i)*time.Minute), v)
		}
		kn, err := tracker.KeyNumbers()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if kn.TrendUp {
			t.Error("expected downward trend")
		}
	})

	t.Run("old samples roll out of the window", func(t *testing.T) {
		tracker := NewTracker(time.Hour)
		tracker.Add(base, 500)
		tracker.Add(base.Add(2*time.Hour), 1000)
		tracker.Add(base.Add(2*time.Hour+time.Minute), 1010)

		kn, err := tracker.KeyNumbers()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if kn.Min != 1000 {
			t.Errorf("evicted sample still visible, min=%v", kn.Min)
		}
	})
}

func TestTrackerPublish(t *testing.T) {
	tracker := NewTracker(24 * time.Hour)
	at := time.Date(2019, 3, 1, 12, 0, 0, 0, time.UTC)

	ticks := []string{"1000", "1005.52"}
	for i, v := range ticks {
		tick := &models.IndexTick{
			Source:    "lci",
			AssetPair: "LCI",
			Bid:       decimal.RequireFromString(v),
			Ask:       decimal.RequireFromString(v),
			Timestamp: at.Add(time.Duration(i) * time.Minute),
		}
		if err := tracker.Publish(context.Background(), tick); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	kn, err := tracker.KeyNumbers()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kn.Current != 1005.52 {
		t.Errorf("current: expected 1005.52, got %v", kn.Current)
	}
}
