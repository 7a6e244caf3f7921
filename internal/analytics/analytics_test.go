package analytics

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"lockdown/internal/model"
	"lockdown/internal/storage"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.NewSQLite("file:" + filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s
}

func seedN(t *testing.T, s storage.Store, start time.Time, ip string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * time.Second)
		raw := fmt.Sprintf("%s-%s-%d", ip, start, i)
		_, err := s.InsertEvent(context.Background(), model.NormalizedEvent{
			Timestamp:   ts,
			Source:      model.SourceSSH,
			EventType:   model.EventSSHFailedAuth,
			IP:          ip,
			Username:    "root",
			Status:      model.StatusFailed,
			Raw:         raw,
			Fingerprint: raw,
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestSummary(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, time.December, 29, 18, 0, 0, 0, time.UTC)
	seedN(t, s, now.Add(-6*time.Hour), "203.0.113.10", 12) // hour 12
	seedN(t, s, now.Add(-4*time.Hour), "198.51.100.7", 6)  // hour 14
	seedN(t, s, now.Add(-2*time.Hour), "192.0.2.9", 4)     // hour 16

	agg := NewAggregator(s, func() time.Time { return now })
	rep, err := agg.Summary(context.Background(), 24*time.Hour, 2, []int{3, 5, 10})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if rep.TotalFailedAttempts != 22 || rep.UniqueIPs != 3 {
		t.Fatalf("totals: %d/%d", rep.TotalFailedAttempts, rep.UniqueIPs)
	}
	if len(rep.TopIPs) != 2 {
		t.Fatalf("top n not applied: %+v", rep.TopIPs)
	}
	if rep.TopIPs[0].IP != "203.0.113.10" || rep.TopIPs[0].Count != 12 {
		t.Fatalf("top ip: %+v", rep.TopIPs[0])
	}
	if rep.ByHourUTC[0].Hour != 12 || rep.ByHourUTC[0].Count != 12 {
		t.Fatalf("hour histogram: %+v", rep.ByHourUTC)
	}
	// 12 >= all three thresholds, 6 >= 3 and 5, 4 >= 3 only
	if rep.AlertsByThreshold["3"] != 3 || rep.AlertsByThreshold["5"] != 2 || rep.AlertsByThreshold["10"] != 1 {
		t.Fatalf("alerts by threshold: %v", rep.AlertsByThreshold)
	}
}

func TestSummaryThresholdMonotonicity(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, time.December, 29, 18, 0, 0, 0, time.UTC)
	seedN(t, s, now.Add(-3*time.Hour), "1.1.1.1", 11)
	seedN(t, s, now.Add(-3*time.Hour), "2.2.2.2", 7)
	seedN(t, s, now.Add(-3*time.Hour), "3.3.3.3", 4)

	agg := NewAggregator(s, func() time.Time { return now })
	thresholds := []int{2, 5, 8, 10}
	rep, err := agg.Summary(context.Background(), 24*time.Hour, 10, thresholds)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	for i := 1; i < len(thresholds); i++ {
		lo := rep.AlertsByThreshold[fmt.Sprint(thresholds[i-1])]
		hi := rep.AlertsByThreshold[fmt.Sprint(thresholds[i])]
		if lo < hi {
			t.Fatalf("threshold counts not monotone: %v", rep.AlertsByThreshold)
		}
	}
}

func TestBusinessKPIs(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, time.December, 29, 18, 0, 0, 0, time.UTC)
	// total 20, unique 4, one high-risk ip (>=10)
	seedN(t, s, now.Add(-6*time.Hour), "203.0.113.10", 12)
	seedN(t, s, now.Add(-4*time.Hour), "198.51.100.7", 3)
	seedN(t, s, now.Add(-4*time.Hour), "192.0.2.9", 3)
	seedN(t, s, now.Add(-2*time.Hour), "192.0.2.10", 2)

	agg := NewAggregator(s, func() time.Time { return now })
	rep, err := agg.BusinessKPIs(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("kpis: %v", err)
	}
	if rep.TotalFailedAttempts != 20 || rep.UniqueIPs != 4 || rep.HighRiskIPs != 1 {
		t.Fatalf("counts: %+v", rep)
	}
	// 0.5*20 + 2*4 + 5*1
	if rep.RiskScore != 23.0 {
		t.Fatalf("risk score: %v", rep.RiskScore)
	}
	if rep.AttackRatePerHour != 0.83 {
		t.Fatalf("attack rate: %v", rep.AttackRatePerHour)
	}
	if rep.PeakAttackHourUTC == nil || *rep.PeakAttackHourUTC != 12 {
		t.Fatalf("peak hour: %v", rep.PeakAttackHourUTC)
	}
}

func TestBusinessKPIsEmptyWindow(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, time.December, 29, 18, 0, 0, 0, time.UTC)
	agg := NewAggregator(s, func() time.Time { return now })
	rep, err := agg.BusinessKPIs(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("kpis: %v", err)
	}
	if rep.TotalFailedAttempts != 0 || rep.RiskScore != 0 {
		t.Fatalf("empty window: %+v", rep)
	}
	if rep.PeakAttackHourUTC != nil {
		t.Fatalf("peak hour should be nil when empty")
	}
}

func TestTrends(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, time.December, 29, 18, 0, 0, 0, time.UTC)
	// previous window [now-48h, now-24h): 4 attempts from one ip
	seedN(t, s, now.Add(-30*time.Hour), "203.0.113.10", 4)
	// current window [now-24h, now): 5 attempts from one ip
	seedN(t, s, now.Add(-6*time.Hour), "203.0.113.10", 5)

	agg := NewAggregator(s, func() time.Time { return now })
	rep, err := agg.Trends(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("trends: %v", err)
	}
	d := rep.Metrics["total_failed_attempts"]
	if d.Current != 5 || d.Previous != 4 {
		t.Fatalf("totals: %+v", d)
	}
	if d.PctChange == nil || *d.PctChange != 25.0 {
		t.Fatalf("pct change: %v", d.PctChange)
	}
	// zero in both windows compares as exactly no change
	hr := rep.Metrics["high_risk_ips"]
	if hr.PctChange == nil || *hr.PctChange != 0.0 {
		t.Fatalf("zero/zero pct change: %v", hr.PctChange)
	}
	if !rep.CurrentWindow.Start.Equal(now.Add(-24 * time.Hour)) || !rep.PreviousWindow.End.Equal(rep.CurrentWindow.Start) {
		t.Fatalf("windows not back-to-back: %+v", rep)
	}
}

func TestTrendsNoBaseline(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, time.December, 29, 18, 0, 0, 0, time.UTC)
	// empty previous window, 5 attempts in the current one
	seedN(t, s, now.Add(-6*time.Hour), "203.0.113.10", 5)

	agg := NewAggregator(s, func() time.Time { return now })
	rep, err := agg.Trends(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("trends: %v", err)
	}
	d := rep.Metrics["total_failed_attempts"]
	if d.PctChange != nil {
		t.Fatalf("expected null pct change without baseline, got %v", *d.PctChange)
	}
}

func TestPctChange(t *testing.T) {
	if v := pctChange(5, 4); v == nil || *v != 25.0 {
		t.Fatalf("5 vs 4: %v", v)
	}
	if v := pctChange(3, 9); v == nil || *v != -66.67 {
		t.Fatalf("3 vs 9: %v", v)
	}
	if v := pctChange(0, 0); v == nil || *v != 0.0 {
		t.Fatalf("0 vs 0: %v", v)
	}
	if v := pctChange(5, 0); v != nil {
		t.Fatalf("5 vs 0: %v", *v)
	}
}
