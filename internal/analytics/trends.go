package analytics

import (
	"context"
	"math"
	"time"

	"lockdown/internal/model"
	"lockdown/internal/storage"
)

// Trends compares two back-to-back equal-length windows: the current
// [now-window, now) against the previous [now-2*window, now-window).
func (a *Aggregator) Trends(ctx context.Context, window time.Duration) (model.TrendReport, error) {
	now := a.now().UTC()
	currStart := now.Add(-window)
	prevStart := now.Add(-2 * window)

	curr, err := a.windowMetrics(ctx, storage.Window{Start: currStart, End: now, IncludeEnd: false})
	if err != nil {
		return model.TrendReport{}, err
	}
	prev, err := a.windowMetrics(ctx, storage.Window{Start: prevStart, End: currStart, IncludeEnd: false})
	if err != nil {
		return model.TrendReport{}, err
	}

	metrics := map[string]model.MetricDelta{
		"total_failed_attempts": delta(float64(curr.TotalFailedAttempts), float64(prev.TotalFailedAttempts)),
		"unique_ips":            delta(float64(curr.UniqueIPs), float64(prev.UniqueIPs)),
		"high_risk_ips":         delta(float64(curr.HighRiskIPs), float64(prev.HighRiskIPs)),
		"attack_rate_per_hour":  delta(curr.AttackRatePerHour, prev.AttackRatePerHour),
		"risk_score":            delta(curr.RiskScore, prev.RiskScore),
	}

	return model.TrendReport{
		CurrentWindow:  model.WindowInfo{Start: currStart, End: now},
		PreviousWindow: model.WindowInfo{Start: prevStart, End: currStart},
		Metrics:        metrics,
	}, nil
}

func (a *Aggregator) windowMetrics(ctx context.Context, w storage.Window) (model.WindowMetrics, error) {
	total, err := a.store.CountEvents(ctx, model.EventSSHFailedAuth, w)
	if err != nil {
		return model.WindowMetrics{}, err
	}
	unique, err := a.store.CountDistinctIPs(ctx, model.EventSSHFailedAuth, w)
	if err != nil {
		return model.WindowMetrics{}, err
	}
	byIP, err := a.store.CountsByIP(ctx, model.EventSSHFailedAuth, w)
	if err != nil {
		return model.WindowMetrics{}, err
	}

	highRisk := highRiskCount(byIP)
	hours := w.End.Sub(w.Start).Seconds() / 3600
	attackRate := round2(float64(total) / math.Max(hours, 1))

	return model.WindowMetrics{
		TotalFailedAttempts: total,
		UniqueIPs:           unique,
		HighRiskIPs:         highRisk,
		AttackRatePerHour:   attackRate,
		RiskScore:           riskScore(total, unique, highRisk),
	}, nil
}

func delta(curr, prev float64) model.MetricDelta {
	return model.MetricDelta{Current: curr, Previous: prev, PctChange: pctChange(curr, prev)}
}

// pctChange is nil when there is no baseline (previous zero, current not),
// and 0.0 when both windows are zero. The distinction is part of the
// report contract.
func pctChange(curr, prev float64) *float64 {
	if prev == 0 {
		if curr == 0 {
			zero := 0.0
			return &zero
		}
		return nil
	}
	v := round2((curr - prev) / prev * 100)
	return &v
}
