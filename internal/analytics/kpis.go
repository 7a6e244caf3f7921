package analytics

import (
	"context"
	"math"
	"time"

	"lockdown/internal/model"
	"lockdown/internal/storage"
)

// BusinessKPIs reports headline numbers over [now-window, now). The attack
// rate divides by whole window hours (floored at 1), unlike the trend
// report's seconds-based divisor; both conventions are kept as-is for
// report compatibility.
func (a *Aggregator) BusinessKPIs(ctx context.Context, window time.Duration) (model.KPIReport, error) {
	end := a.now().UTC()
	start := end.Add(-window)
	w := storage.Window{Start: start, End: end, IncludeEnd: false}

	total, err := a.store.CountEvents(ctx, model.EventSSHFailedAuth, w)
	if err != nil {
		return model.KPIReport{}, err
	}
	unique, err := a.store.CountDistinctIPs(ctx, model.EventSSHFailedAuth, w)
	if err != nil {
		return model.KPIReport{}, err
	}
	byIP, err := a.store.CountsByIP(ctx, model.EventSSHFailedAuth, w)
	if err != nil {
		return model.KPIReport{}, err
	}
	byHour, err := a.store.CountsByHour(ctx, model.EventSSHFailedAuth, w)
	if err != nil {
		return model.KPIReport{}, err
	}

	windowHours := math.Floor(window.Hours())
	attackRate := round2(float64(total) / math.Max(windowHours, 1))
	highRisk := highRiskCount(byIP)

	var peak *int
	peakCount := -1
	for hour, n := range byHour {
		if n > peakCount || (n == peakCount && peak != nil && hour < *peak) {
			h := hour
			peak = &h
			peakCount = n
		}
	}

	return model.KPIReport{
		Window:              model.WindowInfo{Start: start, End: end},
		TotalFailedAttempts: total,
		UniqueIPs:           unique,
		AttackRatePerHour:   attackRate,
		HighRiskIPs:         highRisk,
		RiskScore:           riskScore(total, unique, highRisk),
		PeakAttackHourUTC:   peak,
	}, nil
}
