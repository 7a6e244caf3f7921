package analytics

import (
	"context"
	"sort"
	"strconv"
	"time"

	"lockdown/internal/model"
	"lockdown/internal/storage"
)

// Summary reports totals, top offenders, the hourly histogram and
// would-trigger alert counts for each caller-supplied threshold over
// [now-window, now], both ends inclusive.
func (a *Aggregator) Summary(ctx context.Context, window time.Duration, topN int, thresholds []int) (model.SummaryReport, error) {
	end := a.now().UTC()
	start := end.Add(-window)
	w := storage.Window{Start: start, End: end, IncludeEnd: true}

	total, err := a.store.CountEvents(ctx, model.EventSSHFailedAuth, w)
	if err != nil {
		return model.SummaryReport{}, err
	}
	unique, err := a.store.CountDistinctIPs(ctx, model.EventSSHFailedAuth, w)
	if err != nil {
		return model.SummaryReport{}, err
	}
	byIP, err := a.store.CountsByIP(ctx, model.EventSSHFailedAuth, w)
	if err != nil {
		return model.SummaryReport{}, err
	}
	byHour, err := a.store.CountsByHour(ctx, model.EventSSHFailedAuth, w)
	if err != nil {
		return model.SummaryReport{}, err
	}

	topIPs := make([]model.IPCount, 0, len(byIP))
	for ip, n := range byIP {
		topIPs = append(topIPs, model.IPCount{IP: ip, Count: n})
	}
	sort.Slice(topIPs, func(i, j int) bool {
		if topIPs[i].Count != topIPs[j].Count {
			return topIPs[i].Count > topIPs[j].Count
		}
		return topIPs[i].IP < topIPs[j].IP
	})
	if topN > 0 && len(topIPs) > topN {
		topIPs = topIPs[:topN]
	}

	hours := make([]model.HourCount, 0, len(byHour))
	for hour, n := range byHour {
		hours = append(hours, model.HourCount{Hour: hour, Count: n})
	}
	sort.Slice(hours, func(i, j int) bool {
		if hours[i].Count != hours[j].Count {
			return hours[i].Count > hours[j].Count
		}
		return hours[i].Hour < hours[j].Hour
	})

	// Thresholds are independent, not exclusive buckets: an IP with 12
	// failures counts toward 3, 5 and 10 at once.
	alerts := make(map[string]int, len(thresholds))
	for _, threshold := range thresholds {
		n := 0
		for _, c := range byIP {
			if c >= threshold {
				n++
			}
		}
		alerts[strconv.Itoa(threshold)] = n
	}

	return model.SummaryReport{
		Window:              model.WindowInfo{Start: start, End: end},
		TotalFailedAttempts: total,
		UniqueIPs:           unique,
		TopIPs:              topIPs,
		ByHourUTC:           hours,
		AlertsByThreshold:   alerts,
	}, nil
}
