package analytics

import (
	"math"
	"time"

	"lockdown/internal/storage"
)

// HighRiskThreshold is the fixed cutoff for calling an IP high-risk:
// at least this many failed attempts inside the analysis window.
const HighRiskThreshold = 10

// Risk score weights. A deliberately simple linear model so the number can
// be explained; changing the weights breaks report compatibility.
const (
	weightTotalFailed = 0.5
	weightUniqueIPs   = 2.0
	weightHighRisk    = 5.0
)

// Aggregator computes windowed reports straight from the store. Nothing is
// cached; every call recomputes against the current data.
type Aggregator struct {
	store storage.Store
	now   func() time.Time
}

func NewAggregator(store storage.Store, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{store: store, now: now}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func riskScore(totalFailed, uniqueIPs, highRiskIPs int) float64 {
	return round2(weightTotalFailed*float64(totalFailed) +
		weightUniqueIPs*float64(uniqueIPs) +
		weightHighRisk*float64(highRiskIPs))
}

func highRiskCount(byIP map[string]int) int {
	n := 0
	for _, c := range byIP {
		if c >= HighRiskThreshold {
			n++
		}
	}
	return n
}
