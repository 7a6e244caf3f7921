package detect

import (
	"context"
	"sort"
	"time"

	"lockdown/internal/model"
	"lockdown/internal/storage"
)

// Detector flags source IPs whose failed-attempt count inside a recent
// window meets a threshold. Stateless: every call queries the store fresh.
type Detector struct {
	store storage.Store
	now   func() time.Time
}

func NewDetector(store storage.Store, now func() time.Time) *Detector {
	if now == nil {
		now = time.Now
	}
	return &Detector{store: store, now: now}
}

// BruteForce scans [now-window, now], both ends inclusive. Results are
// ordered by count descending, IP ascending on ties, so output is
// deterministic for a given store state.
func (d *Detector) BruteForce(ctx context.Context, threshold int, window time.Duration) ([]model.DetectionResult, error) {
	end := d.now().UTC()
	start := end.Add(-window)
	counts, err := d.store.CountsByIP(ctx, model.EventSSHFailedAuth, storage.Window{
		Start:      start,
		End:        end,
		IncludeEnd: true,
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.DetectionResult, 0)
	for ip, n := range counts {
		if n >= threshold {
			out = append(out, model.DetectionResult{
				IP:          ip,
				Count:       n,
				Threshold:   threshold,
				WindowStart: start,
				WindowEnd:   end,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].IP < out[j].IP
	})
	return out, nil
}
