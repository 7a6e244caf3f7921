package model

import "time"

const (
	SourceSSH          = "ssh"
	EventSSHFailedAuth = "ssh_failed_password"

	StatusFailed  = "failed"
	StatusSuccess = "success"
)

// NormalizedEvent is one parsed auth-log line. Events are append-only:
// inserted once during ingestion, never updated or deleted.
type NormalizedEvent struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source"`
	EventType   string    `json:"event_type"`
	IP          string    `json:"ip,omitempty"`
	Username    string    `json:"username,omitempty"`
	Status      string    `json:"status,omitempty"`
	Raw         string    `json:"raw"`
	Fingerprint string    `json:"fingerprint"`
}

// DetectionResult is recomputed on every detection request, never persisted.
type DetectionResult struct {
	IP          string    `json:"ip"`
	Count       int       `json:"count"`
	Threshold   int       `json:"threshold"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

type IPCount struct {
	IP    string `json:"ip"`
	Count int    `json:"count"`
}

type HourCount struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

type WindowInfo struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type SummaryReport struct {
	Window              WindowInfo     `json:"window"`
	TotalFailedAttempts int            `json:"total_failed_attempts"`
	UniqueIPs           int            `json:"unique_ips"`
	TopIPs              []IPCount      `json:"top_ips"`
	ByHourUTC           []HourCount    `json:"by_hour_utc"`
	AlertsByThreshold   map[string]int `json:"alerts_by_threshold"`
}

type KPIReport struct {
	Window              WindowInfo `json:"window"`
	TotalFailedAttempts int        `json:"total_failed_attempts"`
	UniqueIPs           int        `json:"unique_ips"`
	AttackRatePerHour   float64    `json:"attack_rate_per_hour"`
	HighRiskIPs         int        `json:"high_risk_ips"`
	RiskScore           float64    `json:"risk_score"`
	PeakAttackHourUTC   *int       `json:"peak_attack_hour_utc"`
}

// WindowMetrics is the per-window measurement compared by trend reports.
type WindowMetrics struct {
	TotalFailedAttempts int     `json:"total_failed_attempts"`
	UniqueIPs           int     `json:"unique_ips"`
	HighRiskIPs         int     `json:"high_risk_ips"`
	AttackRatePerHour   float64 `json:"attack_rate_per_hour"`
	RiskScore           float64 `json:"risk_score"`
}

// MetricDelta compares one metric across two consecutive windows. PctChange
// is nil when the previous window is zero and the current is not: there is
// no baseline to compare against, which is different from no change.
type MetricDelta struct {
	Current   float64  `json:"current"`
	Previous  float64  `json:"previous"`
	PctChange *float64 `json:"pct_change"`
}

type TrendReport struct {
	CurrentWindow  WindowInfo             `json:"current_window"`
	PreviousWindow WindowInfo             `json:"previous_window"`
	Metrics        map[string]MetricDelta `json:"metrics"`
}
