package parse

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"time"

	"lockdown/internal/model"
)

// Example line:
// Dec 29 12:00:00 server sshd[123]: Failed password for root from 203.0.113.10 port 5555 ssh2
var reSSHFailed = regexp.MustCompile(
	`^([A-Za-z]{3})\s+(\d{1,2})\s+(\d{2}):(\d{2}):(\d{2}).*Failed password for (?:invalid user\s+)?(\S+) from (\S+)`)

var months = map[string]time.Month{
	"JAN": time.January, "FEB": time.February, "MAR": time.March,
	"APR": time.April, "MAY": time.May, "JUN": time.June,
	"JUL": time.July, "AUG": time.August, "SEP": time.September,
	"OCT": time.October, "NOV": time.November, "DEC": time.December,
}

// Parser turns raw sshd auth-log lines into normalized events.
//
// Syslog lines carry no year, so the parser stamps the current year from its
// clock. Lines replayed across a year boundary are misattributed to the
// current year; that is a known, deliberately preserved limitation of the
// log format, not something the parser tries to guess around.
type Parser struct {
	now func() time.Time
}

func NewParser(now func() time.Time) *Parser {
	if now == nil {
		now = time.Now
	}
	return &Parser{now: now}
}

// Parse returns nil for lines that do not match the failed-password shape.
// A miss is the common case, not an error.
func (p *Parser) Parse(line string) *model.NormalizedEvent {
	m := reSSHFailed.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	month, ok := months[strings.ToUpper(m[1])]
	if !ok {
		return nil
	}
	day, _ := strconv.Atoi(m[2])
	hour, _ := strconv.Atoi(m[3])
	minute, _ := strconv.Atoi(m[4])
	second, _ := strconv.Atoi(m[5])
	user := m[6]
	ip := m[7]

	ts := time.Date(p.now().UTC().Year(), month, day, hour, minute, second, 0, time.UTC)
	raw := strings.TrimSpace(line)

	return &model.NormalizedEvent{
		Timestamp:   ts,
		Source:      model.SourceSSH,
		EventType:   model.EventSSHFailedAuth,
		IP:          ip,
		Username:    user,
		Status:      model.StatusFailed,
		Raw:         raw,
		Fingerprint: Fingerprint(ts, model.SourceSSH, model.EventSSHFailedAuth, ip, user, model.StatusFailed, raw),
	}
}

// Fingerprint is the deduplication key: a sha256 over the event's semantic
// fields. Two lines with identical fields collide on purpose, which is what
// makes re-ingesting the same file idempotent.
func Fingerprint(ts time.Time, source, eventType, ip, user, status, raw string) string {
	parts := []string{
		ts.UTC().Format(time.RFC3339),
		source,
		eventType,
		ip,
		user,
		status,
		raw,
	}
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}
