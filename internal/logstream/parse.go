package logstream

import (
	"regexp"
	"strings"
	"time"

	"github.com/betbot/botvisor/internal/domain"
)

// [2024-01-01T00:00:00.000Z] [INFO] message
var lineRe = regexp.MustCompile(`^\[([^\]]+)\] \[([A-Za-z]+)\] ?(.*)$`)

// ParseLine turns one sink line into an entry. A "[ts] [LEVEL] message" line
// keeps its level and message; its timestamp falls back to now when ts is not
// RFC 3339. Lines of any other shape (the exit line, raw worker output) become
// an info entry stamped with now. Blank lines are dropped (ok=false).
func ParseLine(line string, now time.Time) (domain.LogEntry, bool) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return domain.LogEntry{}, false
	}
	if m := lineRe.FindStringSubmatch(line); m != nil {
		ts, err := time.Parse(time.RFC3339Nano, m[1])
		if err != nil {
			ts = now
		}
		return domain.LogEntry{
			Timestamp: ts.UTC(),
			Level:     domain.LogLevel(strings.ToLower(m[2])),
			Message:   m[3],
		}, true
	}
	return domain.LogEntry{
		Timestamp: now.UTC(),
		Level:     domain.LogLevelInfo,
		Message:   line,
	}, true
}

func parseLines(lines []string, now time.Time) []domain.LogEntry {
	out := make([]domain.LogEntry, 0, len(lines))
	for _, l := range lines {
		if e, ok := ParseLine(l, now); ok {
			out = append(out, e)
		}
	}
	return out
}
