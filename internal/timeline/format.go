package timeline

import (
	"fmt"
	"math"
	"strings"
)

// FormatTimestamp renders seconds as MM:SS. Minutes are not wrapped into
// hours, so 3725s is "62:05".
func FormatTimestamp(seconds float64) string {
	if math.IsInf(seconds, 0) || math.IsNaN(seconds) {
		return "--:--"
	}
	if seconds < 0 {
		seconds = 0
	}
	s := int(seconds)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}

// FormatRange renders an interval as "MM:SS - MM:SS".
func FormatRange(i Interval) string {
	return FormatTimestamp(i.Start()) + " - " + FormatTimestamp(i.End())
}

var newlineReplacer = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "\t", "")

// FlattenText joins fragments with single spaces, turning newlines into
// spaces and dropping tabs so the result fits in one tabular cell.
func FlattenText(fragments []string) string {
	parts := make([]string, 0, len(fragments))
	for _, f := range fragments {
		f = strings.TrimSpace(newlineReplacer.Replace(f))
		if f == "" {
			continue
		}
		parts = append(parts, f)
	}
	return strings.Join(parts, " ")
}
