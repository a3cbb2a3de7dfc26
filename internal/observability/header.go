package observability

import (
	"net/http"
	"strconv"
	"strings"
)

// ServerTimingHeader carries per-stage lookup timings to the caller.
const ServerTimingHeader = "Server-Timing"

// AppendServerTiming adds one Server-Timing metric to w. Non-positive
// durations and empty descriptions are left out; a metric with neither
// is not written at all.
func AppendServerTiming(w http.ResponseWriter, name string, durMs float64, desc string) {
	if durMs <= 0 && desc == "" {
		return
	}
	var b strings.Builder
	b.WriteString(name)
	if durMs > 0 {
		b.WriteString(";dur=")
		b.WriteString(formatMs(durMs))
	}
	if desc != "" {
		b.WriteString(";desc=")
		b.WriteString(strconv.Quote(desc))
	}
	w.Header().Add(ServerTimingHeader, b.String())
}

// SetIfPos sets key to ms with two decimals, leaving the header untouched
// when ms is not positive.
func SetIfPos(w http.ResponseWriter, key string, ms float64) {
	if ms > 0 {
		w.Header().Set(key, formatMs(ms))
	}
}

func formatMs(ms float64) string {
	return strconv.FormatFloat(ms, 'f', 2, 64)
}
