package dataplane

import "time"

// processStart anchors nowNanos: its wall reading supplies the Unix epoch
// offset and its monotonic reading measures elapsed time from there.
var processStart = time.Now()

// nowNanos returns a monotonic capture timestamp in Unix nanoseconds: the
// process start's wall time plus the monotonic time elapsed since then.
// Differences between two values (frame age, time since the last
// translation) are therefore unaffected by wall-clock adjustments.
func nowNanos() int64 {
	return processStart.UnixNano() + int64(time.Since(processStart))
}
