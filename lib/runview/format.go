// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package runview

import (
	"fmt"
	"time"
)

// FormatSize renders a byte count with a binary-scaled unit.
func FormatSize(bytes int64) string {
	switch {
	case bytes >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(1<<30))
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// FormatDuration renders a millisecond count for run listings:
// sub-minute durations keep one decimal, longer ones round to whole
// seconds ("1m41s").
func FormatDuration(milliseconds int64) string {
	duration := time.Duration(milliseconds) * time.Millisecond
	if duration >= time.Minute {
		return duration.Round(time.Second).String()
	}
	return fmt.Sprintf("%.1fs", duration.Seconds())
}
