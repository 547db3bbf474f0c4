package util

import (
	"fmt"
	"time"
)

var sizeUnits = []struct {
	size int64
	name string
}{
	{TiB, "TiB"},
	{GiB, "GiB"},
	{MiB, "MiB"},
	{KiB, "KiB"},
}

// Sizeify formats a byte count for display: "312 B", "1.50 KiB", "64.00 MiB".
func Sizeify(size int64) string {
	for _, u := range sizeUnits {
		if size >= u.size {
			return fmt.Sprintf("%.2f %s", float64(size)/float64(u.size), u.name)
		}
	}
	return fmt.Sprintf("%d B", size)
}

// Timeify formats a duration as "HH:MM:SS", or as seconds with two decimals
// when it is shorter than a minute. Negative durations print as zero.
func Timeify(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	s := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
}
