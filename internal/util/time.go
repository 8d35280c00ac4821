package util

import (
	"fmt"
	"regexp"
	"time"
)

// FileTimeLayout is the timestamp layout embedded in recording filenames.
const FileTimeLayout = "2006-01-02-15-04-05"

var fileTimePattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2}-\d{2}-\d{2}-\d{2})`)

// ExtractTimeFromFilename extracts the local start time embedded in a recording filename.
func ExtractTimeFromFilename(filename string) (time.Time, bool) {
	matches := fileTimePattern.FindStringSubmatch(filename)
	if len(matches) < 2 {
		return time.Time{}, false
	}

	t, err := time.ParseInLocation(FileTimeLayout, matches[1], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// humanTimeFormat is the layout for human-readable timestamps with timezone.
const humanTimeFormat = "2 Jan 2006 15:04:05 MST"

// HumanTime formats t as a human-readable local timestamp.
func HumanTime(t time.Time) string {
	return t.Local().Format(humanTimeFormat)
}

// FormatDuration formats a duration for humans.
// Examples: "45s", "2m 34s", "1h 23m"
func FormatDuration(d time.Duration) string {
	totalSeconds := int64(d / time.Second)
	if totalSeconds < 60 {
		return fmt.Sprintf("%ds", totalSeconds)
	}
	minutes := totalSeconds / 60
	seconds := totalSeconds % 60
	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	hours := minutes / 60
	minutes %= 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
