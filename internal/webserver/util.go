package webserver

import (
	"github.com/dustin/go-humanize"
)

// avgSize returns a string of the average size per operation.
func avgSize(bytes int64, count int64) string {
	if count <= 0 || bytes <= 0 {
		return "0 B"
	}

	avg := bytes / count

	return humanize.IBytes(uint64(avg))
}

// totalBytes returns a string of a total byte count.
func totalBytes(bytes int64) string {
	if bytes < 0 {
		return humanize.IBytes(0)
	}

	return humanize.IBytes(uint64(bytes))
}

// enabledOrDisabled returns string "Enabled" or "Disabled" based on a boolean.
func enabledOrDisabled(v bool) string {
	if v {
		return "Enabled"
	}

	return "Disabled"
}
