package domain

import "fmt"

// FormatSize renders a byte count in megabytes with one decimal, e.g. "2.4 MB".
func FormatSize(sizeBytes int64) string {
	return fmt.Sprintf("%.1f MB", float64(sizeBytes)/(1024*1024))
}
