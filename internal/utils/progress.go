package utils

import (
	"fmt"
	"strings"
)

func ProgressBar(percent float64, length int) string {
	if length <= 0 {
		length = 10
	}
	percent = max(0, min(100, percent))
	filled := int(float64(length) * percent / 100)
	bar := strings.Repeat("▰", filled) + strings.Repeat("▱", length-filled)
	return fmt.Sprintf("`%s` %.1f%%", bar, percent)
}
