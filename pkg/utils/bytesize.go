package utils

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	Byte     int64 = 1
	KibiByte int64 = 1024
	MebiByte int64 = 1024 * 1024
	GibiByte int64 = 1024 * 1024 * 1024
)

var byteSizePattern = regexp.MustCompile(`^([\d.]+)\s*([A-Za-z]+)$`)

// ParseByteSize parses sizes such as "512KB", "1MiB" or "64K" into bytes.
// Decimal units (KB, MB, GB) are 1000-based; IEC units (KiB, MiB, GiB) and
// the single-letter forms are 1024-based. A bare number is a byte count.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("size cannot be negative: %s", s)
		}
		return n, nil
	}

	m := byteSizePattern.FindStringSubmatch(s)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid size format: %s (expected format like '512KB' or '1MiB')", s)
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value: %s", m[1])
	}

	mult := unitMultiplier(strings.ToUpper(m[2]))
	if mult == 0 {
		return 0, fmt.Errorf("unknown unit: %s (supported: B, KB, MB, GB, KiB, MiB, GiB)", m[2])
	}

	bytes := value * float64(mult)
	if bytes < 0 || bytes >= math.MaxInt64 {
		return 0, fmt.Errorf("size overflow or negative value: %s", s)
	}
	return int64(bytes), nil
}

// ParseByteSizeWithDefault returns def when s is empty or unparsable.
func ParseByteSizeWithDefault(s string, def int64) int64 {
	if s == "" {
		return def
	}
	n, err := ParseByteSize(s)
	if err != nil {
		return def
	}
	return n
}

// FormatByteSize renders n with 1024-based units, e.g. "1.5 MiB".
func FormatByteSize(n int64) string {
	if n < 0 {
		return "invalid"
	}
	if n < KibiByte {
		return fmt.Sprintf("%d B", n)
	}

	units := []string{"KiB", "MiB", "GiB"}
	value := float64(n) / float64(KibiByte)
	i := 0
	for value >= 1024 && i < len(units)-1 {
		value /= 1024
		i++
	}

	if value == float64(int64(value)) {
		return fmt.Sprintf("%.0f %s", value, units[i])
	}
	return fmt.Sprintf("%.1f %s", value, units[i])
}

func unitMultiplier(unit string) int64 {
	switch unit {
	case "B":
		return Byte
	case "KB":
		return 1000
	case "MB":
		return 1000 * 1000
	case "GB":
		return 1000 * 1000 * 1000
	case "K", "KIB":
		return KibiByte
	case "M", "MIB":
		return MebiByte
	case "G", "GIB":
		return GibiByte
	default:
		return 0
	}
}
