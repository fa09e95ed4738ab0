package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	koreanDatePattern    = regexp.MustCompile(`(\d{4})\s*년\s*(\d{1,2})\s*월\s*(\d{1,2})\s*일`)
	separatedDatePattern = regexp.MustCompile(`(\d{4})\s*[./-]\s*(\d{1,2})\s*[./-]\s*(\d{1,2})`)

	meridiemTimePattern = regexp.MustCompile(`(오전|오후)\s*(\d{1,2})\s*시(?:\s*(\d{1,2})\s*분|\s*(반))?`)
	clockTimePattern    = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
	koreanTimePattern   = regexp.MustCompile(`(\d{1,2})\s*시(?:\s*(\d{1,2})\s*분|\s*(반))?`)
)

// clean trims the input and composes Hangul syllables, so text copied from
// macOS (NFD) matches the same patterns as text typed on other platforms.
func clean(raw string) string {
	return strings.TrimSpace(norm.NFC.String(raw))
}

// ParseDate converts "2025년 6월 9일" or "2025.6.9" / "2025/6/9" / "2025-6-9"
// to "2025-06-09". Input that matches neither form is returned trimmed.
func ParseDate(raw string) string {
	s := clean(raw)
	for _, re := range []*regexp.Regexp{koreanDatePattern, separatedDatePattern} {
		m := re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if month < 1 || month > 12 || day < 1 || day > 31 {
			continue
		}
		return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
	}
	return s
}

// ParseTime converts Korean and clock notations to 24-hour "HH:mm".
// Candidates are tried in order: "오후 3시 30분", "15:30", "15시 30분".
// A candidate with an out-of-range hour or minute falls through to the
// next form; if none validates the trimmed input is returned.
func ParseTime(raw string) string {
	s := clean(raw)

	if m := meridiemTimePattern.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[2])
		min := minutes(m[3], m[4])
		switch m[1] {
		case "오후":
			if h < 12 {
				h += 12
			}
		case "오전":
			if h == 12 {
				h = 0
			}
		}
		if t, ok := formatClock(h, min); ok {
			return t
		}
	}

	if m := clockTimePattern.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		if t, ok := formatClock(h, min); ok {
			return t
		}
	}

	if m := koreanTimePattern.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		if t, ok := formatClock(h, minutes(m[2], m[3])); ok {
			return t
		}
	}

	return s
}

// minutes reads the optional "M분" group; "반" means half past.
func minutes(digits, half string) int {
	if half != "" {
		return 30
	}
	if digits == "" {
		return 0
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return -1
	}
	return n
}

func formatClock(h, m int) (string, bool) {
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", h, m), true
}
