package stream

import (
	"regexp"
	"strconv"
)

var (
	progressPattern = regexp.MustCompile(`(?i)Video Generation Progress\D+(\d+)%`)
	videoURLPattern = regexp.MustCompile(`src=['"](.*?)['"]`)
)

// ExtractProgress returns the percentage from the first progress marker in
// text, clamped to 100.
func ExtractProgress(text string) (int, bool) {
	m := progressPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	if n > 100 {
		n = 100
	}
	return n, true
}

// ExtractVideoURL returns the first quoted src attribute value in text.
func ExtractVideoURL(text string) (string, bool) {
	m := videoURLPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}
