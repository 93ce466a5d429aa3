package handlers

import (
	"regexp"
	"strconv"
)

var ifMatchDigits = regexp.MustCompile(`\d+`)

// ParseIfMatch extracts the version from an If-Match header. Clients send the
// version bare (`3`), quoted (`"3"`) or as a weak validator (`W/"3"`); the
// first run of digits is taken regardless of decoration. Returns nil when the
// header is empty or carries no digits.
func ParseIfMatch(header string) *int64 {
	match := ifMatchDigits.FindString(header)
	if match == "" {
		return nil
	}
	version, err := strconv.ParseInt(match, 10, 64)
	if err != nil {
		return nil
	}
	return &version
}
