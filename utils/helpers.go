package utils

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"salonsite/api/models"
)

var ErrInvalidDate = errors.New("invalid date")

// ParseDate parses a YYYY-MM-DD query value into UTC midnight. ok is false
// when the value is empty.
func ParseDate(param, value string) (d time.Time, ok bool, err error) {
	if value == "" {
		return time.Time{}, false, nil
	}
	d, err = time.ParseInLocation(models.DateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: invalid %s format. Use YYYY-MM-DD", ErrInvalidDate, param)
	}
	return d, true, nil
}

// ParseLimit parses an optional positive integer bounded by max.
func ParseLimit(value string, def, max int) (int, error) {
	if value == "" {
		return def, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 || n > max {
		return 0, fmt.Errorf("invalid limit: must be an integer between 1 and %d", max)
	}
	return n, nil
}
