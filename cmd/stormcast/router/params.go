package router

import (
	"net/url"
	"strconv"
	"time"

	"github.com/HatiCode/stormcast/pkg/stormerr"
)

// parseTime accepts RFC 3339 or a bare date (midnight UTC).
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, s)
}

func requiredTime(q url.Values, key string) (time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return time.Time{}, stormerr.Invalid("%s parameter required", key)
	}
	t, err := parseTime(v)
	if err != nil {
		return time.Time{}, stormerr.Invalid("invalid %s %q (use RFC 3339 or YYYY-MM-DD)", key, v)
	}
	return t, nil
}

func timeParam(q url.Values, key string, def time.Time) (time.Time, error) {
	if q.Get(key) == "" {
		return def, nil
	}
	return requiredTime(q, key)
}

func floatParam(q url.Values, key string, def float64) (float64, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, stormerr.Invalid("invalid %s %q", key, v)
	}
	return f, nil
}

func intParam(q url.Values, key string, def int) (int, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, stormerr.Invalid("invalid %s %q", key, v)
	}
	return i, nil
}

// durationParam accepts a Go duration ("90m") or a number of hours ("6").
func durationParam(q url.Values, key string, def time.Duration) (time.Duration, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	h, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, stormerr.Invalid("invalid %s %q (use a duration like 6h or a number of hours)", key, v)
	}
	return time.Duration(h * float64(time.Hour)), nil
}
