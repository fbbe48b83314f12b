package token

import (
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultExpiry is the fallback lifetime applied when an expiry string cannot
// be parsed.
const DefaultExpiry = 900 * time.Second

// ParseExpiry parses a duration expressed as an integer plus a unit suffix:
// s (seconds), m (minutes), h (hours), d (days), or w (weeks). Unparseable
// input falls back to DefaultExpiry with a logged warning rather than failing
// startup.
func ParseExpiry(s string) time.Duration {
	d, ok := parseExpiry(s)
	if !ok {
		log.Warn().Str("expiry", s).Dur("default", DefaultExpiry).Msg("unparseable token expiry, using default")
		return DefaultExpiry
	}
	return d
}

func parseExpiry(s string) (time.Duration, bool) {
	if len(s) < 2 {
		return 0, false
	}

	unit := s[len(s)-1]
	value, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || value < 0 {
		return 0, false
	}

	switch unit {
	case 's':
		return time.Duration(value) * time.Second, true
	case 'm':
		return time.Duration(value) * time.Minute, true
	case 'h':
		return time.Duration(value) * time.Hour, true
	case 'd':
		return time.Duration(value) * 24 * time.Hour, true
	case 'w':
		return time.Duration(value) * 7 * 24 * time.Hour, true
	}
	return 0, false
}
