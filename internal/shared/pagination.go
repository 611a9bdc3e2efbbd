package shared

import "strconv"

const (
	defaultLimit = 50
	maxLimit     = 500
)

// ParseLimit reads a listing limit, falling back to the default and capping at the maximum.
func ParseLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}
