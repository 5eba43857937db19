package handlers

import (
	"strconv"
	"strings"
)

// ErrorResponse is the body echo renders for HTTP errors.
type ErrorResponse struct {
	Message string `json:"message"`
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func parseLimit(raw string) int {
	if s := strings.TrimSpace(raw); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= maxListLimit {
			return n
		}
	}
	return defaultListLimit
}
