package http

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// sanitizeInput trims s and drops control characters, keeping tabs and
// line breaks.
func sanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

func generateRequestID() string {
	id := uuid.New()
	return "req_" + strings.ReplaceAll(id.String()[:18], "-", "")
}
