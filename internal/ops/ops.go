// Package ops implements the user-facing item operations shared by the CLI
// and the MCP server.
package ops

import (
	"net/url"
	"strings"

	"github.com/hpungsan/trove/internal/errors"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
	maxURLLength     = 2048
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// ValidateUser checks that an operation is scoped to a user.
func ValidateUser(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.NewInvalidRequest("user_id is required")
	}
	return userID, nil
}

// ValidateURL checks that raw is an absolute http(s) URL and returns it trimmed.
// Rules:
// - scheme must be http or https
// - host must be present
// - at most 2048 characters
func ValidateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.NewInvalidRequest("url is required")
	}
	if len(raw) > maxURLLength {
		return "", errors.NewInvalidRequest("url is too long")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.NewInvalidRequest("url is not valid: " + err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.NewInvalidRequest("url must use http or https")
	}
	if u.Host == "" {
		return "", errors.NewInvalidRequest("url must include a host")
	}
	return raw, nil
}

// clampLimit applies list defaults and bounds.
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
