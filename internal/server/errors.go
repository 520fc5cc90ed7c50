package server

import (
	"errors"
	"strings"
)

// ErrEmptyContent rejects send requests whose content is missing or blank.
var ErrEmptyContent = errors.New("empty message content")

// isExpectedCloseError checks if an error is expected during connection
// closure and therefore not worth logging loudly.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
