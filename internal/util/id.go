package util

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewID returns a lexically time-ordered unique id, optionally prefixed.
func NewID(prefix string) string {
	id := strings.ToLower(ulid.Make().String())
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// NewRequestID tags the log lines of one processed block.
func NewRequestID() string {
	return NewID("req")
}
