package app

import (
	"fmt"
	"net/http"
)

// DomainError carries the HTTP status and stable code reported to callers.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errSearchDisabled() *DomainError {
	return domainError(http.StatusServiceUnavailable, "SEARCH_DISABLED", "Search is not configured", nil)
}
