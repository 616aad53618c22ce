package app

import "fmt"

// DomainError is a service-level failure with an HTTP mapping already
// decided: FORBIDDEN for edit-gate misses, VALIDATION_ERROR for bad chapter
// status or publishAt input, and so on. Plain errors (sql.ErrNoRows, token
// errors) are translated at the HTTP layer instead.
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
