package localstore

import (
	"errors"
	"fmt"
	"time"
)

// CacheError reports why a cached blob cannot be served.
//
// Cache errors are always recoverable: callers log them and fall back to
// the network. They are never surfaced to application code.
type CacheError struct {
	// Code identifies the failure category.
	Code ErrorCode

	// Class and Key locate the blob (Key is IndexKey for the index).
	Class string
	Key   string

	// Age is how old the blob was when it was rejected (Expired only).
	Age time.Duration

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes cache errors.
type ErrorCode string

const (
	// ErrCodeExpired indicates the blob is older than the class TTL.
	ErrCodeExpired ErrorCode = "EXPIRED"

	// ErrCodeNotFound indicates no blob exists.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeWrongFormat indicates the blob does not decode to the expected shape.
	ErrCodeWrongFormat ErrorCode = "WRONG_FORMAT"
)

// Error implements the error interface.
func (e *CacheError) Error() string {
	msg := fmt.Sprintf("%s: %s/%s", e.Code, e.Class, e.Key)
	if e.Code == ErrCodeExpired {
		msg += fmt.Sprintf(" (age %s)", e.Age.Round(time.Millisecond))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *CacheError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var ce *CacheError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// IsExpired returns true if err is an expired-blob cache error.
func IsExpired(err error) bool { return hasCode(err, ErrCodeExpired) }

// IsNotFound returns true if err is a missing-blob cache error.
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// IsWrongFormat returns true if err is a malformed-blob cache error.
func IsWrongFormat(err error) bool { return hasCode(err, ErrCodeWrongFormat) }

// IsCacheError returns true for any of the three cache error kinds.
func IsCacheError(err error) bool {
	var ce *CacheError
	return errors.As(err, &ce)
}
