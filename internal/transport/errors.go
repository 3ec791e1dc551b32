package transport

import (
	"errors"
	"fmt"
)

// ErrorCode is the numeric code the server attaches to a failed request.
type ErrorCode int

// Known server error codes.
const (
	ErrCodeOtherCause                  ErrorCode = -1
	ErrCodeInternalServerError         ErrorCode = 1
	ErrCodeConnectionFailed            ErrorCode = 100
	ErrCodeObjectNotFound              ErrorCode = 101
	ErrCodeInvalidQuery                ErrorCode = 102
	ErrCodeInvalidClassName            ErrorCode = 103
	ErrCodeMissingObjectID             ErrorCode = 104
	ErrCodeInvalidKeyName              ErrorCode = 105
	ErrCodeInvalidPointer              ErrorCode = 106
	ErrCodeInvalidJSON                 ErrorCode = 107
	ErrCodeCommandUnavailable          ErrorCode = 108
	ErrCodeNotInitialized              ErrorCode = 109
	ErrCodeIncorrectType               ErrorCode = 111
	ErrCodeInvalidChannelName          ErrorCode = 112
	ErrCodePushMisconfigured           ErrorCode = 115
	ErrCodeObjectTooLarge              ErrorCode = 116
	ErrCodeOperationForbidden          ErrorCode = 119
	ErrCodeCacheMiss                   ErrorCode = 120
	ErrCodeInvalidNestedKey            ErrorCode = 121
	ErrCodeInvalidFileName             ErrorCode = 122
	ErrCodeInvalidACL                  ErrorCode = 123
	ErrCodeTimeout                     ErrorCode = 124
	ErrCodeInvalidEmailAddress         ErrorCode = 125
	ErrCodeDuplicateValue              ErrorCode = 137
	ErrCodeInvalidRoleName             ErrorCode = 139
	ErrCodeExceededQuota               ErrorCode = 140
	ErrCodeScriptFailed                ErrorCode = 141
	ErrCodeValidationError             ErrorCode = 142
	ErrCodeFileDeleteFailure           ErrorCode = 153
	ErrCodeRequestLimitExceeded        ErrorCode = 155
	ErrCodeInvalidEventName            ErrorCode = 160
	ErrCodeUsernameMissing             ErrorCode = 200
	ErrCodePasswordMissing             ErrorCode = 201
	ErrCodeUsernameTaken               ErrorCode = 202
	ErrCodeEmailTaken                  ErrorCode = 203
	ErrCodeEmailMissing                ErrorCode = 204
	ErrCodeEmailNotFound               ErrorCode = 205
	ErrCodeSessionMissing              ErrorCode = 206
	ErrCodeMustCreateUserThroughSignup ErrorCode = 207
	ErrCodeAccountAlreadyLinked        ErrorCode = 208
	ErrCodeInvalidSessionToken         ErrorCode = 209
)

var codeNames = map[ErrorCode]string{
	ErrCodeOtherCause:                  "OtherCause",
	ErrCodeInternalServerError:         "InternalServerError",
	ErrCodeConnectionFailed:            "ConnectionFailed",
	ErrCodeObjectNotFound:              "ObjectNotFound",
	ErrCodeInvalidQuery:                "InvalidQuery",
	ErrCodeInvalidClassName:            "InvalidClassName",
	ErrCodeMissingObjectID:             "MissingObjectId",
	ErrCodeInvalidKeyName:              "InvalidKeyName",
	ErrCodeInvalidPointer:              "InvalidPointer",
	ErrCodeInvalidJSON:                 "InvalidJSON",
	ErrCodeCommandUnavailable:          "CommandUnavailable",
	ErrCodeNotInitialized:              "NotInitialized",
	ErrCodeIncorrectType:               "IncorrectType",
	ErrCodeInvalidChannelName:          "InvalidChannelName",
	ErrCodePushMisconfigured:           "PushMisconfigured",
	ErrCodeObjectTooLarge:              "ObjectTooLarge",
	ErrCodeOperationForbidden:          "OperationForbidden",
	ErrCodeCacheMiss:                   "CacheMiss",
	ErrCodeInvalidNestedKey:            "InvalidNestedKey",
	ErrCodeInvalidFileName:             "InvalidFileName",
	ErrCodeInvalidACL:                  "InvalidACL",
	ErrCodeTimeout:                     "Timeout",
	ErrCodeInvalidEmailAddress:         "InvalidEmailAddress",
	ErrCodeDuplicateValue:              "DuplicateValue",
	ErrCodeInvalidRoleName:             "InvalidRoleName",
	ErrCodeExceededQuota:               "ExceededQuota",
	ErrCodeScriptFailed:                "ScriptFailed",
	ErrCodeValidationError:             "ValidationError",
	ErrCodeFileDeleteFailure:           "FileDeleteFailure",
	ErrCodeRequestLimitExceeded:        "RequestLimitExceeded",
	ErrCodeInvalidEventName:            "InvalidEventName",
	ErrCodeUsernameMissing:             "UsernameMissing",
	ErrCodePasswordMissing:             "PasswordMissing",
	ErrCodeUsernameTaken:               "UsernameTaken",
	ErrCodeEmailTaken:                  "EmailTaken",
	ErrCodeEmailMissing:                "EmailMissing",
	ErrCodeEmailNotFound:               "EmailNotFound",
	ErrCodeSessionMissing:              "SessionMissing",
	ErrCodeMustCreateUserThroughSignup: "MustCreateUserThroughSignup",
	ErrCodeAccountAlreadyLinked:        "AccountAlreadyLinked",
	ErrCodeInvalidSessionToken:         "InvalidSessionToken",
}

// Known reports whether c belongs to the documented enumeration.
func (c ErrorCode) Known() bool {
	_, ok := codeNames[c]
	return ok
}

// String returns the symbolic name, or "Uncategorized(<n>)".
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Uncategorized(%d)", int(c))
}

// RemoteError is a failure reported by the server as {"code", "error"}.
type RemoteError struct {
	Code    ErrorCode
	Message string

	// Status is the HTTP status of the response, 0 if not applicable.
	Status int
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, int(e.Code), e.Message)
}

// NotFound creates the error reported for a missing object.
func NotFound(className, objectID string) *RemoteError {
	return &RemoteError{
		Code:    ErrCodeObjectNotFound,
		Message: fmt.Sprintf("%s %s not found", className, objectID),
	}
}

// ErrSessionFailure is returned by calls that need a session when none is set.
var ErrSessionFailure = errors.New("session failure: no session token")

// AsRemoteError extracts a *RemoteError from err.
func AsRemoteError(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsRemoteError returns true if err carries a server-reported failure.
func IsRemoteError(err error) bool {
	_, ok := AsRemoteError(err)
	return ok
}

// HasCode returns true if err is a RemoteError with the given code.
func HasCode(err error, code ErrorCode) bool {
	re, ok := AsRemoteError(err)
	return ok && re.Code == code
}

// IsNotFound returns true if err reports a missing object.
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeObjectNotFound)
}

// IsUncategorized returns true if err is a RemoteError whose code is not
// in the known enumeration.
func IsUncategorized(err error) bool {
	re, ok := AsRemoteError(err)
	return ok && !re.Code.Known()
}
