package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/roach88/parsekit/internal/config"
	"github.com/roach88/parsekit/internal/constraint"
	"github.com/roach88/parsekit/internal/localstore"
	"github.com/roach88/parsekit/internal/querywire"
	"github.com/roach88/parsekit/internal/record"
	"github.com/roach88/parsekit/internal/schema"
	"github.com/roach88/parsekit/internal/transport"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Remote or validation failure
	ExitCommandError = 2 // Bad flags, config or paths
)

// Error codes reported in CLI output.
const (
	ErrCodeGeneric  = "E001"
	ErrCodeConfig   = "E002"
	ErrCodeFlags    = "E003"
	ErrCodeSchema   = "E004"
	ErrCodeQuery    = "E005"
	ErrCodeRemote   = "E006"
	ErrCodeNotFound = "E007"
	ErrCodeCache    = "E008"
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error, defaulting to
// ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// classify maps an error to its CLI error code and exit code.
func classify(err error) (string, int) {
	var (
		remote *transport.RemoteError
		wire   *querywire.CompileError
	)
	switch {
	case transport.IsNotFound(err):
		return ErrCodeNotFound, ExitFailure
	case errors.As(err, &remote):
		return ErrCodeRemote, ExitFailure
	case schema.IsError(err):
		return ErrCodeSchema, ExitFailure
	case constraint.IsValidationError(err), errors.As(err, &wire):
		return ErrCodeQuery, ExitCommandError
	case localstore.IsCacheError(err):
		return ErrCodeCache, ExitFailure
	case errors.Is(err, config.ErrInvalid):
		return ErrCodeConfig, ExitCommandError
	case GetExitCode(err) == ExitCommandError:
		return ErrCodeFlags, ExitCommandError
	default:
		return ErrCodeGeneric, GetExitCode(err)
	}
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; defaults to Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error part of a CLIResponse.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success writes data: as the response envelope in JSON mode, or via
// text otherwise.
func (f *OutputFormatter) Success(data any, text func(io.Writer)) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	if text != nil {
		text(f.Writer)
		return nil
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error writes an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err and returns the ExitError the command should return.
func (f *OutputFormatter) Fail(message string, err error) error {
	code, exit := classify(err)
	_ = f.Error(code, fmt.Sprintf("%s: %v", message, err), nil)
	return WrapExitError(exit, message, err)
}

// VerboseLog writes a diagnostic line in verbose mode.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// recordsView converts records for the JSON envelope.
func recordsView(recs []record.Record) []map[string]any {
	out := make([]map[string]any, len(recs))
	for i, r := range recs {
		out[i] = r.Fields()
	}
	return out
}

// writeRecords prints one record per line: objectId, then the remaining
// fields as compact JSON with sorted keys.
func writeRecords(w io.Writer, recs []record.Record) {
	for _, r := range recs {
		fields := r.Fields()
		delete(fields, record.FieldObjectID)
		if len(fields) == 0 {
			fmt.Fprintln(w, r.ObjectID())
			continue
		}
		data, err := json.Marshal(fields)
		if err != nil {
			data = []byte(err.Error())
		}
		fmt.Fprintf(w, "%s\t%s\n", r.ObjectID(), data)
	}
}
