package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/parsekit/internal/schema"
)

// NewSchemaCommand creates the schema command group.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Work with class declarations",
	}
	cmd.AddCommand(NewSchemaValidateCommand(rootOpts))
	return cmd
}

// NewSchemaValidateCommand creates the schema validate command.
func NewSchemaValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <schema-dir>",
		Short: "Check CUE class declarations",
		Long: `Load every .cue file in a directory and report declaration errors
with their source position.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchemaValidate(rootOpts, args[0], cmd)
		},
	}
}

// SchemaIssue is one declaration problem.
type SchemaIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// SchemaResult is the outcome of schema validate.
type SchemaResult struct {
	Valid   bool          `json:"valid"`
	Classes []string      `json:"classes,omitempty"`
	Errors  []SchemaIssue `json:"errors,omitempty"`
}

func runSchemaValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	classes, err := schema.Load(dir)
	result := SchemaResult{Valid: err == nil}
	for _, c := range classes {
		result.Classes = append(result.Classes, c.Name)
		formatter.VerboseLog("class %s: expire after %s, %d field(s)", c.Name, c.ExpireAfter, len(c.Fields))
	}
	if err != nil {
		result.Errors = issues(err)
	}

	if result.Valid {
		return formatter.Success(result, func(w io.Writer) {
			fmt.Fprintf(w, "✓ %d class(es) valid\n", len(result.Classes))
		})
	}

	if formatter.Format == "json" {
		_ = formatter.Error(ErrCodeSchema, result.Errors[0].Message, result)
	} else {
		w := formatter.Writer
		fmt.Fprintln(w, "✗ Validation failed")
		fmt.Fprintln(w)
		for _, is := range result.Errors {
			if is.Line > 0 {
				fmt.Fprintf(w, "%s:%d\n", is.File, is.Line)
			}
			fmt.Fprintf(w, "  %s: %s: %s\n\n", ErrCodeSchema, is.Field, is.Message)
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
}

func issues(err error) []SchemaIssue {
	var errs []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	} else {
		errs = []error{err}
	}

	out := make([]SchemaIssue, 0, len(errs))
	for _, e := range errs {
		var se *schema.Error
		if !errors.As(e, &se) {
			out = append(out, SchemaIssue{Field: "schema", Message: e.Error()})
			continue
		}
		is := SchemaIssue{Field: se.Field, Message: se.Message}
		if se.Pos.IsValid() {
			is.File = se.Pos.Filename()
			is.Line = se.Pos.Line()
		}
		out = append(out, is)
	}
	return out
}
