package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/parsekit"
)

// NewPopulateCommand creates the populate command.
func NewPopulateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "populate [class]...",
		Short: "Download cached classes into the local store",
		Long: `Download every object of the given classes, or of every declared class,
into the local store. The index is replaced, so objects deleted on the
server disappear locally.

Example:
  parsekit populate Note Folder`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPopulate(rootOpts, args, cmd)
		},
	}
}

// PopulateResult is the outcome for one class.
type PopulateResult struct {
	Class    string `json:"class"`
	Objects  int    `json:"objects"`
	Duration string `json:"duration"`
}

func runPopulate(opts *RootOptions, classes []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	return withClient(opts, cmd, func(ctx context.Context, c *parsekit.Client) error {
		if len(classes) == 0 {
			classes = c.Registry().Classes()
		}
		if len(classes) == 0 {
			return formatter.Fail("nothing to populate", NewExitError(ExitCommandError, "no classes declared"))
		}

		var results []PopulateResult
		for _, class := range classes {
			started := time.Now()
			recs, err := c.Populate(ctx, class)
			if err != nil {
				return formatter.Fail(fmt.Sprintf("populate %s failed", class), err)
			}
			elapsed := time.Since(started).Round(time.Millisecond)
			formatter.VerboseLog("populated %s: %d object(s) in %s", class, len(recs), elapsed)
			results = append(results, PopulateResult{Class: class, Objects: len(recs), Duration: elapsed.String()})
		}
		return formatter.Success(results, func(w io.Writer) {
			for _, r := range results {
				fmt.Fprintf(w, "✓ %s: %d object(s)\n", r.Class, r.Objects)
			}
		})
	})
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Report the state of the local store",
		Long: `Report, for every declared class, the age of the index and how many
cached objects are fresh, expired, missing or unreadable.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, cmd)
		},
	}
}

// InspectResult is the JSON form of one class report.
type InspectResult struct {
	Class       string `json:"class"`
	ExpireAfter string `json:"expireAfter"`
	Index       string `json:"index"` // "fresh", "expired" or "none"
	IndexAge    string `json:"indexAge,omitempty"`
	IDs         int    `json:"ids"`
	Fresh       int    `json:"fresh"`
	Expired     int    `json:"expired"`
	Missing     int    `json:"missing"`
	Malformed   int    `json:"malformed"`
}

func runInspect(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	return withClient(opts, cmd, func(ctx context.Context, c *parsekit.Client) error {
		reports, err := c.Inspect()
		if err != nil {
			return formatter.Fail("inspect failed", err)
		}
		results := make([]InspectResult, len(reports))
		for i, r := range reports {
			results[i] = InspectResult{
				Class:       r.Class,
				ExpireAfter: r.TTL.String(),
				Index:       "none",
				IDs:         r.IDs,
				Fresh:       r.Fresh,
				Expired:     r.Expired,
				Missing:     r.Missing,
				Malformed:   r.Malformed,
			}
			switch {
			case r.IndexOK:
				results[i].Index = "fresh"
			case r.IndexAge > 0:
				results[i].Index = "expired"
			}
			if results[i].Index != "none" {
				results[i].IndexAge = r.IndexAge.Round(time.Second).String()
			}
		}
		return formatter.Success(results, func(w io.Writer) {
			for _, r := range results {
				index := "no index"
				if r.Index != "none" {
					index = fmt.Sprintf("index %s, age %s", r.Index, r.IndexAge)
				}
				fmt.Fprintf(w, "%s (expire after %s, %s): %d fresh, %d expired, %d missing, %d malformed\n",
					r.Class, r.ExpireAfter, index, r.Fresh, r.Expired, r.Missing, r.Malformed)
			}
		})
	})
}
