package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/roach88/parsekit"
)

// CallOptions holds flags for the call command.
type CallOptions struct {
	*RootOptions
	Params string
}

// NewCallCommand creates the call command.
func NewCallCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "call <function>",
		Short: "Run a cloud function",
		Long: `Run a cloud function and print its result.

Example:
  parsekit call hello --params '{"name":"ada"}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Params, "params", "{}", "function parameters as a JSON object")
	return cmd
}

func runCall(opts *CallOptions, name string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	var params map[string]any
	if err := json.Unmarshal([]byte(opts.Params), &params); err != nil {
		return formatter.Fail("invalid --params JSON", WrapExitError(ExitCommandError, "invalid --params JSON", err))
	}

	return withClient(opts.RootOptions, cmd, func(ctx context.Context, c *parsekit.Client) error {
		result, err := c.Call(ctx, name, params)
		if err != nil {
			return formatter.Fail(fmt.Sprintf("call %s failed", name), err)
		}
		return formatter.Success(result, func(w io.Writer) {
			data, err := json.Marshal(result)
			if err != nil {
				fmt.Fprintln(w, err)
				return
			}
			fmt.Fprintln(w, string(data))
		})
	})
}
