package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/roach88/parsekit"
	"github.com/roach88/parsekit/internal/operation"
	"github.com/roach88/parsekit/internal/value"
)

// ComposeOptions holds flags for the compose command.
type ComposeOptions struct {
	*RootOptions
	Set       []string
	Increment []string
	Add       []string
	AddUnique []string
	Remove    []string
	Delete    []string
	Owner     string
	Public    bool

	// Apply sends the operations to class/objectId instead of printing them.
	Apply bool
}

// NewComposeCommand creates the compose command.
func NewComposeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ComposeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compose [class objectId]",
		Short: "Build an update body from field operations",
		Long: `Build the JSON body of an update from field operations and print it.
With --apply the body is sent as an update of class/objectId.

Array values are comma separated; each element is read as JSON when it
parses.

Example:
  parsekit compose --set title='"Draft"' --inc views=1 --add-unique labels=a,b
  parsekit compose Note n1 --delete draft --owner u1 --apply`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.Apply {
				return cobra.ExactArgs(2)(cmd, args)
			}
			return cobra.NoArgs(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompose(opts, args, cmd)
		},
	}

	f := cmd.Flags()
	f.StringArrayVar(&opts.Set, "set", nil, "key=value assignment")
	f.StringArrayVar(&opts.Increment, "inc", nil, "key=amount increment")
	f.StringArrayVar(&opts.Add, "add", nil, "key=v1,v2 append to array")
	f.StringArrayVar(&opts.AddUnique, "add-unique", nil, "key=v1,v2 append missing values to array")
	f.StringArrayVar(&opts.Remove, "remove", nil, "key=v1,v2 remove values from array")
	f.StringArrayVar(&opts.Delete, "delete", nil, "field to delete")
	f.StringVar(&opts.Owner, "owner", "", "restrict writes to this user id")
	f.BoolVar(&opts.Public, "public", false, "make the object publicly writable")
	f.BoolVar(&opts.Apply, "apply", false, "send the update")
	return cmd
}

func (o *ComposeOptions) ops() ([]operation.Op, error) {
	var ops []operation.Op
	for _, s := range o.Set {
		k, v, err := splitPair("set", s)
		if err != nil {
			return nil, err
		}
		ops = append(ops, operation.Set{Key: k, Value: value.Of(parseValue(v))})
	}
	for _, s := range o.Increment {
		k, v, err := splitPair("inc", s)
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("--inc %q: amount must be a number", s))
		}
		ops = append(ops, operation.Increment{Key: k, Amount: n})
	}
	arrays := []struct {
		flag string
		vals []string
		op   func(k string, objs []value.Value) operation.Op
	}{
		{"add", o.Add, func(k string, objs []value.Value) operation.Op { return operation.Add{Key: k, Objects: objs} }},
		{"add-unique", o.AddUnique, func(k string, objs []value.Value) operation.Op { return operation.AddUnique{Key: k, Objects: objs} }},
		{"remove", o.Remove, func(k string, objs []value.Value) operation.Op { return operation.Remove{Key: k, Objects: objs} }},
	}
	for _, a := range arrays {
		for _, s := range a.vals {
			k, v, err := splitPair(a.flag, s)
			if err != nil {
				return nil, err
			}
			ops = append(ops, a.op(k, operation.Objects(parseList(v)...)))
		}
	}
	for _, k := range o.Delete {
		ops = append(ops, operation.DeleteColumn{Key: k})
	}
	switch {
	case o.Owner != "" && o.Public:
		return nil, NewExitError(ExitCommandError, "--owner and --public are exclusive")
	case o.Owner != "":
		ops = append(ops, operation.SetSecurity{OwnerID: o.Owner})
	case o.Public:
		ops = append(ops, operation.ClearSecurity{})
	}
	if len(ops) == 0 {
		return nil, NewExitError(ExitCommandError, "no operations given")
	}
	return ops, nil
}

func runCompose(opts *ComposeOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ops, err := opts.ops()
	if err != nil {
		return formatter.Fail("invalid flags", err)
	}

	if !opts.Apply {
		body := operation.Compose(ops...)
		return formatter.Success(body, func(w io.Writer) {
			data, err := json.MarshalIndent(body, "", "  ")
			if err != nil {
				fmt.Fprintln(w, err)
				return
			}
			fmt.Fprintln(w, string(data))
		})
	}

	className, objectID := args[0], args[1]
	return withClient(opts.RootOptions, cmd, func(ctx context.Context, c *parsekit.Client) error {
		resp, err := c.Update(ctx, className, objectID, ops...)
		if err != nil {
			return formatter.Fail("update failed", err)
		}
		return formatter.Success(resp.Fields(), func(w io.Writer) {
			fmt.Fprintf(w, "✓ updated %s/%s\n", className, objectID)
		})
	})
}
