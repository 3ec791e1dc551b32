package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/roach88/parsekit"
	"github.com/roach88/parsekit/internal/record"
)

// QueryOptions holds the constraint flags shared by find and count.
type QueryOptions struct {
	*RootOptions
	Where       []string
	GreaterThan []string
	LessThan    []string
	In          []string
	NotIn       []string
	Exists      []string
	Missing     []string
	Regex       []string
	Order       string
	Limit       int
	Skip        int
	Keys        []string
	Remote      bool
}

func (o *QueryOptions) bind(cmd *cobra.Command, paging bool) {
	f := cmd.Flags()
	f.StringArrayVarP(&o.Where, "where", "w", nil, "equality constraint key=value (repeatable)")
	f.StringArrayVar(&o.GreaterThan, "gt", nil, "key=value, field greater than value")
	f.StringArrayVar(&o.LessThan, "lt", nil, "key=value, field less than value")
	f.StringArrayVar(&o.In, "in", nil, "key=v1,v2, field one of the values")
	f.StringArrayVar(&o.NotIn, "not-in", nil, "key=v1,v2, field none of the values")
	f.StringArrayVar(&o.Exists, "exists", nil, "field must be present")
	f.StringArrayVar(&o.Missing, "missing", nil, "field must be absent")
	f.StringArrayVar(&o.Regex, "regex", nil, "key=pattern, string field matches pattern")
	f.BoolVar(&o.Remote, "remote", false, "bypass the local cache")
	if paging {
		f.StringVar(&o.Order, "order", "", `sort keys, e.g. "-stars,title"`)
		f.IntVar(&o.Limit, "limit", 0, "maximum number of results")
		f.IntVar(&o.Skip, "skip", 0, "number of results to skip")
		f.StringSliceVar(&o.Keys, "keys", nil, "fields to return")
	}
}

// parseValue reads a flag value as JSON, falling back to a plain string.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func splitPair(flag, s string) (string, string, error) {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return "", "", NewExitError(ExitCommandError, fmt.Sprintf("--%s %q: want key=value", flag, s))
	}
	return k, v, nil
}

func parseList(s string) []any {
	parts := strings.Split(s, ",")
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = parseValue(p)
	}
	return out
}

func (o *QueryOptions) build(className string) (parsekit.Query, error) {
	q := parsekit.NewQuery(className)

	pairs := []struct {
		flag  string
		vals  []string
		apply func(q parsekit.Query, k, v string) parsekit.Query
	}{
		{"where", o.Where, func(q parsekit.Query, k, v string) parsekit.Query { return q.EqualTo(k, parseValue(v)) }},
		{"gt", o.GreaterThan, func(q parsekit.Query, k, v string) parsekit.Query { return q.GreaterThan(k, parseValue(v)) }},
		{"lt", o.LessThan, func(q parsekit.Query, k, v string) parsekit.Query { return q.LessThan(k, parseValue(v)) }},
		{"in", o.In, func(q parsekit.Query, k, v string) parsekit.Query { return q.In(k, parseList(v)...) }},
		{"not-in", o.NotIn, func(q parsekit.Query, k, v string) parsekit.Query { return q.NotIn(k, parseList(v)...) }},
		{"regex", o.Regex, func(q parsekit.Query, k, v string) parsekit.Query { return q.MatchRegex(k, v, "") }},
	}
	for _, p := range pairs {
		for _, s := range p.vals {
			k, v, err := splitPair(p.flag, s)
			if err != nil {
				return parsekit.Query{}, err
			}
			q = p.apply(q, k, v)
		}
	}
	for _, k := range o.Exists {
		q = q.Exists(k)
	}
	for _, k := range o.Missing {
		q = q.DoesNotExist(k)
	}

	if o.Order != "" {
		q = q.Order(o.Order)
	}
	if o.Limit > 0 {
		q = q.Limit(o.Limit)
	}
	if o.Skip > 0 {
		q = q.Skip(o.Skip)
	}
	if len(o.Keys) > 0 {
		q = q.Keys(o.Keys...)
	}
	if o.Remote {
		q = q.Local(false)
	}
	return q, nil
}

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "find <class>",
		Short: "List objects matching constraints",
		Long: `List objects of a class.

Values are read as JSON when they parse, so numbers, booleans and
pointers ({"__type":"Pointer",...}) can be compared; anything else is a
string.

Example:
  parsekit find Note --where folder=inbox --gt stars=2 --order -stars --limit 10`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFind(opts, args[0], cmd)
		},
	}
	opts.bind(cmd, true)
	return cmd
}

func runFind(opts *QueryOptions, className string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	q, err := opts.build(className)
	if err != nil {
		return formatter.Fail("invalid flags", err)
	}
	return withClient(opts.RootOptions, cmd, func(ctx context.Context, c *parsekit.Client) error {
		recs, err := c.Find(ctx, q)
		if err != nil {
			return formatter.Fail("find failed", err)
		}
		formatter.VerboseLog("%d result(s)", len(recs))
		return formatter.Success(recordsView(recs), func(w io.Writer) { writeRecords(w, recs) })
	})
}

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "count <class>",
		Short:         "Count objects matching constraints",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCount(opts, args[0], cmd)
		},
	}
	opts.bind(cmd, false)
	return cmd
}

func runCount(opts *QueryOptions, className string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	q, err := opts.build(className)
	if err != nil {
		return formatter.Fail("invalid flags", err)
	}
	return withClient(opts.RootOptions, cmd, func(ctx context.Context, c *parsekit.Client) error {
		n, err := c.Count(ctx, q)
		if err != nil {
			return formatter.Fail("count failed", err)
		}
		return formatter.Success(map[string]int{"count": n}, func(w io.Writer) { fmt.Fprintln(w, n) })
	})
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get <class> <objectId>...",
		Short:         "Fetch objects by id",
		Long:          "Fetch objects by id. Several ids are fetched with one request.",
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(rootOpts, args[0], args[1:], cmd)
		},
	}
}

func runGet(opts *RootOptions, className string, ids []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	return withClient(opts, cmd, func(ctx context.Context, c *parsekit.Client) error {
		type result struct {
			rec record.Record
			err error
		}
		results := make([]chan result, len(ids))
		for i, id := range ids {
			ch := make(chan result, 1)
			results[i] = ch
			c.GetAsync(className, id, func(rec record.Record, err error) { ch <- result{rec, err} })
		}

		recs := make([]record.Record, 0, len(ids))
		for i, ch := range results {
			select {
			case r := <-ch:
				if r.err != nil {
					return formatter.Fail(fmt.Sprintf("get %s/%s failed", className, ids[i]), r.err)
				}
				recs = append(recs, r.rec)
			case <-ctx.Done():
				return formatter.Fail("get interrupted", ctx.Err())
			}
		}
		return formatter.Success(recordsView(recs), func(w io.Writer) { writeRecords(w, recs) })
	})
}
