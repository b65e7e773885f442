package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/isdmx/sqlbox/metastore"
	"github.com/isdmx/sqlbox/problem"
	"github.com/isdmx/sqlbox/result"
	"github.com/isdmx/sqlbox/validator"
)

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// sqlArg joins the positional arguments into one statement.
func sqlArg(args []string) string {
	return strings.Join(args, " ")
}

type pairFlags struct {
	identity string
	problem  string
}

func (p *pairFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.identity, "identity", "", "Learner identity (required)")
	cmd.Flags().StringVar(&p.problem, "problem", "", "Problem identifier (required)")
	_ = cmd.MarkFlagRequired("identity")
	_ = cmd.MarkFlagRequired("problem")
}

func newValidateCmd() *cobra.Command {
	var parserCheck bool

	cmd := &cobra.Command{
		Use:   "validate <sql>",
		Short: "Check a submission offline without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := validator.New(validator.WithParserCheck(parserCheck))
			err := v.Validate(sqlArg(args))

			var rej *validator.Rejection
			if err != nil && !errors.As(err, &rej) {
				return err
			}

			out := cmd.OutOrStdout()
			if getOutputFormat(cmd) == "json" {
				resp := map[string]any{"valid": err == nil}
				if rej != nil {
					resp["reason"] = rej.Reason
					resp["message"] = rej.Message
					resp["details"] = rej.Details
				}
				if perr := printJSON(out, resp); perr != nil {
					return perr
				}
				return err
			}
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(out, "Query accepted.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&parserCheck, "parser-check", true, "Also check the statement with the Postgres parser")
	return cmd
}

func newProblemsCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "problems",
		Short: "Validate a problem set file and list its problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := problem.LoadFile(file)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if getOutputFormat(cmd) == "json" {
				return printJSON(out, catalog.Problems())
			}
			tw := newTabWriter(out)
			_, _ = fmt.Fprintln(tw, "ID\tKIND\tTABLES\tTITLE")
			for _, p := range catalog.Problems() {
				names := make([]string, len(p.Tables))
				for i, t := range p.Tables {
					names[i] = t.Name
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Expected.Kind, strings.Join(names, ","), p.Title)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&file, "file", "problems.yaml", "Problem set file")
	return cmd
}

func newProvisionCmd() *cobra.Command {
	var pair pairFlags

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create or reuse the sandbox of an identity and problem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, closeFn, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			sb, err := c.Engine.Provisioner.EnsureSandbox(commandContext(cmd), pair.identity, pair.problem)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if getOutputFormat(cmd) == "json" {
				return printJSON(out, map[string]any{"namespace": sb.Namespace, "created": sb.Created})
			}
			verb := "Reused"
			if sb.Created {
				verb = "Created"
			}
			_, _ = fmt.Fprintf(out, "%s sandbox %s\n", verb, sb.Namespace)
			return nil
		},
	}
	pair.register(cmd)
	return cmd
}

func newRunCmd() *cobra.Command {
	var pair pairFlags

	cmd := &cobra.Command{
		Use:   "run <sql>",
		Short: "Run a query inside a sandbox",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closeFn, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := c.Engine.Executor.Execute(commandContext(cmd), pair.identity, pair.problem, sqlArg(args))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if getOutputFormat(cmd) == "json" {
				return printJSON(out, map[string]any{
					"columns":    res.Columns,
					"rows":       res.Rows,
					"row_count":  res.RowCount,
					"elapsed_ms": res.Elapsed.Milliseconds(),
				})
			}
			return printResult(out, res)
		},
	}
	pair.register(cmd)
	return cmd
}

func printResult(w io.Writer, res *result.Result) error {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		cells := make([]string, len(res.Columns))
		for i, col := range res.Columns {
			cells[i] = row[col].String()
		}
		_, _ = fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "(%d rows, %s)\n", res.RowCount, res.Elapsed.Round(time.Millisecond))
	return nil
}

func newGradeCmd() *cobra.Command {
	var pair pairFlags

	cmd := &cobra.Command{
		Use:   "grade <sql>",
		Short: "Run a submission and grade it against the expected output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closeFn, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			outcome, err := c.Grader.Grade(commandContext(cmd), pair.identity, pair.problem, sqlArg(args))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if getOutputFormat(cmd) == "json" {
				return printJSON(out, map[string]any{
					"passed":     outcome.Passed,
					"row_count":  outcome.RowCount,
					"elapsed_ms": outcome.Elapsed.Milliseconds(),
					"reason":     outcome.Reason,
				})
			}
			if outcome.Passed {
				_, _ = fmt.Fprintf(out, "PASSED (%d rows, %s)\n", outcome.RowCount, outcome.Elapsed.Round(time.Millisecond))
				return nil
			}
			_, _ = fmt.Fprintf(out, "FAILED: %s\n", outcome.Reason)
			return nil
		},
	}
	pair.register(cmd)
	return cmd
}

// openMetastore opens only the metastore named by the configuration.
func openMetastore(cmd *cobra.Command) (*metastore.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return metastore.Open(cfg.Metastore.Path)
}

func newSandboxesCmd() *cobra.Command {
	var identity string

	cmd := &cobra.Command{
		Use:   "sandboxes",
		Short: "List the sandboxes of an identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openMetastore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			recs, err := store.Sandboxes().ListByIdentity(commandContext(cmd), identity)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if getOutputFormat(cmd) == "json" {
				return printJSON(out, recs)
			}
			tw := newTabWriter(out)
			_, _ = fmt.Fprintln(tw, "PROBLEM\tNAMESPACE\tCREATED\tLAST USED")
			for _, r := range recs {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ProblemID, r.Namespace,
					r.CreatedAt.Format(time.RFC3339), r.LastUsedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "Learner identity (required)")
	_ = cmd.MarkFlagRequired("identity")
	return cmd
}

func newAttemptsCmd() *cobra.Command {
	var (
		pair  pairFlags
		limit int
	)

	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "Show recent execution attempts of an identity and problem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openMetastore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := commandContext(cmd)
			attempts, err := store.Attempts().Recent(ctx, pair.identity, pair.problem, limit)
			if err != nil {
				return err
			}
			stats, err := store.Attempts().Stats(ctx, pair.identity, pair.problem)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if getOutputFormat(cmd) == "json" {
				return printJSON(out, map[string]any{"stats": stats, "attempts": attempts})
			}
			_, _ = fmt.Fprintf(out, "%d attempts (%d succeeded, %d failed), average %s\n",
				stats.Total, stats.Succeeded, stats.Failed, stats.AvgElapsed.Round(time.Microsecond))
			tw := newTabWriter(out)
			_, _ = fmt.Fprintln(tw, "TIME\tSTATUS\tROWS\tELAPSED\tERROR")
			for _, a := range attempts {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", a.CreatedAt.Format(time.RFC3339),
					a.Status, a.RowCount, a.Elapsed.Round(time.Microsecond), a.ErrorKind)
			}
			return tw.Flush()
		},
	}
	pair.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of attempts to show")
	return cmd
}

func newDropCmd() *cobra.Command {
	var pair pairFlags

	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Drop the sandbox of an identity and problem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, closeFn, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := c.Engine.Provisioner.Destroy(commandContext(cmd), pair.identity, pair.problem); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Dropped sandbox of %s for %s\n", pair.identity, pair.problem)
			return nil
		},
	}
	pair.register(cmd)
	return cmd
}
