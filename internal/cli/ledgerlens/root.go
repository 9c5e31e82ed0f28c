// Package ledgerlens implements the local command line: it runs the
// translation pipeline in-process against the configured database.
package ledgerlens

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ledgerlens/ledgerlens/internal/app"
	"github.com/ledgerlens/ledgerlens/internal/config"
	"github.com/ledgerlens/ledgerlens/internal/feedback"
	"github.com/ledgerlens/ledgerlens/internal/intent"
	"github.com/ledgerlens/ledgerlens/internal/observability"
	"github.com/ledgerlens/ledgerlens/internal/pipeline"
)

type Options struct {
	Lookup config.LookupFunc
	Stdout io.Writer
	Stderr io.Writer
}

type state struct {
	opts    Options
	rt      *app.Runtime
	user    string
	company string
	judge   bool
	compact bool
}

// Run executes one command line and returns the process exit code. The
// runtime is assembled lazily so that help output never touches a database.
func Run(ctx context.Context, args []string, opts Options) int {
	if opts.Lookup == nil {
		opts.Lookup = os.LookupEnv
	}
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	st := &state{opts: opts}
	defer func() {
		if st.rt != nil {
			_ = st.rt.Close()
		}
	}()

	root := st.rootCommand()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func (st *state) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "ledgerlens",
		Short:         "Translate accounting questions into tenant-scoped SQL",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(st.opts.Stdout)
	root.SetErr(st.opts.Stderr)
	root.PersistentFlags().StringVar(&st.user, "user", "", "user id the statement is scoped to (defaults to configuration)")
	root.PersistentFlags().StringVar(&st.company, "company", "", "company name the statement is scoped to (defaults to configuration)")
	root.PersistentFlags().BoolVar(&st.compact, "compact", false, "print single-line JSON")

	root.AddCommand(
		st.translateCommand(),
		st.validateCommand(),
		st.runCommand(),
		st.executeCommand(),
		st.schemaCommand(),
		st.feedbackCommand(),
	)
	return root
}

func (st *state) runtime(ctx context.Context, withDatabase bool) (*app.Runtime, error) {
	if st.rt != nil {
		return st.rt, nil
	}
	cfg, err := config.Load("ledgerlens", st.opts.Lookup)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := observability.NewLogger(cfg, st.opts.Stderr)
	rt, err := app.Build(ctx, cfg, logger, app.Options{SkipDatabase: !withDatabase})
	if err != nil {
		return nil, err
	}
	st.rt = rt
	return rt, nil
}

func (st *state) tenant() (*intent.Tenant, error) {
	switch {
	case st.user == "" && st.company == "":
		return nil, nil
	case st.user == "" || st.company == "":
		return nil, fmt.Errorf("--user and --company must be given together")
	}
	return &intent.Tenant{UserID: st.user, CompanyName: st.company}, nil
}

func (st *state) print(cmd *cobra.Command, value any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	if !st.compact {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(value)
}

func (st *state) translateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "translate <question>",
		Short: "Print the SQL for a question without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := st.tenant()
			if err != nil {
				return err
			}
			rt, err := st.runtime(cmd.Context(), false)
			if err != nil {
				return err
			}
			translation, err := rt.Pipeline.Translate(cmd.Context(), pipeline.TranslateRequest{
				Query:  strings.Join(args, " "),
				Tenant: tenant,
			})
			if err != nil {
				return err
			}
			if err := st.print(cmd, translation); err != nil {
				return err
			}
			if !translation.OK() {
				return fmt.Errorf("translation failed: %s", translation.Error)
			}
			return nil
		},
	}
}

func (st *state) validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <sql>",
		Short: "Run the safety checks on a statement",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := st.runtime(cmd.Context(), false)
			if err != nil {
				return err
			}
			verdict := rt.Pipeline.Validate(strings.Join(args, " "))
			if err := st.print(cmd, verdict); err != nil {
				return err
			}
			if !verdict.Safe {
				return fmt.Errorf("unsafe statement: %s", verdict.Reason)
			}
			return nil
		},
	}
}

func (st *state) runCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <question>",
		Short: "Translate a question and execute the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := st.tenant()
			if err != nil {
				return err
			}
			rt, err := st.runtime(cmd.Context(), true)
			if err != nil {
				return err
			}
			answer, err := rt.Pipeline.Ask(cmd.Context(), pipeline.AskRequest{
				Query:          strings.Join(args, " "),
				Judge:          st.judge,
				Tenant:         tenant,
				AllowMutations: true,
			})
			if err != nil {
				return err
			}
			if err := st.print(cmd, answer); err != nil {
				return err
			}
			switch {
			case !answer.Translation.OK():
				return fmt.Errorf("translation failed: %s", answer.Translation.Error)
			case answer.Execution != nil && !answer.Execution.Success:
				return fmt.Errorf("%s", answer.Execution.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&st.judge, "judge", false, "request a quality judgment")
	return cmd
}

func (st *state) executeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "execute <sql>",
		Short: "Execute a statement through the safety gate",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := st.runtime(cmd.Context(), true)
			if err != nil {
				return err
			}
			execution := rt.Pipeline.Execute(cmd.Context(), pipeline.ExecuteRequest{
				SQL:            strings.Join(args, " "),
				AllowMutations: true,
			})
			if err := st.print(cmd, execution); err != nil {
				return err
			}
			if !execution.Success {
				return fmt.Errorf("%s", execution.Error)
			}
			return nil
		},
	}
}

func (st *state) schemaCommand() *cobra.Command {
	var summary bool
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Describe the active schema catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := st.runtime(cmd.Context(), false)
			if err != nil {
				return err
			}
			cat := rt.Registry.Current()
			if summary {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), cat.Summary(0))
				return err
			}
			return st.print(cmd, cat.Describe())
		},
	}
	cmd.Flags().BoolVar(&summary, "summary", false, "print the compact text summary instead of JSON")
	return cmd
}

func (st *state) feedbackCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Record and inspect feedback on generated statements",
	}

	var in feedback.Input
	var outcome string
	record := &cobra.Command{
		Use:   "record <question>",
		Short: "Append one feedback record",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := st.runtime(cmd.Context(), false)
			if err != nil {
				return err
			}
			in.NaturalQuery = strings.Join(args, " ")
			in.Outcome = feedback.Outcome(outcome)
			saved, err := rt.Pipeline.RecordFeedback(cmd.Context(), in)
			if err != nil {
				return err
			}
			return st.print(cmd, saved)
		},
	}
	record.Flags().StringVar(&outcome, "outcome", "", "positive, negative or corrected")
	record.Flags().StringVar(&in.SQLQuery, "sql", "", "statement the feedback refers to")
	record.Flags().StringVar(&in.Correction, "correction", "", "corrected statement")
	_ = record.MarkFlagRequired("outcome")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print aggregate feedback statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := st.runtime(cmd.Context(), false)
			if err != nil {
				return err
			}
			s, err := rt.Pipeline.FeedbackStats()
			if err != nil {
				return err
			}
			return st.print(cmd, s)
		},
	}

	cmd.AddCommand(record, stats)
	return cmd
}
