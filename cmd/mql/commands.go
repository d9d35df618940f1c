package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	mql "github.com/transform-data/mql-go"
)

// queryFlags are shared by the query and submit commands.
type queryFlags struct {
	metrics     []string
	dimensions  []string
	where       string
	startTime   string
	endTime     string
	granularity string
	limit       int
	orderBy     []string
	cacheMode   string
	modelKey    modelKeyFlags
}

type modelKeyFlags struct {
	org    string
	repo   string
	branch string
	commit string
}

func (f *modelKeyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.org, "org", "", "organization owning the model")
	cmd.Flags().StringVar(&f.repo, "repo", "", "model repository")
	cmd.Flags().StringVar(&f.branch, "branch", "", "model branch")
	cmd.Flags().StringVar(&f.commit, "commit", "", "model commit")
}

func (f *modelKeyFlags) key() *mql.ModelKey {
	if *f == (modelKeyFlags{}) {
		return nil
	}
	return &mql.ModelKey{Organization: f.org, Repo: f.repo, Branch: f.branch, Commit: f.commit}
}

func (f *queryFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringSliceVar(&f.metrics, "metrics", nil, "metrics to query")
	flags.StringSliceVar(&f.dimensions, "dimensions", nil, "dimensions to group by")
	flags.StringVar(&f.where, "where", "", "filter expression")
	flags.StringVar(&f.startTime, "start-time", "", "inclusive start, RFC 3339 or YYYY-MM-DD")
	flags.StringVar(&f.endTime, "end-time", "", "inclusive end, RFC 3339 or YYYY-MM-DD")
	flags.StringVar(&f.granularity, "time-granularity", "", "time granularity, e.g. day or month")
	flags.IntVar(&f.limit, "limit", 0, "maximum number of rows")
	flags.StringSliceVar(&f.orderBy, "order", nil, "order by, prefix with - for descending")
	flags.StringVar(&f.cacheMode, "cache-mode", "rw", "result cache mode: r, rw, w or i")
	f.modelKey.register(cmd)
}

func (f *queryFlags) request() (*mql.QueryRequest, error) {
	cacheMode, err := mql.ParseCacheMode(f.cacheMode)
	if err != nil {
		return nil, err
	}
	req := &mql.QueryRequest{
		Metrics:         f.metrics,
		Dimensions:      f.dimensions,
		Where:           f.where,
		TimeGranularity: f.granularity,
		OrderBy:         f.orderBy,
		CacheMode:       cacheMode,
		ModelKey:        f.modelKey.key(),
	}
	if req.StartTime, err = parseTime(f.startTime); err != nil {
		return nil, err
	}
	if req.EndTime, err = parseTime(f.endTime); err != nil {
		return nil, err
	}
	if f.limit > 0 {
		limit := f.limit
		req.Limit = &limit
	}
	return req, nil
}

// materializationFlags are shared by the materialize and submit commands.
// The time range and model key come from the flags registered next to them.
type materializationFlags struct {
	name   string
	output string
	force  bool
}

func (f *materializationFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "materialization name")
	cmd.Flags().StringVar(&f.output, "output-table", "", "override the destination table")
	cmd.Flags().BoolVar(&f.force, "force", false, "rebuild even if the table is current")
}

func (f *materializationFlags) request(start, end string, key *mql.ModelKey) (*mql.MaterializationRequest, error) {
	req := &mql.MaterializationRequest{Name: f.name, OutputTable: f.output, Force: f.force, ModelKey: key}
	var err error
	if req.StartTime, err = parseTime(start); err != nil {
		return nil, err
	}
	if req.EndTime, err = parseTime(end); err != nil {
		return nil, err
	}
	return req, nil
}

func validationRequest(key *mql.ModelKey) *mql.ValidationRequest {
	if key == nil {
		return &mql.ValidationRequest{}
	}
	return &mql.ValidationRequest{ModelKey: *key}
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid time %q: use RFC 3339 or YYYY-MM-DD", s)
}

func parseKind(s string) (mql.JobKind, error) {
	switch strings.ToLower(s) {
	case "query", "q":
		return mql.JobKindQuery, nil
	case "materialization", "m":
		return mql.JobKindMaterialization, nil
	case "validation", "v":
		return mql.JobKindValidation, nil
	}
	return 0, fmt.Errorf("unknown job kind %q: use query, materialization or validation", s)
}

// --- Lifecycle commands ---

func newQueryCmd(a *app) *cobra.Command {
	var f queryFlags
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a metric query and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request()
			if err != nil {
				return err
			}
			table, warnings, err := a.runner.RunQuery(a.context(cmd), req, a.timeout)
			if err != nil {
				return err
			}
			a.printWarnings(warnings)
			a.printTable(table)
			return nil
		},
	}
	f.register(cmd)
	_ = cmd.MarkFlagRequired("metrics")
	return cmd
}

func newMaterializeCmd(a *app) *cobra.Command {
	var (
		f          materializationFlags
		start, end string
		key        modelKeyFlags
	)
	cmd := &cobra.Command{
		Use:   "materialize",
		Short: "Materialize a metric dataset into the warehouse",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request(start, end, key.key())
			if err != nil {
				return err
			}
			loc, err := a.runner.RunMaterialization(a.context(cmd), req, a.timeout)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Materialized to %s\n", loc.FullName())
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&start, "start-time", "", "inclusive start, RFC 3339 or YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end-time", "", "inclusive end, RFC 3339 or YYYY-MM-DD")
	key.register(cmd)
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	var key modelKeyFlags
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a model configuration on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			warnings, err := a.runner.RunValidation(a.context(cmd), validationRequest(key.key()), a.timeout)
			if err != nil {
				return err
			}
			a.printWarnings(warnings)
			fmt.Fprintln(a.out, "Validation passed")
			return nil
		},
	}
	key.register(cmd)
	return cmd
}

// --- Detached commands ---

func newSubmitCmd(a *app) *cobra.Command {
	var (
		kind string
		q    queryFlags
		m    materializationFlags
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a job and print its id without waiting",
		Long: "Submit a job and print its id without waiting. Use status or fetch with the\n" +
			"same --kind to follow it later, from this or another machine.",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := parseKind(kind)
			if err != nil {
				return err
			}
			ctx := a.context(cmd)
			submitter := a.runner.Submitter()

			var id mql.JobID
			switch k {
			case mql.JobKindQuery:
				req, err := q.request()
				if err != nil {
					return err
				}
				id, err = submitter.SubmitQuery(ctx, req)
				if err != nil {
					return err
				}
			case mql.JobKindMaterialization:
				req, err := m.request(q.startTime, q.endTime, q.modelKey.key())
				if err != nil {
					return err
				}
				id, err = submitter.SubmitMaterialization(ctx, req)
				if err != nil {
					return err
				}
			case mql.JobKindValidation:
				id, err = submitter.SubmitValidation(ctx, validationRequest(q.modelKey.key()))
				if err != nil {
					return err
				}
			}
			fmt.Fprintln(a.out, id)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "query", "job kind: query, materialization or validation")
	q.register(cmd)
	m.register(cmd)
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	var (
		kind string
		wait bool
	)
	cmd := &cobra.Command{
		Use:   "status JOB_ID",
		Short: "Show the status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := parseKind(kind)
			if err != nil {
				return err
			}
			id := mql.JobID(args[0])
			ctx := a.context(cmd)

			var snapshot *mql.JobStatusSnapshot
			if wait {
				snapshot, err = a.runner.Poller().PollUntilTerminal(ctx, k, id, a.timeout)
			} else if k == mql.JobKindQuery {
				snapshot, err = a.client.GetQueryStatus(ctx, id)
			} else {
				snapshot, err = a.client.GetJobStatus(ctx, id)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(a.out, "%s\t%s\n", snapshot.JobID, snapshot.Status)
			if msg := snapshot.ErrorMessage(); msg != "" {
				fmt.Fprintf(a.out, "error: %s\n", msg)
			}
			a.printWarnings(snapshot.Warnings)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "query", "job kind: query, materialization or validation")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the job is terminal")
	return cmd
}

func newFetchCmd(a *app) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "fetch JOB_ID",
		Short: "Wait for a submitted job and print its outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := parseKind(kind)
			if err != nil {
				return err
			}
			ctx := a.context(cmd)
			id := mql.JobID(args[0])
			snapshot, err := a.runner.Await(ctx, k, id, a.timeout)
			if err != nil {
				return err
			}
			a.printWarnings(snapshot.Warnings)

			switch k {
			case mql.JobKindQuery:
				table, err := a.runner.Pager().FetchAll(ctx, snapshot)
				if err != nil {
					return err
				}
				a.printTable(table)
			case mql.JobKindMaterialization:
				loc, err := a.runner.Location(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Materialized to %s\n", loc.FullName())
			case mql.JobKindValidation:
				fmt.Fprintln(a.out, "Validation passed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "query", "job kind: query, materialization or validation")
	return cmd
}

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the server is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := a.client.Health(a.context(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "status: %s\nversion: %s\nrunning jobs: %d\nqueued jobs: %d\n",
				info.Status, info.Version, info.RunningJobs, info.QueuedJobs)
			if !info.Healthy() {
				return fmt.Errorf("server reported status %q", info.Status)
			}
			return nil
		},
	}
}
