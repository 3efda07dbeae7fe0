package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iancoleman/strcase"
	"github.com/urfave/cli/v2"

	"github.com/johndauphine/mssql-pg-geocopy/internal/checkpoint"
	"github.com/johndauphine/mssql-pg-geocopy/internal/config"
	_ "github.com/johndauphine/mssql-pg-geocopy/internal/driver/mssql"
	_ "github.com/johndauphine/mssql-pg-geocopy/internal/driver/mysql"
	"github.com/johndauphine/mssql-pg-geocopy/internal/logging"
	"github.com/johndauphine/mssql-pg-geocopy/internal/orchestrator"
	"github.com/johndauphine/mssql-pg-geocopy/internal/pool"
	"github.com/johndauphine/mssql-pg-geocopy/internal/progress"
	"github.com/johndauphine/mssql-pg-geocopy/internal/transfer"
	"github.com/johndauphine/mssql-pg-geocopy/internal/version"
)

const (
	CONFIG        string = `config`
	LOGLEVEL      string = `log-level`
	LOGFORMAT     string = `log-format`
	STATEFILE     string = `state-file`
	TABLE         string = `table`
	TABLELIST     string = `table-list`
	WORKERS       string = `workers`
	SOURCESCHEMA  string = `source-schema`
	TARGETSCHEMA  string = `target-schema`
	INDEXMETHOD   string = `index-method`
	TABLETIMEOUT  string = `table-timeout`
	NOHISTORY     string = `no-history`
	NOPROGRESS    string = `no-progress`
	CRON          string = `cron`
	WATCH         string = `watch`
	RUNNOW        string = `run-now`
	RUNID         string = `run`
	LIMIT         string = `limit`
	envPrefix     string = `GEOCOPY_`
	exitRunFailed int    = 1
)

// envVars derives the environment variable for a flag, e.g. GEOCOPY_LOG_LEVEL.
func envVars(name string) []string {
	return []string{envPrefix + strcase.ToScreamingSnake(name)}
}

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if ec, ok := err.(cli.ExitCoder); ok {
			os.Exit(ec.ExitCode())
		}
		os.Exit(1)
	}
}

func tableFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    TABLE,
			Aliases: []string{"t"},
			Usage:   "Table to copy as source[,dest]; repeatable",
			EnvVars: envVars(TABLE),
		},
		&cli.StringFlag{
			Name:    TABLELIST,
			Aliases: []string{"f"},
			Usage:   "File with one source[,dest] entry per line",
			EnvVars: envVars(TABLELIST),
		},
		&cli.IntFlag{
			Name:    WORKERS,
			Aliases: []string{"w"},
			Usage:   "Tables copied concurrently",
			EnvVars: envVars(WORKERS),
		},
		&cli.StringFlag{
			Name:    SOURCESCHEMA,
			Usage:   "Source schema for unqualified table names",
			EnvVars: envVars(SOURCESCHEMA),
		},
		&cli.StringFlag{
			Name:    TARGETSCHEMA,
			Usage:   "Destination schema for unqualified table names",
			EnvVars: envVars(TARGETSCHEMA),
		},
		&cli.StringFlag{
			Name:    INDEXMETHOD,
			Usage:   "Spatial index access method: gist, spgist or brin",
			EnvVars: envVars(INDEXMETHOD),
		},
		&cli.DurationFlag{
			Name:    TABLETIMEOUT,
			Usage:   "Abort a single table after this long (0 = no limit)",
			EnvVars: envVars(TABLETIMEOUT),
		},
		&cli.BoolFlag{
			Name:    NOHISTORY,
			Usage:   "Do not record the run in the history database",
			EnvVars: envVars(NOHISTORY),
		},
		&cli.BoolFlag{
			Name:    NOPROGRESS,
			Usage:   "Do not render a progress bar",
			EnvVars: envVars(NOPROGRESS),
		},
	}
}

func newApp(out io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = version.Name
	app.Usage = version.Description
	app.Version = version.String()
	app.Writer = out

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    CONFIG,
			Aliases: []string{"c"},
			Value:   "geocopy.yaml",
			Usage:   "Path to the YAML or TOML configuration file",
			EnvVars: envVars(CONFIG),
		},
		&cli.StringFlag{
			Name:    LOGLEVEL,
			Usage:   "Log level: debug, info, warn or error (overrides logging.level)",
			EnvVars: envVars(LOGLEVEL),
		},
		&cli.StringFlag{
			Name:    LOGFORMAT,
			Usage:   "Log format: text or json (overrides logging.format)",
			EnvVars: envVars(LOGFORMAT),
		},
		&cli.StringFlag{
			Name:    STATEFILE,
			Usage:   "Run history database (overrides state.path)",
			EnvVars: envVars(STATEFILE),
		},
	}

	app.Commands = []*cli.Command{
		{
			Name:   "run",
			Usage:  "Copy the configured tables once",
			Flags:  tableFlags(),
			Action: runCommand,
		},
		{
			Name:  "schedule",
			Usage: "Copy the configured tables on a cron schedule and/or when the table list changes",
			Flags: append(tableFlags(),
				&cli.StringFlag{
					Name:    CRON,
					Usage:   `Cron expression, e.g. "0 2 * * *" or "@every 1h" (overrides schedule.cron)`,
					EnvVars: envVars(CRON),
				},
				&cli.BoolFlag{
					Name:    WATCH,
					Usage:   "Rerun when the table list file changes",
					EnvVars: envVars(WATCH),
				},
				&cli.BoolFlag{
					Name:    RUNNOW,
					Usage:   "Run once immediately on start",
					EnvVars: envVars(RUNNOW),
				},
			),
			Action: scheduleCommand,
		},
		{
			Name:  "history",
			Usage: "List recorded runs, or the tables of one run",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  RUNID,
					Usage: "Show details for a specific run ID",
				},
				&cli.IntFlag{
					Name:  LIMIT,
					Value: 20,
					Usage: "Number of runs to list (0 = all)",
				},
			},
			Action: historyCommand,
		},
		{
			Name:      "mappings",
			Usage:     "Print the effective type mapping table, or map the given native types",
			ArgsUsage: "[native-type ...]",
			Action:    mappingsCommand,
		},
	}
	return app
}

// loadConfig loads the config file and applies global and command flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String(CONFIG))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if c.IsSet(LOGLEVEL) {
		cfg.Logging.Level = c.String(LOGLEVEL)
	}
	if c.IsSet(LOGFORMAT) {
		cfg.Logging.Format = c.String(LOGFORMAT)
	}
	if c.IsSet(STATEFILE) {
		cfg.State.Path = c.String(STATEFILE)
	}
	if c.IsSet(TABLELIST) {
		cfg.Transfer.TableList = c.String(TABLELIST)
	}
	if c.IsSet(WORKERS) {
		cfg.Transfer.Workers = c.Int(WORKERS)
	}
	if c.IsSet(SOURCESCHEMA) {
		cfg.Source.Schema = c.String(SOURCESCHEMA)
	}
	if c.IsSet(TARGETSCHEMA) {
		cfg.Target.Schema = c.String(TARGETSCHEMA)
	}
	if c.IsSet(INDEXMETHOD) {
		cfg.Transfer.IndexMethod = c.String(INDEXMETHOD)
	}
	if c.IsSet(TABLETIMEOUT) {
		cfg.Transfer.TableTimeout = c.Duration(TABLETIMEOUT)
	}
	if c.IsSet(NOHISTORY) {
		cfg.State.Disabled = c.Bool(NOHISTORY)
	}
	if c.IsSet(CRON) {
		cfg.Schedule.Cron = c.String(CRON)
	}
	if c.IsSet(WATCH) {
		cfg.Schedule.Watch = c.Bool(WATCH)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	lvl, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logging.SetLevel(lvl)
	logging.SetFormat(cfg.Logging.Format)
	return cfg, nil
}

func openState(cfg *config.Config) (checkpoint.StateBackend, error) {
	if cfg.State.Disabled {
		return nil, nil
	}
	path := cfg.ResolvePath(cfg.State.Path)
	if path == "" {
		path = checkpoint.DefaultPath()
	}
	state, err := checkpoint.New(path)
	if err != nil {
		return nil, fmt.Errorf("opening run history %s: %w", path, err)
	}
	logging.Debug("Run history: %s", path)
	return state, nil
}

func resolveJobs(c *cli.Context, cfg *config.Config) ([]transfer.Job, error) {
	specs := append([]string{}, cfg.Transfer.Tables...)
	specs = append(specs, c.StringSlice(TABLE)...)
	return orchestrator.ResolveJobs(specs, cfg.TableListPath(), cfg.Source.Schema, cfg.Target.Schema)
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// execute connects, copies jobs and closes the connections again.
func execute(ctx context.Context, c *cli.Context, cfg *config.Config, state checkpoint.StateBackend, jobs []transfer.Job) (*orchestrator.RunResult, error) {
	mapper, err := cfg.Mapper()
	if err != nil {
		return nil, err
	}

	pools, err := pool.Open(ctx, &cfg.Source, &cfg.Target, cfg.Transfer.Workers)
	if err != nil {
		return nil, err
	}
	defer pools.Close()

	var tracker *progress.Tracker
	opts := transfer.Options{
		IndexMethod:         cfg.Transfer.IndexMethod,
		MaxRowsPerStatement: cfg.Transfer.RowsPerStatement,
		Timeout:             cfg.Transfer.TableTimeout,
	}
	if !c.Bool(NOPROGRESS) {
		tracker = progress.New()
		opts.Progress = tracker.AddRows
	}

	pipeline := transfer.NewPipeline(mapper, pools.Sources(), pools.Sessions(), opts)
	runner := orchestrator.NewTransferRunner(pipeline, state, cfg.Transfer.Workers, tracker, cfg.Path())
	return runner.Run(ctx, jobs)
}

func runCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	for _, line := range cfg.Summary() {
		logging.Debug("config: %s", line)
	}
	jobs, err := resolveJobs(c, cfg)
	if err != nil {
		return err
	}

	state, err := openState(cfg)
	if err != nil {
		return err
	}
	if state != nil {
		defer state.Close()
	}

	ctx, cancel := signalContext(c.Context)
	defer cancel()
	defer logging.Sync()

	res, err := execute(ctx, c, cfg, state, jobs)
	if err != nil {
		return err
	}
	printResults(c.App.Writer, res)
	if !res.OK() {
		return cli.Exit(fmt.Sprintf("%d of %d tables failed", len(res.Failed()), len(res.Results)), exitRunFailed)
	}
	return nil
}

func scheduleCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	watchPath := ""
	if cfg.Schedule.Watch {
		watchPath = cfg.TableListPath()
	}

	state, err := openState(cfg)
	if err != nil {
		return err
	}
	if state != nil {
		defer state.Close()
	}

	ctx, cancel := signalContext(c.Context)
	defer cancel()
	defer logging.Sync()

	// The table list is re-read on every run so edits take effect.
	sched := orchestrator.NewScheduler(func(ctx context.Context, trigger string) error {
		jobs, err := resolveJobs(c, cfg)
		if err != nil {
			return err
		}
		res, err := execute(ctx, c, cfg, state, jobs)
		if err != nil {
			return err
		}
		printResults(c.App.Writer, res)
		if !res.OK() {
			return fmt.Errorf("%d of %d tables failed", len(res.Failed()), len(res.Results))
		}
		return nil
	}, cfg.Schedule.Cron, watchPath)
	sched.RunOnStart = c.Bool(RUNNOW)

	return sched.Start(ctx)
}

func historyCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	cfg.State.Disabled = false
	state, err := openState(cfg)
	if err != nil {
		return err
	}
	defer state.Close()

	if runID := c.String(RUNID); runID != "" {
		return showRunDetails(c.App.Writer, state, runID)
	}
	return showHistory(c.App.Writer, state, c.Int(LIMIT))
}

func mappingsCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	mapper, err := cfg.Mapper()
	if err != nil {
		return err
	}

	w := c.App.Writer
	if c.NArg() > 0 {
		for _, native := range c.Args().Slice() {
			mapped, ok := mapper.Lookup(native)
			note := ""
			if !ok {
				note = "  (unmapped, passed through)"
			}
			fmt.Fprintf(w, "%-30s %s%s\n", native, mapped, note)
		}
		return nil
	}

	table := mapper.Table()
	fmt.Fprintf(w, "Type mappings for %s (%d entries):\n", cfg.Source.Type, len(table))
	for _, k := range mapper.Keys() {
		fmt.Fprintf(w, "  %-28s %s\n", k, table[k])
	}
	return nil
}

func printResults(w io.Writer, res *orchestrator.RunResult) {
	fmt.Fprintf(w, "\nRun %s (%s):\n", res.RunID, res.Duration.Round(time.Millisecond))
	for _, r := range res.Results {
		status := "OK    "
		if !r.OK() {
			status = "FAILED"
		}
		fmt.Fprintf(w, "  %s %s\n", status, r.Message())
		for _, ie := range r.IndexErrors {
			fmt.Fprintf(w, "         index: %v\n", ie)
		}
	}
}

func showHistory(w io.Writer, state checkpoint.StateBackend, limit int) error {
	runs, err := state.GetAllRuns(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}

	fmt.Fprintf(w, "%-36s  %-8s  %-19s  %-10s  %s\n", "RUN", "STATUS", "STARTED", "DURATION", "TABLES (ok/failed)")
	for _, r := range runs {
		duration := "-"
		if r.CompletedAt != nil {
			duration = r.Duration().Round(time.Second).String()
		}
		fmt.Fprintf(w, "%-36s  %-8s  %-19s  %-10s  %d (%d/%d)\n",
			r.ID, r.Status, r.StartedAt.Local().Format("2006-01-02 15:04:05"), duration, r.Tables, r.Succeeded, r.Failed)
	}
	return nil
}

func showRunDetails(w io.Writer, state checkpoint.StateBackend, runID string) error {
	run, err := state.GetRunByID(runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}

	fmt.Fprintf(w, "Run:     %s\n", run.ID)
	fmt.Fprintf(w, "Status:  %s\n", run.Status)
	fmt.Fprintf(w, "Started: %s\n", run.StartedAt.Local().Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Fprintf(w, "Ended:   %s (%s)\n", run.CompletedAt.Local().Format(time.RFC3339), run.Duration().Round(time.Millisecond))
	}
	if run.ConfigPath != "" {
		fmt.Fprintf(w, "Config:  %s\n", run.ConfigPath)
	}
	if run.Error != "" {
		fmt.Fprintf(w, "Error:   %s\n", run.Error)
	}

	results, err := state.GetTableResults(runID)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nTables:\n")
	for _, t := range results {
		fmt.Fprintf(w, "  %-8s %s -> %s: %d rows in %s", t.Status, t.Source, t.Dest, t.Rows, t.Duration)
		if t.IndexErrors > 0 {
			fmt.Fprintf(w, ", %d index error(s)", t.IndexErrors)
		}
		fmt.Fprintln(w)
		if t.Error != "" {
			fmt.Fprintf(w, "           %s\n", t.Error)
		}
		for _, col := range t.Columns {
			if col.Spatial {
				fmt.Fprintf(w, "           %s %s SRID %s\n", col.Name, col.MappedType, col.SRIDString())
			}
		}
	}
	return nil
}
