package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"pmaexport/internal/components/restyutil"
	"pmaexport/internal/components/telemetry"
	"pmaexport/internal/export"
	"pmaexport/internal/scrapers/phpmyadmin"
	"regexp"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
)

type exportOptions struct {
	root *rootOptions

	db             string
	allData        bool
	data           []string
	dataPrefix     string
	output         string
	separateFiles  bool
	createDatabase bool
	filterTable    string
}

func (o *exportOptions) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&o.db, "db", "", "The database to export.")
	flags.BoolVarP(&o.allData, "all-data", "a", false, "Export the rows of every table.")
	flags.StringSliceVarP(&o.data, "data", "d", nil, "Export the rows of these tables only, comma separated or repeated (-d a,b or -d a -d b).")
	flags.StringVar(&o.dataPrefix, "data-prefix", "", "Export the rows of tables starting with this prefix.")
	flags.StringVarP(&o.output, "output", "o", "./", "The directory the exported files are written to.")
	flags.BoolVarP(&o.separateFiles, "separate-files", "s", false, "Write one file per table.")
	flags.BoolVar(&o.createDatabase, "create-database", false, "Add a CREATE DATABASE statement to the dump.")

	cmd.MarkFlagRequired("db")
	cmd.MarkFlagsMutuallyExclusive("all-data", "data", "data-prefix")
}

func (o *exportOptions) policy(cmd *cobra.Command) export.Policy {
	policy := export.Policy{AllData: o.allData}
	if cmd.Flags().Changed("data") {
		policy.DataTables = append([]string{}, o.data...)
	}
	if cmd.Flags().Changed("data-prefix") {
		prefix := o.dataPrefix
		policy.DataPrefix = &prefix
	}
	return policy
}

func (o *exportOptions) job(cmd *cobra.Command, tables []string) (export.Job, error) {
	job := export.Job{
		Database:       o.db,
		Tables:         tables,
		Policy:         o.policy(cmd),
		Output:         o.output,
		SeparateFiles:  o.separateFiles,
		CreateDatabase: o.createDatabase,
	}
	if o.filterTable != "" {
		pattern, err := regexp.Compile(o.filterTable)
		if err != nil {
			return export.Job{}, fmt.Errorf("invalid --filter-table: %w", err)
		}
		job.FilterTable = pattern
	}
	return job, nil
}

// runFunc matches the method expressions export.Pipeline.Export and export.Pipeline.ExportAll.
type runFunc func(pipeline export.Pipeline, ctx context.Context, job export.Job) ([]export.Written, error)

// run builds the pipeline from the config and flags, runs one export with it
// and prints what was written.
func (o *exportOptions) run(cmd *cobra.Command, tables []string, fn runFunc) error {
	cfg, err := o.root.loadConfig(cmd)
	if err != nil {
		return err
	}
	job, err := o.job(cmd, tables)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	tel, err := telemetry.Setup(ctx, "pmaexport", cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := tel.Shutdown(ctx)
		if err != nil {
			slog.Warn("failed to flush telemetry", "err", err)
		}
	}()

	api, err := telemetry.NewMeterAPI(telemetry.SlogAPI{}, otel.Meter("pmaexport"))
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	if tel.MeterProvider != nil {
		perfCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		telemetry.InstrumentPerfStats(perfCtx, 5*time.Second)
	}

	extractor, err := phpmyadmin.ExtractorFor(cfg.TokenSource)
	if err != nil {
		return err
	}
	clientOpts := phpmyadmin.ClientOptions{
		BaseUrl:           cfg.Url,
		Lang:              cfg.Lang,
		Timeout:           time.Duration(cfg.TimeoutSeconds) * time.Second,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		CloudflareBypass:  cfg.CloudflareBypass,
		Extractor:         extractor,
	}
	if o.root.dumpHttp != "" {
		output, err := restyutil.NewFilesystemOutput(o.root.dumpHttp)
		if err != nil {
			return err
		}
		clientOpts.HttpDump = output
	}
	client, err := phpmyadmin.NewClient(clientOpts, api)
	if err != nil {
		return err
	}
	pipeline := export.NewPipeline(client, cfg.MaxParallelWrites, api)

	start := time.Now()
	written, err := fn(pipeline, ctx, job)
	if err != nil {
		return err
	}
	slog.Debug("export finished", "database", job.Database, "seconds", time.Since(start).Seconds())

	printWritten(cmd.OutOrStdout(), written)
	return nil
}

func printWritten(w io.Writer, written []export.Written) {
	for _, file := range written {
		fmt.Fprintf(w, "Exported: %s\n", file.Name)
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"File", "Path", "Bytes"})
	total := 0
	for _, file := range written {
		t.AppendRow(table.Row{file.Name, file.Path, file.Size})
		total += file.Size
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d files", len(written)), "", total})
	t.Render()
}

func newExportCmd(root *rootOptions) *cobra.Command {
	opts := &exportOptions{root: root}
	cmd := &cobra.Command{
		Use:   "export <tables...> --db <database>",
		Short: "Exports the named tables of a database.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, args, export.Pipeline.Export)
		},
	}
	opts.register(cmd)
	return cmd
}

func newExportAllCmd(root *rootOptions) *cobra.Command {
	opts := &exportOptions{root: root}
	cmd := &cobra.Command{
		Use:   "export-all --db <database>",
		Short: "Exports every table of a database.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, nil, export.Pipeline.ExportAll)
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVarP(&opts.filterTable, "filter-table", "f", "", "Only export tables matching this regular expression.")
	return cmd
}
