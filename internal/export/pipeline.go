// Package export turns a table selection into files on disk by driving a
// phpmyadmin console through session acquisition, enumeration, export and
// extraction.
package export

import (
	"bytes"
	"context"
	"pmaexport/internal/components/assert"
	"pmaexport/internal/components/telemetry"
	"pmaexport/internal/scrapers/phpmyadmin"
	"pmaexport/internal/zipstream"
	"regexp"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	report_pipeline_prefix_unmatched = "pipeline.prefix-unmatched"
	report_pipeline_entries          = "pipeline.entries"
)

var tracer = otel.Tracer("pmaexport/internal/export")

// Console is the part of the phpmyadmin client the pipeline drives.
type Console interface {
	Session(ctx context.Context) (phpmyadmin.Session, error)
	Tables(ctx context.Context, database string) ([]string, error)
	Export(ctx context.Context, session phpmyadmin.Session, req phpmyadmin.ExportRequest) (phpmyadmin.Payload, error)
}

type Job struct {
	Database string
	// Tables is the explicit selection of `export`, every name must exist.
	Tables []string
	// FilterTable narrows the enumerated tables of `export-all`.
	FilterTable *regexp.Regexp

	Policy         Policy
	Output         string
	SeparateFiles  bool
	CreateDatabase bool
}

type Pipeline struct {
	console           Console
	maxParallelWrites int
	base              telemetry.API
	tel               telemetry.API
}

func NewPipeline(console Console, maxParallelWrites int, tel telemetry.API) Pipeline {
	assert.NotNil(console)
	return Pipeline{
		console:           console,
		maxParallelWrites: maxParallelWrites,
		base:              tel,
		tel:               telemetry.NewScopedAPI("export", tel),
	}
}

func traced[T any](ctx context.Context, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := tracer.Start(ctx, name)
	defer span.End()

	res, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

// prepare acquires a session and enumerates the database at the same time.
func (p Pipeline) prepare(ctx context.Context, database string) (phpmyadmin.Session, []string, error) {
	var session phpmyadmin.Session
	var tables []string

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		session, err = traced(groupCtx, "Session", p.console.Session)
		return err
	})
	group.Go(func() error {
		var err error
		tables, err = traced(groupCtx, "Tables", func(ctx context.Context) ([]string, error) {
			return p.console.Tables(ctx, database)
		})
		return err
	})

	err := group.Wait()
	if err != nil {
		return phpmyadmin.Session{}, nil, err
	}
	return session, tables, nil
}

// Export exports the tables named by the job.
func (p Pipeline) Export(ctx context.Context, job Job) ([]Written, error) {
	ctx, span := tracer.Start(ctx, "Export", trace.WithAttributes(
		attribute.String("database", job.Database),
		attribute.StringSlice("tables", job.Tables),
	))
	defer span.End()

	written, err := p.export(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return written, err
}

func (p Pipeline) export(ctx context.Context, job Job) ([]Written, error) {
	session, actual, err := p.prepare(ctx, job.Database)
	if err != nil {
		return nil, err
	}
	tables := dedupe(job.Tables)
	err = CheckTablesExist(job.Database, actual, tables)
	if err != nil {
		return nil, err
	}
	return p.run(ctx, session, tables, job)
}

// ExportAll exports every table of the database that passes the job's filter.
func (p Pipeline) ExportAll(ctx context.Context, job Job) ([]Written, error) {
	attrs := []attribute.KeyValue{attribute.String("database", job.Database)}
	if job.FilterTable != nil {
		attrs = append(attrs, attribute.String("filter", job.FilterTable.String()))
	}
	ctx, span := tracer.Start(ctx, "ExportAll", trace.WithAttributes(attrs...))
	defer span.End()

	written, err := p.exportAll(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return written, err
}

func (p Pipeline) exportAll(ctx context.Context, job Job) ([]Written, error) {
	session, actual, err := p.prepare(ctx, job.Database)
	if err != nil {
		return nil, err
	}
	tables := FilterTables(actual, job.FilterTable)
	p.tel.ReportDebug("selected tables", job.Database, len(tables), len(actual))
	return p.run(ctx, session, tables, job)
}

func (p Pipeline) run(ctx context.Context, session phpmyadmin.Session, tables []string, job Job) ([]Written, error) {
	req, err := BuildRequest(tables, RequestOptions{
		Database:       job.Database,
		Policy:         job.Policy,
		SeparateFiles:  job.SeparateFiles,
		CreateDatabase: job.CreateDatabase,
	})
	if err != nil {
		return nil, err
	}
	p.warnUnmatchedPrefix(req, job.Policy)

	payload, err := traced(ctx, "ExportRequest", func(ctx context.Context) (phpmyadmin.Payload, error) {
		return p.console.Export(ctx, session, req)
	})
	if err != nil {
		return nil, err
	}

	entries, err := traced(ctx, "Decode", func(ctx context.Context) ([]zipstream.Entry, error) {
		return zipstream.Decode(ctx, payload.ContentEncoding, bytes.NewReader(payload.Body))
	})
	if err != nil {
		return nil, err
	}
	p.tel.ReportCount(report_pipeline_entries, int64(len(entries)))

	materializer := NewMaterializer(job.Output, p.maxParallelWrites, p.base)
	return traced(ctx, "Write", func(ctx context.Context) ([]Written, error) {
		return materializer.Write(ctx, entries)
	})
}

func (p Pipeline) warnUnmatchedPrefix(req phpmyadmin.ExportRequest, policy Policy) {
	if policy.AllData || policy.DataTables != nil || policy.DataPrefix == nil {
		return
	}
	for _, table := range req.Tables {
		if table.Data {
			return
		}
	}
	p.tel.ReportWarning(report_pipeline_prefix_unmatched, *policy.DataPrefix)
}
