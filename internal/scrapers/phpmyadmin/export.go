package phpmyadmin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Table is a table selected for export, Structure and Data decide which
// parts of it end up in the dump.
type Table struct {
	Name      string
	Structure bool
	Data      bool
}

type ExportRequest struct {
	Database       string
	Tables         []Table
	SeparateFiles  bool
	CreateDatabase bool
}

// Payload is the export response exactly as it was received.
type Payload struct {
	Body            []byte
	ContentEncoding string
}

type formField struct {
	key   string
	value string
}

// defaultExportOptions is what the console's own export form submits for a
// zipped sql dump with structure and data as INSERT statements.
var defaultExportOptions = [...]formField{
	{"export_type", "database"},
	{"export_method", "quick"},
	{"template_id", ""},
	{"quick_or_custom", "custom"},
	{"what", "sql"},
	{"structure_or_data_forced", "0"},
	{"aliases_new", ""},
	{"output_format", "sendit"},
	{"filename_template", "@DATABASE@"},
	{"remember_template", "on"},
	{"charset", "utf-8"},
	{"compression", "zip"},
	{"maxsize", ""},
	{"sql_include_comments", "something"},
	{"sql_header_comment", ""},
	{"sql_use_transaction", "something"},
	{"sql_compatibility", "NONE"},
	{"sql_structure_or_data", "structure_and_data"},
	{"sql_create_table", "something"},
	{"sql_drop_table", "something"},
	{"sql_auto_increment", "something"},
	{"sql_create_view", "something"},
	{"sql_create_trigger", "something"},
	{"sql_backquotes", "something"},
	{"sql_type", "INSERT"},
	{"sql_insert_syntax", "both"},
	{"sql_max_query_size", "50000"},
	{"sql_hex_for_binary", "something"},
	{"sql_utc_time", "something"},
	{"knjenc", ""},
}

func exportForm(session Session, req ExportRequest) url.Values {
	form := url.Values{}
	for _, field := range defaultExportOptions {
		form.Add(field.key, field.value)
	}

	form.Set("db", req.Database)
	form.Set("token", session.Token)
	if req.SeparateFiles {
		form.Set("as_separate_files", "database")
	}
	if req.CreateDatabase {
		form.Set("sql_create_database", "something")
	}

	for _, table := range req.Tables {
		if !table.Structure && !table.Data {
			continue
		}
		form.Add("table_select[]", table.Name)
		if table.Structure {
			form.Add("table_structure[]", table.Name)
		}
		if table.Data {
			form.Add("table_data[]", table.Name)
		}
	}
	return form
}

// Export submits the export form and returns the (compressed) response body
// untouched.
func (c *Client) Export(ctx context.Context, session Session, req ExportRequest) (Payload, error) {
	tables, err := c.Tables(ctx, req.Database)
	if err != nil {
		return Payload{}, err
	}
	if len(tables) == 0 || len(req.Tables) == 0 {
		err := &ExportTargetEmptyError{Database: req.Database}
		c.tel.ReportWarning(report_client_export, err)
		return Payload{}, err
	}

	c.tel.ReportDebug("submit export", req.Database, len(req.Tables))

	// the response is not parsed so resty leaves the gzip envelope alone
	res, err := c.Http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetCookie(&http.Cookie{Name: "phpMyAdmin", Value: session.SessionCookie}).
		SetHeader("accept-encoding", "gzip, deflate, br").
		SetFormDataFromValues(exportForm(session, req)).
		Post("/export.php")
	if err != nil {
		err = &NetworkError{Endpoint: "/export.php", Err: err}
		c.tel.ReportBroken(report_client_export, err)
		return Payload{}, err
	}
	body := res.RawBody()
	defer body.Close()

	if !res.IsSuccess() {
		err := &NetworkError{Endpoint: "/export.php", StatusCode: res.StatusCode()}
		c.tel.ReportBroken(report_client_export, err)
		return Payload{}, err
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		err = &NetworkError{Endpoint: "/export.php", Err: fmt.Errorf("read body: %w", err)}
		c.tel.ReportBroken(report_client_export, err)
		return Payload{}, err
	}

	c.tel.ReportCount(report_client_export, int64(len(raw)))
	return Payload{
		Body:            raw,
		ContentEncoding: res.Header().Get("content-encoding"),
	}, nil
}
