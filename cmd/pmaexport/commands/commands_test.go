package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"pmaexport/internal/export"
	"pmaexport/internal/testutil/fakeconsole"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newConsole(t testing.TB) *fakeconsole.Console {
	return fakeconsole.New(t, fakeconsole.Options{
		Tables: map[string][]string{
			"shop": {"users", "orders", "log_2023", "log_2024"},
		},
	})
}

func execute(args ...string) (string, error) {
	cmd := NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestExportCommand(t *testing.T) {
	console := newConsole(t)
	dir := t.TempDir()

	out, err := execute(
		"--url", console.URL, "--lang", "en",
		"export", "users", "orders",
		"--db", "shop", "-d", "users", "-s", "-o", dir,
	)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "Exported: users.sql\nExported: orders.sql\n"), out)
	// go-pretty upper cases footers
	require.Contains(t, strings.ToLower(out), "2 files")

	users, err := os.ReadFile(filepath.Join(dir, "users.sql"))
	require.NoError(t, err)
	require.Contains(t, string(users), "INSERT INTO `users`")

	require.Equal(t, []string{"en"}, console.Langs())
}

func TestExportAllCommand(t *testing.T) {
	console := newConsole(t)
	dir := t.TempDir()

	out, err := execute(
		"--url", console.URL,
		"export-all", "--db", "shop",
		"--filter-table", "^log_", "--data-prefix", "log_2024", "--create-database",
		"--output", dir,
	)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "Exported: shop.sql\n"), out)

	dump, err := os.ReadFile(filepath.Join(dir, "shop.sql"))
	require.NoError(t, err)
	require.Contains(t, string(dump), "CREATE DATABASE IF NOT EXISTS `shop`;")
	require.Contains(t, string(dump), "INSERT INTO `log_2024`")
	require.NotContains(t, string(dump), "`users`")

	require.Equal(t, []string{"ja"}, console.Langs())
}

func TestShorthandFlags(t *testing.T) {
	console := newConsole(t)
	dir := t.TempDir()

	out, err := execute(
		"-u", console.URL, "-l", "en",
		"export-all", "--db", "shop",
		"-f", "^log_", "-d", "log_2023", "-d", "log_2024",
		"-o", dir,
	)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "Exported: shop.sql\n"), out)

	dump, err := os.ReadFile(filepath.Join(dir, "shop.sql"))
	require.NoError(t, err)
	require.Contains(t, string(dump), "INSERT INTO `log_2023`")
	require.Contains(t, string(dump), "INSERT INTO `log_2024`")
	require.NotContains(t, string(dump), "`users`")

	require.Equal(t, []string{"en"}, console.Langs())
}

func TestCommandConfigFile(t *testing.T) {
	console := newConsole(t)
	dir := t.TempDir()
	config := filepath.Join(dir, "pmaexport.json5")
	require.NoError(t, os.WriteFile(config, []byte(fmt.Sprintf(`{
		// local console
		url: "%s",
		lang: "de",
		token_source: "form",
		requests_per_second: 100,
		burst: 10,
		max_parallel_writes: 1,
	}`, console.URL)), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pmaexport.local.json5"), []byte(`{lang: "fr"}`), 0644))

	_, err := execute("--config", config, "export-all", "--db", "shop", "-a", "-o", filepath.Join(dir, "out"))
	require.NoError(t, err)
	require.Equal(t, []string{"fr"}, console.Langs())

	_, err = execute("--config", config, "--lang", "en", "export-all", "--db", "shop", "-o", filepath.Join(dir, "out"))
	require.NoError(t, err)
	require.Equal(t, []string{"fr", "en"}, console.Langs())
}

func TestCommandErrors(t *testing.T) {
	console := newConsole(t)
	dir := t.TempDir()

	testCases := []struct {
		name     string
		args     []string
		contains string
	}{
		{
			name:     "missing database",
			args:     []string{"--url", console.URL, "export-all"},
			contains: `"db"`,
		},
		{
			name:     "exclusive data flags",
			args:     []string{"--url", console.URL, "export-all", "--db", "shop", "--all-data", "--data", "users"},
			contains: "all-data",
		},
		{
			name:     "missing url",
			args:     []string{"export-all", "--db", "shop"},
			contains: "console url",
		},
		{
			name:     "missing tables",
			args:     []string{"--url", console.URL, "export", "--db", "shop"},
			contains: "at least 1 arg",
		},
		{
			name:     "missing explicit config",
			args:     []string{"--config", filepath.Join(dir, "nope.json5"), "export-all", "--db", "shop"},
			contains: "nope.json5",
		},
		{
			name:     "bad filter",
			args:     []string{"--url", console.URL, "export-all", "--db", "shop", "--filter-table", "(["},
			contains: "--filter-table",
		},
		{
			name:     "unknown token source",
			args:     []string{"--config", writeConfig(t, dir, `{url: "`+console.URL+`", token_source: "cookie"}`), "export-all", "--db", "shop"},
			contains: "token source",
		},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			_, err := execute(test.args...)
			require.Error(t, err)
			require.Contains(t, err.Error(), test.contains)
		})
	}
	require.Empty(t, console.ExportForms())
}

func writeConfig(t testing.TB, dir, content string) string {
	path := filepath.Join(dir, "custom.json5")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestExportCommandUnknownTables(t *testing.T) {
	console := newConsole(t)

	_, err := execute("--url", console.URL, "export", "users", "carts", "--db", "shop", "-o", t.TempDir())

	var unknown *export.UnknownTableError
	require.True(t, errors.As(err, &unknown))
	require.Equal(t, []string{"carts"}, unknown.Tables)
	require.Empty(t, console.ExportForms())
}

func TestPrintWritten(t *testing.T) {
	var out bytes.Buffer
	printWritten(&out, []export.Written{
		{Name: "a.sql", Path: "dump/a.sql", Size: 10},
		{Name: "b.sql", Path: "dump/b.sql", Size: 32},
	})

	lines := strings.Split(out.String(), "\n")
	require.Equal(t, "Exported: a.sql", lines[0])
	require.Equal(t, "Exported: b.sql", lines[1])
	require.Contains(t, out.String(), "dump/b.sql")
	require.Contains(t, out.String(), "42")
	require.Contains(t, strings.ToLower(out.String()), "2 files")
}

func TestDumpHttpFlag(t *testing.T) {
	console := newConsole(t)
	dir := t.TempDir()
	dumps := filepath.Join(dir, "http")

	_, err := execute("--url", console.URL, "--dump-http", dumps, "export-all", "--db", "shop", "-o", dir)
	require.NoError(t, err)

	files, err := os.ReadDir(dumps)
	require.NoError(t, err)
	// the export download itself is streamed and not dumped
	require.Len(t, files, 3)
}
