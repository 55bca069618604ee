package export

import (
	"context"
	"os"
	"path/filepath"
	"pmaexport/internal/components/telemetry"
	"pmaexport/internal/zipstream"
	"strings"

	"golang.org/x/sync/errgroup"
)

const (
	report_materializer_write = "materializer.write"
)

// Written is a file that was written to the output directory.
type Written struct {
	Name string
	Path string
	Size int
}

// Materializer writes archive entries below a directory, one goroutine per entry.
type Materializer struct {
	dir         string
	maxParallel int
	tel         telemetry.API
}

// NewMaterializer creates a Materializer, `maxParallel` <= 0 means no limit
// on concurrent writes.
func NewMaterializer(dir string, maxParallel int, tel telemetry.API) Materializer {
	return Materializer{
		dir:         dir,
		maxParallel: maxParallel,
		tel:         telemetry.NewScopedAPI("export", tel),
	}
}

func (m Materializer) target(name string) (string, error) {
	local := filepath.FromSlash(name)
	if !filepath.IsLocal(local) {
		return "", &UnsafeEntryNameError{Name: name}
	}
	return filepath.Join(m.dir, local), nil
}

// Write writes every entry and returns them in archive order. Names are all
// validated before anything is written, two file entries with the same target
// are rejected. Once a write fails no new writes are
// started, but writes already running are left to finish, and whatever was
// written stays on disk. The first error is returned.
func (m Materializer) Write(ctx context.Context, entries []zipstream.Entry) ([]Written, error) {
	paths := make([]string, len(entries))
	files := map[string]struct{}{}
	for i, entry := range entries {
		path, err := m.target(entry.FileName)
		if err != nil {
			m.tel.ReportWarning(report_materializer_write, err)
			return nil, err
		}
		if !strings.HasSuffix(entry.FileName, "/") {
			if _, ok := files[path]; ok {
				err := &DuplicateEntryNameError{Name: entry.FileName}
				m.tel.ReportWarning(report_materializer_write, err)
				return nil, err
			}
			files[path] = struct{}{}
		}
		paths[i] = path
	}

	err := os.MkdirAll(m.dir, 0755)
	if err != nil {
		return nil, &IOError{Op: "create directory", Path: m.dir, Err: err}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	if m.maxParallel > 0 {
		group.SetLimit(m.maxParallel)
	}

	written := make([]Written, len(entries))
	for i, entry := range entries {
		if groupCtx.Err() != nil {
			break
		}
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			err := writeEntry(paths[i], entry)
			if err != nil {
				m.tel.ReportBroken(report_materializer_write, err)
				return err
			}
			m.tel.ReportDebug("wrote file", paths[i], len(entry.Content))
			written[i] = Written{
				Name: entry.FileName,
				Path: paths[i],
				Size: len(entry.Content),
			}
			return nil
		})
	}

	err = group.Wait()
	if err != nil {
		return nil, err
	}
	// the loop can stop early without any goroutine failing
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return written, nil
}

func writeEntry(path string, entry zipstream.Entry) error {
	if strings.HasSuffix(entry.FileName, "/") {
		err := os.MkdirAll(path, 0755)
		if err != nil {
			return &IOError{Op: "create directory", Path: path, Err: err}
		}
		return nil
	}

	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return &IOError{Op: "create directory", Path: filepath.Dir(path), Err: err}
	}
	err = os.WriteFile(path, entry.Content, 0644)
	if err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}
