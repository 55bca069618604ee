package export

import (
	"fmt"
	"strings"
)

// UnknownTableError lists every requested table that does not exist.
type UnknownTableError struct {
	Database string
	Tables   []string
	// Suggestions maps a missing table to the closest existing name, if any
	// is close enough.
	Suggestions map[string]string
}

func (e *UnknownTableError) Error() string {
	names := make([]string, len(e.Tables))
	for i, name := range e.Tables {
		names[i] = name
		if suggestion, ok := e.Suggestions[name]; ok {
			names[i] = fmt.Sprintf("%s (did you mean %s?)", name, suggestion)
		}
	}
	return fmt.Sprintf(
		"export: tables not found in database %q: %s",
		e.Database, strings.Join(names, ","),
	)
}

// IOError means an exported file could not be written.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("export: %s %s: %s", e.Op, e.Path, e.Err.Error())
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// UnsafeEntryNameError means the archive named a file outside of the
// output directory.
type UnsafeEntryNameError struct {
	Name string
}

func (e *UnsafeEntryNameError) Error() string {
	return fmt.Sprintf("export: refusing to write archive entry %q outside of the output directory", e.Name)
}

// DuplicateEntryNameError means two archive entries would be written to the
// same file.
type DuplicateEntryNameError struct {
	Name string
}

func (e *DuplicateEntryNameError) Error() string {
	return fmt.Sprintf("export: archive contains more than one entry for %q", e.Name)
}
