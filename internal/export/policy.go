package export

import (
	"pmaexport/internal/scrapers/phpmyadmin"
	"regexp"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
)

// Policy decides which tables get their rows exported, the structure of
// every table is always exported. The first rule that is set wins:
// AllData, then DataTables, then DataPrefix.
type Policy struct {
	AllData bool
	// DataTables, when not nil, lists the tables whose rows are exported.
	DataTables []string
	// DataPrefix, when not nil, exports the rows of tables whose name starts with it.
	DataPrefix *string
}

func (p Policy) IncludesData(table string) bool {
	switch {
	case p.AllData:
		return true
	case p.DataTables != nil:
		return slices.Contains(p.DataTables, table)
	case p.DataPrefix != nil:
		return strings.HasPrefix(table, *p.DataPrefix)
	}
	return false
}

type RequestOptions struct {
	Database       string
	Policy         Policy
	SeparateFiles  bool
	CreateDatabase bool
}

// BuildRequest selects `tables` according to the policy. Explicit data
// tables must all be part of `tables`.
func BuildRequest(tables []string, opts RequestOptions) (phpmyadmin.ExportRequest, error) {
	if opts.Policy.DataTables != nil {
		err := CheckTablesExist(opts.Database, tables, opts.Policy.DataTables)
		if err != nil {
			return phpmyadmin.ExportRequest{}, err
		}
	}

	selected := make([]phpmyadmin.Table, len(tables))
	for i, name := range tables {
		selected[i] = phpmyadmin.Table{
			Name:      name,
			Structure: true,
			Data:      opts.Policy.IncludesData(name),
		}
	}

	return phpmyadmin.ExportRequest{
		Database:       opts.Database,
		Tables:         selected,
		SeparateFiles:  opts.SeparateFiles,
		CreateDatabase: opts.CreateDatabase,
	}, nil
}

const suggestionThreshold = 0.85

// CheckTablesExist fails with an UnknownTableError naming every entry of
// `requested` that is missing from `actual`.
func CheckTablesExist(database string, actual, requested []string) error {
	var missing []string
	suggestions := map[string]string{}
	for _, name := range requested {
		if slices.Contains(actual, name) {
			continue
		}
		missing = append(missing, name)
		if suggestion, ok := closestTable(name, actual); ok {
			suggestions[name] = suggestion
		}
	}
	if len(missing) > 0 {
		return &UnknownTableError{
			Database:    database,
			Tables:      missing,
			Suggestions: suggestions,
		}
	}
	return nil
}

func closestTable(name string, tables []string) (string, bool) {
	best := ""
	bestSimilarity := 0.0
	for _, table := range tables {
		similarity := matchr.JaroWinkler(name, table, false)
		if similarity > bestSimilarity {
			best = table
			bestSimilarity = similarity
		}
	}
	return best, bestSimilarity >= suggestionThreshold
}

// FilterTables keeps the tables matching `pattern`, a nil pattern keeps all.
func FilterTables(tables []string, pattern *regexp.Regexp) []string {
	if pattern == nil {
		return tables
	}
	filtered := []string{}
	for _, name := range tables {
		if pattern.MatchString(name) {
			filtered = append(filtered, name)
		}
	}
	return filtered
}

func dedupe(names []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
