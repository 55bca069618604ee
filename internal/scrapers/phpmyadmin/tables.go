package phpmyadmin

import (
	"context"
	"net/url"
	"regexp"
)

// table links on the structure page look like `...&table=users&...`, names
// with characters outside of this set are percent encoded
var tableRegex = regexp.MustCompile(`table=([\w$%-]+)&`)

// Tables lists the tables of a database by scraping its structure page. The
// result is in order of first appearance on the page, without duplicates.
func (c *Client) Tables(ctx context.Context, database string) ([]string, error) {
	c.tel.ReportDebug("fetch tables", database)

	res, err := c.Http.R().
		SetContext(ctx).
		SetQueryParam("db", database).
		Get("/db_structure.php")
	err = checkResponse("/db_structure.php", res, err)
	if err != nil {
		c.tel.ReportBroken(report_client_tables, err, database)
		return nil, err
	}

	tables := scanTableNames(res.Body())
	c.tel.ReportCount(report_client_tables, int64(len(tables)))
	return tables, nil
}

func scanTableNames(body []byte) []string {
	seen := map[string]struct{}{}
	tables := []string{}
	for _, groups := range tableRegex.FindAllSubmatch(body, -1) {
		name := string(groups[1])
		unescaped, err := url.QueryUnescape(name)
		if err == nil {
			name = unescaped
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		tables = append(tables, name)
	}
	return tables
}
