package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrMalformedResourceName is returned when a table resource name does not follow
// projects/{project}/datasets/{dataset}/tables/{table}.
var ErrMalformedResourceName = errors.New("malformed table resource name")

// ExportMarker identifies SQL statements that export query results.
const ExportMarker = "EXPORT DATA OPTIONS"

var (
	quotedPattern    = regexp.MustCompile(`'([^']+)'`)
	exportURIPattern = regexp.MustCompile(`(?i)\buri\s*=\s*(?:'([^']+)'|"([^"]+)")`)
)

// QuotedSubstring returns the first single-quoted substring of s without its quotes.
func QuotedSubstring(s string) (string, bool) {
	m := quotedPattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ExportURI returns the destination URI of an EXPORT DATA statement. Queries without the
// export marker, or without a quoted uri option, yield nothing.
func ExportURI(query string) (string, bool) {
	if !strings.Contains(strings.ToUpper(query), ExportMarker) {
		return "", false
	}
	m := exportURIPattern.FindStringSubmatch(query)
	if m == nil {
		return "", false
	}
	if m[1] != "" {
		return m[1], true
	}
	return m[2], true
}

// ParseTableResource splits projects/{p}/datasets/{d}/tables/{t} into dataset and table.
func ParseTableResource(name string) (dataset, table string, err error) {
	parts := strings.Split(name, "/")
	if len(parts) != 6 || parts[0] != "projects" || parts[2] != "datasets" || parts[4] != "tables" {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedResourceName, name)
	}
	if parts[1] == "" || parts[3] == "" || parts[5] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedResourceName, name)
	}
	return parts[3], parts[5], nil
}
