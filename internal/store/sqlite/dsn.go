package sqlite

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Applied on every pooled connection, not just the first one.
var connectionPragmas = []string{
	"busy_timeout(30000)",
	"foreign_keys(1)",
	"journal_mode(WAL)",
}

// parseDSN turns sqlite://<path>[?query] into a modernc driver DSN carrying
// the connection pragmas. The second return value reports an in-memory
// database, which must be confined to a single connection.
func parseDSN(dsn string) (string, bool, error) {
	if !strings.HasPrefix(dsn, "sqlite://") {
		return "", false, fmt.Errorf("invalid sqlite DSN scheme, expected sqlite://")
	}

	rest := strings.TrimPrefix(dsn, "sqlite://")
	path, rawQuery, _ := strings.Cut(rest, "?")

	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", false, fmt.Errorf("parsing query: %w", err)
	}
	for _, pragma := range connectionPragmas {
		query.Add("_pragma", pragma)
	}

	if path == ":memory:" {
		return path + "?" + query.Encode(), true, nil
	}
	if path == "" {
		return "", false, fmt.Errorf("sqlite DSN is missing a path")
	}

	unescaped, err := url.PathUnescape(path)
	if err != nil {
		return "", false, fmt.Errorf("unescaping path: %w", err)
	}
	path = unescaped
	if !filepath.IsAbs(path) && !strings.HasPrefix(path, "./") {
		path = "./" + path
	}

	return path + "?" + query.Encode(), false, nil
}
