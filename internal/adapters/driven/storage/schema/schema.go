// Package schema plans the numbered SQL migrations both stores embed.
//
// Files are named NNN_description.up.sql (and .down.sql). Only up files
// are applied; the version is the leading number.
package schema

import (
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

// TableDDL creates the bookkeeping table. The applied_at column type is
// dialect specific.
func TableDDL(timestampType string) string {
	return `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at ` + timestampType + `
	)`
}

// Migration is one up file.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Pending returns the migrations in fsys newer than applied, oldest first.
// Two files with the same version are an error.
func Pending(fsys fs.FS, applied int) ([]Migration, error) {
	names, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, err
	}

	seen := make(map[int]string, len(names))
	var out []Migration
	for _, name := range names {
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: missing version prefix", name)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %s: bad version %q", name, prefix)
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", other, name, version)
		}
		seen[version] = name
		if version <= applied {
			continue
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", name, err)
		}
		out = append(out, Migration{Version: version, Name: name, SQL: string(body)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
