package connectors

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
)

// WalkOptions filters a directory walk.
type WalkOptions struct {
	// Patterns are globs matched against the base name and the slash
	// separated relative path. Empty matches every file.
	Patterns []string
	// IncludeHidden walks dot files and dot directories.
	IncludeHidden bool
}

// WalkFunc receives each matching regular file. rel uses forward slashes.
type WalkFunc func(rel, abs string, d fs.DirEntry) error

// Walk visits matching files under root in lexical order. It stops early
// when ctx is done and returns ctx.Err().
func Walk(ctx context.Context, root string, opts WalkOptions, fn WalkFunc) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == root {
				return err
			}
			// Unreadable subtrees are skipped; the file callback reports items.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}

		hidden := strings.HasPrefix(d.Name(), ".")
		if d.IsDir() {
			if hidden && !opts.IncludeHidden {
				return filepath.SkipDir
			}
			return nil
		}
		if hidden && !opts.IncludeHidden {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !Match(opts.Patterns, rel) {
			return nil
		}
		return fn(rel, path, d)
	})
}

// Match reports whether rel matches any pattern. Patterns without a slash
// match the base name; others match the full relative path.
func Match(patterns []string, rel string) bool {
	if len(patterns) == 0 {
		return true
	}
	base := rel
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		base = rel[i+1:]
	}
	for _, p := range patterns {
		target := base
		if strings.Contains(p, "/") {
			target = rel
		}
		if ok, _ := filepath.Match(strings.ToLower(p), strings.ToLower(target)); ok {
			return true
		}
	}
	return false
}
