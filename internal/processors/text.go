package processors

import (
	"path"
	"strings"
)

// TitleFromKey derives a readable title from a path or URL key.
func TitleFromKey(key string) string {
	key = strings.TrimRight(key, "/")
	if i := strings.IndexAny(key, "?#"); i >= 0 {
		key = key[:i]
	}
	name := path.Base(strings.ReplaceAll(key, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	name = strings.TrimSuffix(name, path.Ext(name))
	name = strings.ReplaceAll(name, "_", " ")
	name = strings.ReplaceAll(name, "-", " ")
	return strings.TrimSpace(name)
}

// MetadataTitle returns a string "title" entry from connector metadata.
func MetadataTitle(meta map[string]any) string {
	if t, ok := meta["title"].(string); ok {
		return strings.TrimSpace(t)
	}
	return ""
}

// CopyMetadata returns a shallow copy of meta, never nil.
func CopyMetadata(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta)+2)
	for k, v := range meta {
		out[k] = v
	}
	return out
}

// NormaliseNewlines converts CRLF and CR line endings to LF and drops a
// leading byte order mark.
func NormaliseNewlines(s string) string {
	s = strings.TrimPrefix(s, "\uFEFF")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
