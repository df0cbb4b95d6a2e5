package fetch

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// extensionTypes covers extensions the system MIME table often lacks.
var extensionTypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".csv":      "text/csv",
	".tsv":      "text/tab-separated-values",
	".xlsx":     "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".docx":     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".eml":      "message/rfc822",
	".pdf":      "application/pdf",
	".html":     "text/html",
	".htm":      "text/html",
	".txt":      "text/plain",
	".json":     "application/json",
	".go":       "text/x-go",
	".py":       "text/x-python",
	".yaml":     "text/yaml",
	".yml":      "text/yaml",
	".toml":     "text/toml",
}

// ContentType resolves an item's MIME type: a declared type wins unless
// it is generic, then the file extension, then content sniffing.
func ContentType(declared, name string, content []byte) string {
	if declared != "" {
		mt, _, err := mime.ParseMediaType(declared)
		if err == nil && mt != "application/octet-stream" && mt != "binary/octet-stream" {
			return mt
		}
	}
	ext := strings.ToLower(filepath.Ext(stripQuery(name)))
	if ct, ok := extensionTypes[ext]; ok {
		return ct
	}
	if ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			if mt, _, err := mime.ParseMediaType(ct); err == nil {
				return mt
			}
		}
	}
	mt := mimetype.Detect(content).String()
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		return parsed
	}
	return mt
}

func stripQuery(name string) string {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		return name[:i]
	}
	return name
}
