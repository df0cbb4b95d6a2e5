package connectors

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// Params wraps a source's string parameters with typed accessors.
type Params map[string]string

// String returns the trimmed value or def.
func (p Params) String(key, def string) string {
	if v := strings.TrimSpace(p[key]); v != "" {
		return v
	}
	return def
}

// List splits a comma or newline separated value.
func (p Params) List(key string) []string {
	return SplitList(p[key])
}

// Bool parses a boolean, returning def when unset.
func (p Params) Bool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(p[key])
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: param %s: %q is not a boolean", domain.ErrInvalidInput, key, v)
	}
	return b, nil
}

// Int parses an integer, returning def when unset.
func (p Params) Int(key string, def int) (int, error) {
	v := strings.TrimSpace(p[key])
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: param %s: %q is not an integer", domain.ErrInvalidInput, key, v)
	}
	return n, nil
}

// Float parses a float, returning def when unset.
func (p Params) Float(key string, def float64) (float64, error) {
	v := strings.TrimSpace(p[key])
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: param %s: %q is not a number", domain.ErrInvalidInput, key, v)
	}
	return f, nil
}

// SplitList splits on commas and newlines, dropping blanks.
func SplitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' || r == '\r' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
