// Package util provides shared utility functions used across the codebase.
package util

import "strings"

// SplitCSV splits a comma-separated string into a slice, trimming whitespace.
// Returns nil for empty strings.
func SplitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}

// SplitQualified splits "schema.table" into its parts. An unqualified name
// gets defaultSchema. Bracket or double-quote delimiters around either part
// are removed.
func SplitQualified(name, defaultSchema string) (schema, table string) {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, "."); i > 0 && i < len(name)-1 {
		return unquote(name[:i]), unquote(name[i+1:])
	}
	return defaultSchema, unquote(name)
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		switch {
		case s[0] == '[' && s[len(s)-1] == ']':
			return s[1 : len(s)-1]
		case s[0] == '"' && s[len(s)-1] == '"':
			return s[1 : len(s)-1]
		case s[0] == '`' && s[len(s)-1] == '`':
			return s[1 : len(s)-1]
		}
	}
	return s
}
