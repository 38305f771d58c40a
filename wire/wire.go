// Package wire parses and renders the plain-text formats spoken by the
// shared store: key=value presence lines, node-text scenario fragments,
// delimited listings and rows. The store is schema-less, so every parser
// here is tolerant: malformed records are dropped and counted, never
// fatal.
package wire

import "strings"

// Lines splits raw store output into trimmed, non-empty lines.
func Lines(data []byte) []string {
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// ParseKV parses one "key=value,key=value" line into a field map.
// Malformed pairs are skipped and counted; the rest of the line is still
// used. Later duplicates of a key win.
func ParseKV(line string) (map[string]string, int) {
	fields := make(map[string]string)
	var skipped int
	for _, part := range strings.Split(line, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			skipped++
			continue
		}
		fields[key] = strings.TrimSpace(value)
	}
	return fields, skipped
}

// SplitFields splits a delimited row and reports whether it carries at
// least min fields. Fields are whitespace-trimmed.
func SplitFields(line string, sep byte, min int) ([]string, bool) {
	parts := strings.Split(line, string(sep))
	if len(parts) < min {
		return nil, false
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts, true
}
