// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package parser recovers JSON objects from free-form model output.
//
// # Description
//
// Models asked for JSON frequently wrap it in markdown fences or emit
// regex-style escapes such as \d inside strings. Parse tries, in order:
//
//  1. the raw text as a JSON object
//  2. the contents of the first ``` or ```json fenced block
//  3. the candidate from step 2 (or the raw text) with invalid escapes doubled
//
// and returns an empty map when all three fail. It never returns an error.
//
// # Thread Safety
//
// All functions are pure and safe for concurrent use.
package parser

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// fencePattern matches the first fenced block, optionally tagged json.
var fencePattern = regexp.MustCompile("```(?:json)?\\s*\\n?([\\s\\S]*?)\\n?\\s*```")

// Parse extracts a JSON object from raw.
//
// # Inputs
//
//   - raw: Model output that should contain a JSON object.
//
// # Outputs
//
//   - map[string]any: The decoded object, or an empty non-nil map.
//
// # Examples
//
//	Parse(`{"a":1}`)                         // {"a": 1}
//	Parse("Here:\n```json\n{\"a\":1}\n```")  // {"a": 1}
//	Parse(`{"re":"\d+"}`)                    // {"re": `\d+`}
//	Parse("nope")                            // {}
func Parse(raw string) map[string]any {
	if obj, ok := decodeObject(raw); ok {
		return obj
	}

	candidate := raw
	if block, ok := ExtractFencedBlock(raw); ok {
		if obj, ok := decodeObject(block); ok {
			return obj
		}
		candidate = block
	}

	if repaired := RepairEscapes(candidate); repaired != candidate {
		if obj, ok := decodeObject(repaired); ok {
			return obj
		}
	}

	slog.Warn("Could not parse model output as JSON", "length", len(raw))
	return map[string]any{}
}

// ExtractFencedBlock returns the inner content of the first fenced code block.
func ExtractFencedBlock(raw string) (string, bool) {
	m := fencePattern.FindStringSubmatch(raw)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// RepairEscapes doubles every backslash that does not start a valid JSON
// escape. Valid pairs, including an escaped backslash, are copied unchanged.
//
// # Examples
//
//	RepairEscapes(`"\d+"`)    // `"\\d+"`
//	RepairEscapes(`"a\nb"`)   // unchanged
//	RepairEscapes(`"\\d"`)    // unchanged
//	RepairEscapes(`"\user"`)  // `"\\user"`
func RepairEscapes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 < len(s) && validEscapeAt(s, i+1) {
			b.WriteByte(c)
			b.WriteByte(s[i+1])
			i++
			continue
		}
		b.WriteString(`\\`)
	}
	return b.String()
}

// validEscapeAt reports whether s[i] completes a legal JSON escape.
func validEscapeAt(s string, i int) bool {
	switch s[i] {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
		return true
	case 'u':
		if i+5 > len(s) {
			return false
		}
		for _, h := range s[i+1 : i+5] {
			if !isHex(h) {
				return false
			}
		}
		return true
	}
	return false
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

func decodeObject(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// =============================================================================
// Field Accessors
// =============================================================================

// String returns m[key] when it is a non-empty string, otherwise def.
func String(m map[string]any, key, def string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return def
}

// StringSlice returns m[key] as a string slice. Non-string elements are
// formatted with fmt. def is returned when the key is missing or not an array.
func StringSlice(m map[string]any, key string, def []string) []string {
	items, ok := m[key].([]any)
	if !ok {
		return def
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case nil:
		default:
			out = append(out, fmt.Sprint(v))
		}
	}
	return out
}

// Slice returns m[key] when it is an array, otherwise nil.
func Slice(m map[string]any, key string) []any {
	items, _ := m[key].([]any)
	return items
}

// Object returns v as a JSON object when it is one.
func Object(v any) (map[string]any, bool) {
	obj, ok := v.(map[string]any)
	return obj, ok
}

// Float returns m[key] when it is a number.
func Float(m map[string]any, key string) (float64, bool) {
	f, ok := m[key].(float64)
	return f, ok
}
