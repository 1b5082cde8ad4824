// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import (
	"strings"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// diffStats counts whole lines added and removed between before and after.
func diffStats(before, after string) datatypes.DiffStats {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var stats datatypes.DiffStats
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			stats.LinesAdded += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			stats.LinesRemoved += countLines(d.Text)
		}
	}
	return stats
}

// countLines counts a trailing partial line as a line.
func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
