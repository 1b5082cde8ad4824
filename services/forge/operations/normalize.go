// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package operations

import (
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/parser"
)

// NormalizeTestReport converts raw model test output into a TestResult.
//
// # Description
//
// This is the trust boundary for simulated test reports. Every field gets a
// default, unknown statuses become pending, negative durations are dropped,
// and Success is recomputed with datatypes.DeriveSuccess. A "success" field
// in raw is ignored.
//
// # Inputs
//
//   - raw: The model's reply, possibly fenced or malformed.
//
// # Outputs
//
//   - datatypes.TestResult: Always populated; Tests and Errors are non-nil.
//
// # Examples
//
//	NormalizeTestReport(`{"success":true,"tests":[],"errors":[]}`).Success // false
func NormalizeTestReport(raw string) datatypes.TestResult {
	parsed := parser.Parse(raw)

	items := parser.Slice(parsed, "tests")
	tests := make([]datatypes.TestCase, 0, len(items))
	for i, item := range items {
		obj, ok := parser.Object(item)
		if !ok {
			continue
		}
		tc := datatypes.TestCase{
			Name:    parser.String(obj, "name", fmt.Sprintf("test %d", i+1)),
			Status:  datatypes.NormalizeTestStatus(parser.String(obj, "status", "")),
			Message: parser.String(obj, "message", ""),
		}
		if d, ok := parser.Float(obj, "duration"); ok && d >= 0 {
			tc.Duration = &d
		}
		tests = append(tests, tc)
	}

	errs := parser.StringSlice(parsed, "errors", nil)
	if errs == nil {
		errs = []string{}
	}

	result := datatypes.TestResult{
		Success: datatypes.DeriveSuccess(tests, errs),
		Tests:   tests,
		Summary: parser.String(parsed, "summary", DefaultTestSummary),
		Errors:  errs,
	}

	if claimed, ok := parsed["success"].(bool); ok && claimed != result.Success {
		slog.Warn("Overriding model-reported test success",
			"claimed", claimed,
			"derived", result.Success,
			"tests", len(tests),
			"errors", len(errs),
		)
	}
	return result
}
