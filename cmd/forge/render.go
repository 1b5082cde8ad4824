// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianForge/pkg/ux"
	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
)

// stepRenderer prints one line per workflow transition. It is used as a
// workflow observer and runs on the workflow's goroutine.
type stepRenderer struct {
	p    *ux.Printer
	last datatypes.WorkflowStep
}

func newStepRenderer(p *ux.Printer) *stepRenderer {
	return &stepRenderer{p: p, last: datatypes.StepIdle}
}

func (r *stepRenderer) observe(s datatypes.WorkflowState) {
	if s.Step == r.last {
		return
	}
	r.last = s.Step

	switch s.Step {
	case datatypes.StepGenerating:
		r.p.Step(ux.IconArrow, "generating", string(s.Language))
	case datatypes.StepGenerated:
		r.p.Step(ux.IconSuccess, "generated", fmt.Sprintf("%d lines", lineCount(s.Code)))
	case datatypes.StepTesting:
		r.p.Step(ux.IconArrow, "testing", iterationDetail(s))
	case datatypes.StepTested:
		r.p.Step(testIcon(s.TestResult), "tested", testSummary(s.TestResult))
	case datatypes.StepFixing:
		r.p.Step(ux.IconArrow, "fixing", fmt.Sprintf("iteration %d/%d", s.Iteration, s.MaxIterations))
	case datatypes.StepFixed:
		r.p.Step(ux.IconSuccess, "fixed", fixDetail(s.FixHistory))
	case datatypes.StepComplete:
		r.p.Success("All tests passed")
	case datatypes.StepError:
		r.p.Step(ux.IconError, "error", s.LastError)
	}
}

// renderResult prints the final code and, when present, the test report.
func renderResult(p *ux.Printer, s datatypes.WorkflowState) {
	if s.Code != "" {
		p.Box("code", s.Code)
	}
	if s.Explanation != "" {
		p.Info(s.Explanation)
	}
	if s.TestResult != nil {
		for _, tc := range s.TestResult.Tests {
			line := fmt.Sprintf("%s %s", tc.Status, tc.Name)
			if tc.Message != "" {
				line += ": " + tc.Message
			}
			p.Bullet(line)
		}
	}
	if n := len(s.FixHistory); n > 0 {
		p.Info(fmt.Sprintf("%d fix(es) applied", n))
	}
}

func iterationDetail(s datatypes.WorkflowState) string {
	if s.Iteration == 0 {
		return ""
	}
	return fmt.Sprintf("iteration %d/%d", s.Iteration, s.MaxIterations)
}

func testIcon(r *datatypes.TestResult) ux.Icon {
	if r != nil && r.Success {
		return ux.IconSuccess
	}
	return ux.IconWarning
}

func testSummary(r *datatypes.TestResult) string {
	if r == nil {
		return ""
	}
	passed := 0
	for _, tc := range r.Tests {
		if tc.Status == datatypes.TestPass {
			passed++
		}
	}
	return fmt.Sprintf("%d/%d passed", passed, len(r.Tests))
}

func fixDetail(history []datatypes.FixResult) string {
	if len(history) == 0 {
		return ""
	}
	last := history[len(history)-1]
	if last.Stats == nil {
		return ""
	}
	return fmt.Sprintf("+%d -%d", last.Stats.LinesAdded, last.Stats.LinesRemoved)
}

func lineCount(code string) int {
	code = strings.TrimRight(code, "\n")
	if code == "" {
		return 0
	}
	return strings.Count(code, "\n") + 1
}
