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
	"strings"
)

// Sampling temperatures per operation.
const (
	generateTemperature float32 = 0.3
	testTemperature     float32 = 0.2
	fixTemperature      float32 = 0.2
)

const generateSystemPrompt = `You are an expert API developer. Generate clean, production-ready API code.
Rules:
- Write complete, runnable code with proper error handling
- Include input validation
- Add appropriate comments
- Follow best practices for the chosen language/framework
- Include proper type definitions
- Code should be a complete, self-contained API endpoint or module

Output ONLY valid JSON with two fields:
- "code": the complete source code as a string
- "explanation": a brief explanation of the generated code`

const testSystemPrompt = `You are an expert software tester. Analyze the given API code and generate comprehensive test results.

You should simulate running tests against the code and provide realistic test results.

Output ONLY valid JSON with the following structure:
{
  "success": boolean,
  "tests": [
    {
      "name": "test name",
      "status": "pass" | "fail",
      "message": "description of what was tested or what failed",
      "duration": number (milliseconds)
    }
  ],
  "summary": "overall test summary",
  "errors": ["list of any errors found in the code"]
}

Be thorough: check for:
- Input validation
- Error handling
- Edge cases
- Security issues (SQL injection, XSS, etc.)
- Performance concerns
- Type safety
- Missing null checks
- API response format consistency`

const fixSystemPrompt = `You are an expert debugger and code fixer. Fix the issues found in the code.

Rules:
- Fix ALL reported errors and failing tests
- Maintain existing functionality
- Improve code quality where possible
- Don't introduce new issues

Output ONLY valid JSON with:
- "code": the complete fixed source code
- "changes": array of strings describing each change made
- "explanation": brief explanation of what was fixed and why`

// buildGeneratePrompt embeds the requirement verbatim. The framework line is
// omitted when empty.
func buildGeneratePrompt(requirement, language, framework string) string {
	var b strings.Builder
	b.WriteString("Generate API code for the following requirement:\n\n")
	fmt.Fprintf(&b, "Requirement: %s\n", requirement)
	fmt.Fprintf(&b, "Language: %s", language)
	if framework != "" {
		fmt.Fprintf(&b, "\nFramework: %s", framework)
	}
	b.WriteString("\n\nPlease generate production-ready code.")
	return b.String()
}

func buildTestPrompt(code, language, requirement string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze and test the following %s API code:\n\n", language)
	fmt.Fprintf(&b, "Original requirement: %s\n\n", requirement)
	b.WriteString("Code:\n")
	writeFence(&b, language, code)
	b.WriteString("\n\nSimulate comprehensive testing and return results.")
	return b.String()
}

func buildFixPrompt(code, language string, errs []string, testResults string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Fix the following %s code based on test failures:\n\n", language)
	b.WriteString("Current code:\n")
	writeFence(&b, language, code)
	b.WriteString("\n\nErrors found:\n")
	for i, e := range errs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s", e)
	}
	fmt.Fprintf(&b, "\n\nTest results:\n%s\n\n", testResults)
	b.WriteString("Please fix all issues and return the corrected code.")
	return b.String()
}

func writeFence(b *strings.Builder, language, code string) {
	fmt.Fprintf(b, "```%s\n%s\n```", language, code)
}
