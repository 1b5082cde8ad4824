// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePersonalityLevel(t *testing.T) {
	assert.Equal(t, PersonalityMachine, ParsePersonalityLevel("quiet"))
	assert.Equal(t, PersonalityMinimal, ParsePersonalityLevel("MIN"))
	assert.Equal(t, PersonalityStandard, ParsePersonalityLevel("full"))
	assert.Equal(t, PersonalityStandard, ParsePersonalityLevel("unknown"))
}

func TestDetectPersonality(t *testing.T) {
	t.Setenv("ALEUTIAN_PERSONALITY", "")
	var buf bytes.Buffer
	assert.Equal(t, PersonalityMachine, DetectPersonality(&buf), "buffers are never terminals")

	t.Setenv("ALEUTIAN_PERSONALITY", "minimal")
	assert.Equal(t, PersonalityMinimal, DetectPersonality(&buf))
}

func TestIsTerminal_NonFile(t *testing.T) {
	assert.False(t, IsTerminal(&bytes.Buffer{}))

	f, err := os.CreateTemp(t.TempDir(), "out")
	assert.NoError(t, err)
	defer f.Close()
	assert.False(t, IsTerminal(f))
}

func TestPrinter_Machine(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, PersonalityMachine)

	p.Title("Forge")
	p.Step(IconArrow, "testing", "iteration 1/3")
	p.Success("all tests passed")
	p.Error("boom")
	p.Bullet("fix one")
	p.Box("code", "package main\n")

	assert.Equal(t, "STEP: testing iteration 1/3\n"+
		"OK: all tests passed\n"+
		"ERROR: boom\n"+
		"- fix one\n"+
		"BEGIN code\npackage main\nEND code\n", buf.String())
}

func TestPrinter_Minimal(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, PersonalityMinimal)

	p.Warning("careful")
	p.ErrorBox("Run failed", "no key")

	assert.Equal(t, "⚠ careful\n✗ Run failed: no key\n", buf.String())
}

func TestPrinter_StandardContainsText(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, PersonalityStandard)

	p.Box("Generated code", "fmt.Println(1)")
	p.Step(IconSuccess, "complete", "")

	assert.Contains(t, buf.String(), "Generated code")
	assert.Contains(t, buf.String(), "fmt.Println(1)")
	assert.Contains(t, buf.String(), "complete")
	assert.Equal(t, PersonalityStandard, p.Level())
}
