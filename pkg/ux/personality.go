// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// PersonalityLevel defines the richness of CLI output
type PersonalityLevel string

const (
	// PersonalityStandard enables colors, icons, and boxes
	PersonalityStandard PersonalityLevel = "standard"

	// PersonalityMinimal uses icons without colors or boxes
	PersonalityMinimal PersonalityLevel = "minimal"

	// PersonalityMachine outputs plain "KEY: value" lines for scripting
	PersonalityMachine PersonalityLevel = "machine"
)

// ParsePersonalityLevel converts a string to PersonalityLevel
func ParsePersonalityLevel(s string) PersonalityLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard", "std", "s", "full":
		return PersonalityStandard
	case "minimal", "min", "m":
		return PersonalityMinimal
	case "machine", "quiet", "q":
		return PersonalityMachine
	default:
		return PersonalityStandard
	}
}

// DetectPersonality picks a level for w. ALEUTIAN_PERSONALITY wins; otherwise
// terminals get standard output and everything else machine output.
func DetectPersonality(w io.Writer) PersonalityLevel {
	if env := os.Getenv("ALEUTIAN_PERSONALITY"); env != "" {
		return ParsePersonalityLevel(env)
	}
	if IsTerminal(w) {
		return PersonalityStandard
	}
	return PersonalityMachine
}

// IsTerminal reports whether w is a terminal, including Cygwin/MSYS ptys.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
