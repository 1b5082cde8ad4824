// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides rich terminal output styling for the Aleutian CLI.
package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text, borders

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box      lipgloss.Style
	ErrorBox lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// Printer writes styled output at one personality level.
//
// # Thread Safety
//
// Not safe for concurrent use; callers serialize writes.
type Printer struct {
	w     io.Writer
	level PersonalityLevel
}

// NewPrinter creates a Printer. An empty level is detected from w.
func NewPrinter(w io.Writer, level PersonalityLevel) *Printer {
	if level == "" {
		level = DetectPersonality(w)
	}
	return &Printer{w: w, level: level}
}

// Level returns the printer's personality level.
func (p *Printer) Level() PersonalityLevel { return p.level }

// Title prints a styled title. Machine output omits it.
func (p *Printer) Title(text string) {
	switch p.level {
	case PersonalityMachine:
		return
	case PersonalityMinimal:
		fmt.Fprintln(p.w, text)
	default:
		fmt.Fprintln(p.w, Styles.Title.Render(text))
	}
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) { p.status(IconSuccess, "OK", Styles.Success, text) }

// Warning prints a warning message
func (p *Printer) Warning(text string) { p.status(IconWarning, "WARN", Styles.Warning, text) }

// Error prints an error message
func (p *Printer) Error(text string) { p.status(IconError, "ERROR", Styles.Error, text) }

// Step prints one progress line, e.g. "→ testing  iteration 1/3".
func (p *Printer) Step(icon Icon, label, detail string) {
	switch p.level {
	case PersonalityMachine:
		if detail == "" {
			fmt.Fprintf(p.w, "STEP: %s\n", label)
		} else {
			fmt.Fprintf(p.w, "STEP: %s %s\n", label, detail)
		}
	case PersonalityMinimal:
		fmt.Fprintf(p.w, "%s %s %s\n", icon, label, detail)
	default:
		fmt.Fprintf(p.w, "%s %s %s\n", icon.Render(), Styles.Highlight.Render(label), Styles.Muted.Render(detail))
	}
}

// Info prints an informational message
func (p *Printer) Info(text string) {
	switch p.level {
	case PersonalityMachine, PersonalityMinimal:
		fmt.Fprintln(p.w, text)
	default:
		fmt.Fprintf(p.w, "%s %s\n", Styles.Muted.Render("│"), text)
	}
}

// Bullet prints an indented list item.
func (p *Printer) Bullet(text string) {
	if p.level == PersonalityMachine {
		fmt.Fprintf(p.w, "- %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "  %s %s\n", IconBullet, text)
}

// Box prints a titled block, such as generated code. Machine output prints
// the body verbatim between BEGIN/END markers.
func (p *Printer) Box(title, body string) {
	switch p.level {
	case PersonalityMachine:
		fmt.Fprintf(p.w, "BEGIN %s\n%s\nEND %s\n", title, strings.TrimRight(body, "\n"), title)
	case PersonalityMinimal:
		fmt.Fprintf(p.w, "--- %s ---\n%s\n", title, strings.TrimRight(body, "\n"))
	default:
		content := Styles.Subtitle.Render(title) + "\n" + strings.TrimRight(body, "\n")
		fmt.Fprintln(p.w, Styles.Box.Render(content))
	}
}

// ErrorBox prints an error block with a hint.
func (p *Printer) ErrorBox(title, message string) {
	if p.level != PersonalityStandard {
		p.Error(title + ": " + message)
		return
	}
	content := Styles.Error.Render(title) + "\n" + message
	fmt.Fprintln(p.w, Styles.ErrorBox.Render(content))
}

func (p *Printer) status(icon Icon, tag string, style lipgloss.Style, text string) {
	switch p.level {
	case PersonalityMachine:
		fmt.Fprintf(p.w, "%s: %s\n", tag, text)
	case PersonalityMinimal:
		fmt.Fprintf(p.w, "%s %s\n", icon, text)
	default:
		fmt.Fprintf(p.w, "%s %s\n", icon.Render(), style.Render(text))
	}
}
