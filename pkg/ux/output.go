// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the StepChain CLI.
//
// Output has two modes. Styled mode renders with the glacier palette when
// stdout is a terminal. Plain mode emits unstyled prefixed lines for pipes,
// CI, and anyone who sets NO_COLOR or STEPCHAIN_PLAIN.
package ux

import (
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// StepChain color palette - glacier blues over basalt
var (
	ColorIceBright   = lipgloss.Color("#9BE8FF") // Bright ice - highlights
	ColorGlacier     = lipgloss.Color("#53C7E8") // Glacier blue - main brand color
	ColorFjord       = lipgloss.Color("#2E96C8") // Fjord blue - interactive elements
	ColorDeepCurrent = lipgloss.Color("#1F6E9C") // Deep current - borders, accents
	ColorBasalt      = lipgloss.Color("#44525E") // Basalt - muted text

	ColorSuccess = lipgloss.Color("#6FE3B2") // Sea green for success
	ColorWarning = lipgloss.Color("#F2C14E") // Amber for warnings
	ColorError   = lipgloss.Color("#ED6A5A") // Coral red for errors
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Box       lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorIceBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorGlacier),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorBasalt),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorGlacier).Bold(true),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorDeepCurrent).
		Padding(0, 1),
}

var (
	plainMu  sync.RWMutex
	plainSet bool
	plain    bool
)

// SetPlain forces plain or styled output regardless of the terminal.
func SetPlain(p bool) {
	plainMu.Lock()
	defer plainMu.Unlock()
	plainSet = true
	plain = p
}

// Plain reports whether output should skip styling. Unless overridden via
// SetPlain, styling is on only when stdout is a terminal and neither
// NO_COLOR nor STEPCHAIN_PLAIN is set.
func Plain() bool {
	plainMu.RLock()
	if plainSet {
		defer plainMu.RUnlock()
		return plain
	}
	plainMu.RUnlock()

	if os.Getenv("NO_COLOR") != "" || os.Getenv("STEPCHAIN_PLAIN") != "" {
		return true
	}
	fd := os.Stdout.Fd()
	return !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
}

// Title prints a styled title line.
func Title(text string) {
	if Plain() {
		fmt.Println(text)
		return
	}
	fmt.Println(Styles.Title.Render(text))
}

// Success prints a success message with a checkmark.
func Success(text string) {
	if Plain() {
		fmt.Printf("OK: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", Styles.Success.Render("✓"), Styles.Success.Render(text))
}

// Warning prints a warning message.
func Warning(text string) {
	if Plain() {
		fmt.Fprintf(os.Stderr, "WARN: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", Styles.Warning.Render("⚠"), Styles.Warning.Render(text))
}

// Error prints an error message.
func Error(text string) {
	if Plain() {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", Styles.Error.Render("✗"), Styles.Error.Render(text))
}

// Info prints an informational message.
func Info(text string) {
	if Plain() {
		fmt.Println(text)
		return
	}
	fmt.Printf("%s %s\n", Styles.Muted.Render("│"), text)
}

// Muted prints secondary text.
func Muted(text string) {
	if Plain() {
		fmt.Println(text)
		return
	}
	fmt.Println(Styles.Muted.Render(text))
}

// KeyValue prints an aligned key/value line.
func KeyValue(key, value string) {
	if Plain() {
		fmt.Printf("%s\t%s\n", key, value)
		return
	}
	fmt.Printf("%s %s\n", Styles.Subtitle.Render(key+":"), value)
}

// StepLine prints one executed step with its quality score. Failed steps
// render with the error style so degraded runs stand out in the transcript.
func StepLine(index int, name, status string, quality float64) {
	if Plain() {
		fmt.Printf("step %d\t%s\t%s\t%.3f\n", index, name, status, quality)
		return
	}
	marker := Styles.Success.Render("✓")
	if status == "failed" {
		marker = Styles.Error.Render("✗")
	}
	fmt.Printf("%s %s %s %s\n",
		marker,
		Styles.Bold.Render(fmt.Sprintf("step %d", index)),
		name,
		Styles.Muted.Render(fmt.Sprintf("(quality %.3f)", quality)),
	)
}

// Box prints content in a rounded box with a title, or as a plain prefixed
// line when styling is off.
func Box(title, content string) {
	if Plain() {
		fmt.Printf("%s: %s\n", title, content)
		return
	}
	boxStyle := Styles.Box.Width(72)
	fmt.Println(boxStyle.Render(Styles.Title.Render(title) + "\n" + content))
}
