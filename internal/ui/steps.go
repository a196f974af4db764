package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// StepStatus represents the outcome of a step
type StepStatus int

const (
	StepComplete StepStatus = iota // Ran and succeeded
	StepFailed                     // The run stopped here
	StepSkipped                    // Not needed on this run
)

// Step is one line of a step list.
type Step struct {
	Name    string
	Status  StepStatus
	Message string // Optional note (e.g., "reused", "3.2 MB")
}

// RenderSteps renders a numbered step list.
func RenderSteps(steps []Step) string {
	lines := make([]string, 0, len(steps))
	for i, s := range steps {
		var marker string
		var style lipgloss.Style
		switch s.Status {
		case StepFailed:
			marker, style = FailureMarker, StepFailedStyle
		case StepSkipped:
			marker, style = StepMarkerSkipped, StepSkippedStyle
		default:
			marker, style = StepMarkerComplete, StepCompleteStyle
		}

		line := style.Render(fmt.Sprintf("  %s %d. %s", marker, i+1, s.Name))
		if s.Message != "" {
			line += " " + StepNoteStyle.Render("("+s.Message+")")
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
