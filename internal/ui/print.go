package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// PrintCommandHeader prints a styled command header
func PrintCommandHeader(title, command string, params ...Param) {
	fmt.Println(NewHeader(title, command, params...).Render())
	fmt.Println()
}

// PrintSuccess prints a styled success result
func PrintSuccess(title string, details ...Param) {
	fmt.Println()
	fmt.Println(NewSuccessResult(title, details...).Render())
}

// PrintFailure prints a styled failure result
func PrintFailure(title string, err error, troubleshooting []string) {
	fmt.Println()
	fmt.Println(NewFailureResult(title, err, troubleshooting).Render())
}

// PrintWarning prints a styled warning result
func PrintWarning(title string, details ...Param) {
	fmt.Println()
	fmt.Println(NewWarningResult(title, details...).Render())
}

// PrintSteps prints a step list
func PrintSteps(steps []Step) {
	fmt.Println(RenderSteps(steps))
}

// PrintPleaseWait prints a styled "please wait" message for long-running operations.
// The message parameter should describe what's happening, e.g., "Building Dart VM 3.4.2".
// The duration hint helps set user expectations, e.g., "up to 30 minutes".
func PrintPleaseWait(message string, durationHint string) {
	style := lipgloss.NewStyle().
		Foreground(PrimaryColor).
		Bold(true).
		PaddingLeft(2)

	hintStyle := lipgloss.NewStyle().
		Foreground(MutedColor).
		Italic(true)

	line := style.Render("⏳ " + message)
	if durationHint != "" {
		line += " " + hintStyle.Render("("+durationHint+")")
	}
	fmt.Println(line)
}
