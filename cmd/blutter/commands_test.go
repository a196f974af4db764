package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/aotkit/blutter/internal/cache"
	"github.com/aotkit/blutter/internal/fingerprint"
	"github.com/aotkit/blutter/internal/input"
	"github.com/aotkit/blutter/internal/pipeline"
	"github.com/aotkit/blutter/internal/ui"
)

func TestReportSteps(t *testing.T) {
	report := &pipeline.Report{
		States: []pipeline.State{
			pipeline.StateResolveInputs,
			pipeline.StateProbeMetadata,
			pipeline.StateDeriveConfig,
			pipeline.StateDecideCache,
			pipeline.StateExecute,
			pipeline.StateFailed,
		},
		Decision: cache.Reuse,
	}

	want := []ui.Step{
		{Name: "Resolve inputs", Status: ui.StepComplete},
		{Name: "Detect Dart version", Status: ui.StepComplete},
		{Name: "Derive build configuration", Status: ui.StepComplete},
		{Name: "Check installed analyzer", Status: ui.StepComplete, Message: "reuse"},
		{Name: "Build analyzer", Status: ui.StepSkipped, Message: "installed"},
		{Name: "Run analyzer", Status: ui.StepFailed},
	}
	if diff := cmp.Diff(want, reportSteps(report)); diff != "" {
		t.Errorf("steps mismatch (-want +got):\n%s", diff)
	}

	// A solution run builds even when the analyzer is installed.
	solution := &pipeline.Report{
		States: []pipeline.State{
			pipeline.StateResolveInputs,
			pipeline.StateDeriveConfig,
			pipeline.StateDecideCache,
			pipeline.StateBuild,
			pipeline.StateDone,
		},
		Decision: cache.Reuse,
	}
	want = []ui.Step{
		{Name: "Resolve inputs", Status: ui.StepComplete},
		{Name: "Derive build configuration", Status: ui.StepComplete},
		{Name: "Check installed analyzer", Status: ui.StepComplete, Message: "reuse"},
		{Name: "Build analyzer", Status: ui.StepComplete},
	}
	if diff := cmp.Diff(want, reportSteps(solution)); diff != "" {
		t.Errorf("solution steps mismatch (-want +got):\n%s", diff)
	}

	if steps := reportSteps(nil); steps != nil {
		t.Errorf("reportSteps(nil) = %v", steps)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"analyzer exit code", &pipeline.StateError{State: pipeline.StateExecute, Err: &pipeline.ExecutionError{ExitCode: 3}}, 3},
		{"analyzer did not start", &pipeline.ExecutionError{ExitCode: -1}, 1},
		{"other failure", errors.New("boom"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTroubleshooting(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "missing image",
			err: &pipeline.StateError{State: pipeline.StateResolveInputs, Err: &input.NotFoundError{
				Input: "app.apk", Image: input.ImageApp, Candidates: []string{"lib/arm64-v8a/libapp.so"},
			}},
			want: "lib/arm64-v8a/libapp.so",
		},
		{
			name: "legacy rejected",
			err:  fmt.Errorf("derive: %w", &fingerprint.LegacyVersionError{}),
			want: "--no-analysis",
		},
		{
			name: "interrupted",
			err:  &pipeline.StateError{State: pipeline.StateBuild, Err: context.Canceled},
			want: "interrupted",
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: "--log-level debug",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hints := troubleshooting(tt.err)
			if !strings.Contains(strings.Join(hints, "\n"), tt.want) {
				t.Errorf("hints %v should mention %q", hints, tt.want)
			}
		})
	}
}

func TestFailureTitle(t *testing.T) {
	err := &pipeline.StateError{State: pipeline.StateBuild, Err: errors.New("boom")}
	if got := failureTitle(err); got != "Build analyzer failed" {
		t.Errorf("failureTitle() = %q", got)
	}
	if got := failureTitle(errors.New("boom")); got != "Blutter failed" {
		t.Errorf("failureTitle() = %q", got)
	}
}
