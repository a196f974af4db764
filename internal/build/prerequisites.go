package build

import (
	"os/exec"
)

// PrerequisiteCheck is the result of looking up one external tool.
type PrerequisiteCheck struct {
	// Name is the tool as configured
	Name string
	// Available indicates whether the tool was found
	Available bool
	// Path is the resolved path
	Path string
	// Message is the resolved location, or an install hint when missing
	Message string
}

// PrerequisiteResult contains the results of all prerequisite checks.
type PrerequisiteResult struct {
	Checks       []PrerequisiteCheck
	AllAvailable bool
}

type requiredTool struct {
	name string
	hint string
}

var lookPath = exec.LookPath

// ValidatePrerequisites looks up every tool a build on goos runs.
func ValidatePrerequisites(tools Tools, goos string) *PrerequisiteResult {
	required := []requiredTool{
		{tools.CMake, "Install CMake 3.20 or newer (https://cmake.org/download/)"},
		{tools.Ninja, "Install Ninja (https://ninja-build.org/)"},
	}
	if goos == "darwin" {
		required = append(required, requiredTool{tools.Brew, "Install Homebrew, then: brew install " + tools.LLVMFormula})
	}

	result := &PrerequisiteResult{AllAvailable: true}
	for _, tool := range required {
		check := PrerequisiteCheck{Name: tool.name}
		path, err := lookPath(tool.name)
		if err != nil {
			check.Message = tool.name + " not found in PATH\n" + tool.hint
			result.AllAvailable = false
		} else {
			check.Available = true
			check.Path = path
			check.Message = "Found at " + path
		}
		result.Checks = append(result.Checks, check)
	}

	return result
}
