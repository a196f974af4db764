package input

import (
	"fmt"
	"strings"
)

// NotFoundError reports that none of the candidate names for a required
// image exist in the input.
type NotFoundError struct {
	// Input is the directory or archive that was searched
	Input string
	// Image names the missing image, e.g. "app snapshot"
	Image string
	// Candidates are the names that were tried, in order
	Candidates []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found in %s (looked for %s)",
		e.Image, e.Input, strings.Join(e.Candidates, ", "))
}

// UnsupportedError reports an input path that is neither a directory nor a
// recognised archive.
type UnsupportedError struct {
	Path string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported input %s: expected a directory, .apk or .ipa", e.Path)
}
