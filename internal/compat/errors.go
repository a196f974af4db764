package compat

import (
	"fmt"
)

// ScanError reports a header the compatibility scan needed but could not
// read. It means the installed Dart VM headers are incomplete or belong to an
// SDK layout this table does not know.
type ScanError struct {
	// Root is the header directory that was scanned
	Root string
	// File is the header path relative to Root
	File string
	// Fact is the fact whose rule needed the file
	Fact string
	// Underlying error
	Err error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("compatibility scan failed: cannot read %s (needed for %s) under %s: %v\n"+
		"Hint: the Dart VM headers are incomplete or this SDK revision is not supported. "+
		"Delete packages/include/<dartvm version> and rerun with --rebuild.",
		e.File, e.Fact, e.Root, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}
