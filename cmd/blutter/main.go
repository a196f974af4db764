// Blutter reverse engineers Flutter applications compiled ahead of time.
//
// It identifies the Dart SDK an application was built with, builds (or
// reuses) an analyzer linked against that exact Dart VM revision, and runs
// it over the application's snapshot.
//
// Usage:
//
//	blutter <indir|apk|ipa> <outdir> [flags]
//
// See 'blutter --help' for available flags.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aotkit/blutter/internal/logging"
	"github.com/aotkit/blutter/internal/version"
)

func main() {
	err := rootCmd.Execute()
	logging.Sync()
	if err == nil {
		return
	}

	var exit *exitError
	if errors.As(err, &exit) {
		os.Exit(exit.code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// exitError is a failure that was already reported to the user.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

var rootCmd = &cobra.Command{
	Use:   "blutter <indir|apk|ipa> <outdir>",
	Short: "Flutter AOT snapshot analyzer",
	Long: `Blutter analyzes the Dart AOT snapshot of a release Flutter application.

The input is a directory holding libapp.so and libflutter.so (or App and
Flutter for iOS), an .apk, or an .ipa. Blutter detects the Dart SDK version,
builds an analyzer for it on first use, then writes its results to outdir.

Building needs cmake and ninja (and Homebrew LLVM on macOS). Run
'blutter doctor' to check them.`,
	Version: version.Version,
	Args:    cobra.ExactArgs(2),
	Example: `  # Analyze an extracted arm64-v8a directory
  blutter lib/arm64-v8a out

  # Analyze an APK directly
  blutter app-release.apk out

  # Skip detection and analyze a bare snapshot image
  blutter libapp.so out --dart-version 3.4.2_android_arm64

  # Generate a Visual Studio solution for debugging the analyzer
  blutter app-release.apk out --vs-sln`,
	RunE: runBlutter,
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(configCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("blutter %s\n", version.Full())
	},
}
