package sdk

import (
	"path/filepath"
)

// Layout is the on-disk workspace shared by every run on a machine:
//
//	<root>/blutter              analyzer C++ sources (CMake project)
//	<root>/scripts/dartvm       Dart VM static library CMake project
//	<root>/bin                  installed analyzer executables (the cache)
//	<root>/build/<identity>     per-configuration build trees
//	<root>/packages/include     Dart VM headers, one dir per version
//	<root>/packages/lib         Dart VM static libraries
//	<root>/dartsdk/v<version>   fetched Dart SDK sources (disposable)
type Layout struct {
	Root string
}

// SourceDir returns the analyzer CMake project directory.
func (l Layout) SourceDir() string { return filepath.Join(l.Root, "blutter") }

// VMProjectDir returns the CMake project that compiles the Dart VM library.
func (l Layout) VMProjectDir() string { return filepath.Join(l.Root, "scripts", "dartvm") }

// BinDir returns the directory analyzer executables are installed into.
func (l Layout) BinDir() string { return filepath.Join(l.Root, "bin") }

// BuildDir returns the root of the per-configuration build trees.
func (l Layout) BuildDir() string { return filepath.Join(l.Root, "build") }

// PackagesInclude returns the root of the installed Dart VM headers.
func (l Layout) PackagesInclude() string { return filepath.Join(l.Root, "packages", "include") }

// PackagesLib returns the directory holding compiled Dart VM libraries.
func (l Layout) PackagesLib() string { return filepath.Join(l.Root, "packages", "lib") }

// SDKSourceDir returns where the Dart SDK sources for d are checked out.
func (l Layout) SDKSourceDir(d Descriptor) string {
	return filepath.Join(l.Root, "dartsdk", "v"+d.Version.String())
}

// IncludeDir returns the installed header root for d's version.
func (l Layout) IncludeDir(d Descriptor) string {
	return filepath.Join(l.PackagesInclude(), "dartvm"+d.Version.String())
}

// VMHeaderDir returns the "vm" header directory the compatibility scan reads.
func (l Layout) VMHeaderDir(d Descriptor) string {
	return filepath.Join(l.IncludeDir(d), "vm")
}

// StaticLibPath returns the compiled static library path for d on goos.
func (l Layout) StaticLibPath(d Descriptor, goos string) string {
	return filepath.Join(l.PackagesLib(), StaticLibFileName(d, goos))
}

// StaticLibFileName returns the platform file name of d's static library.
func StaticLibFileName(d Descriptor, goos string) string {
	if goos == "windows" {
		return d.LibName() + ".lib"
	}
	return "lib" + d.LibName() + ".a"
}
