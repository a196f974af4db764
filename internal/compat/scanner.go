package compat

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/aotkit/blutter/internal/sdk"
)

// ContentProvider gives read-only access to header files by path relative
// to the vm header directory.
type ContentProvider interface {
	ReadFile(rel string) ([]byte, error)
}

// DirProvider reads headers from a directory on disk.
type DirProvider struct {
	Root string
}

// ReadFile implements ContentProvider.
func (p DirProvider) ReadFile(rel string) ([]byte, error) {
	return os.ReadFile(filepath.Join(p.Root, filepath.FromSlash(rel)))
}

// MapProvider serves headers from memory, keyed by relative path.
type MapProvider map[string]string

// ReadFile implements ContentProvider.
func (p MapProvider) ReadFile(rel string) ([]byte, error) {
	content, ok := p[rel]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", rel, os.ErrNotExist)
	}
	return []byte(content), nil
}

// Facts is the ordered set of compatibility facts that hold for one SDK.
type Facts struct {
	names []string
	set   map[string]bool
}

// NewFacts builds a Facts value from names in order. Duplicates are dropped.
func NewFacts(names ...string) Facts {
	f := Facts{set: make(map[string]bool)}
	for _, n := range names {
		f.add(n)
	}
	return f
}

func (f *Facts) add(name string) {
	if f.set == nil {
		f.set = make(map[string]bool)
	}
	if f.set[name] {
		return
	}
	f.set[name] = true
	f.names = append(f.names, name)
}

// Has reports whether the named fact holds.
func (f Facts) Has(name string) bool {
	return f.set[name]
}

// Names returns the true facts in rule order.
func (f Facts) Names() []string {
	out := make([]string, len(f.names))
	copy(out, f.names)
	return out
}

// Scanner evaluates a rule table against a set of headers.
type Scanner struct {
	rules  *RuleSet
	logger *zap.Logger
}

// NewScanner creates a scanner over rules. A nil logger is replaced by a
// no-op logger.
func NewScanner(rules *RuleSet, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{rules: rules, logger: logger}
}

// Rules returns the table the scanner evaluates.
func (s *Scanner) Rules() *RuleSet {
	return s.rules
}

// Scan evaluates every marker rule for version against provider. Each file
// is read at most once. A file that a live rule needs but cannot be read is a
// hard error; it is never treated as "marker absent".
func (s *Scanner) Scan(version sdk.Version, provider ContentProvider) (Facts, error) {
	facts := NewFacts()
	contents := make(map[string][]byte)

	for _, r := range s.rules.Rules {
		if r.IsFlag() {
			continue
		}
		if !r.AppliesTo(version) {
			s.logger.Debug("Rule outside version gate",
				zap.String("fact", r.Fact),
				zap.String("version", version.String()))
			continue
		}
		if r.Requires != "" && !facts.Has(r.Requires) {
			continue
		}

		data, ok := contents[r.File]
		if !ok {
			var err error
			data, err = provider.ReadFile(r.File)
			if err != nil {
				root := ""
				if dp, isDir := provider.(DirProvider); isDir {
					root = dp.Root
				}
				return Facts{}, &ScanError{Root: root, File: r.File, Fact: r.Fact, Err: err}
			}
			contents[r.File] = data
		}

		found := containsMarker(data, r.Marker)
		holds := found == (r.Polarity == Present)
		s.logger.Debug("Evaluated compatibility rule",
			zap.String("fact", r.Fact),
			zap.String("file", r.File),
			zap.Bool("marker_found", found),
			zap.Bool("holds", holds))
		if holds {
			facts.add(r.Fact)
		}
	}

	return facts, nil
}

func containsMarker(data []byte, marker string) bool {
	return len(marker) > 0 && bytes.Contains(data, []byte(marker))
}
