// Package pipeline runs blutter end to end: resolve the inputs, identify the
// Dart SDK, pick or build the matching analyzer, then run it.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/aotkit/blutter/internal/build"
	"github.com/aotkit/blutter/internal/cache"
	"github.com/aotkit/blutter/internal/compat"
	"github.com/aotkit/blutter/internal/fingerprint"
	"github.com/aotkit/blutter/internal/input"
	"github.com/aotkit/blutter/internal/probe"
	"github.com/aotkit/blutter/internal/sdk"
)

// Resolver locates the input images.
type Resolver interface {
	Resolve(path string) (*input.Inputs, error)
	ResolveBare(path string) (*input.Inputs, error)
}

// Builder produces analyzer executables.
type Builder interface {
	Build(ctx context.Context, req build.Request) (*build.Result, error)
	VerifyArtifact(id fingerprint.Identity) (*build.Result, error)
	GenerateSolution(ctx context.Context, req build.SolutionRequest) error
}

// Request is one blutter run.
type Request struct {
	// Input is a directory, .apk or .ipa; in bare mode the snapshot image.
	Input  string
	OutDir string
	// Bare, when set, supplies the SDK descriptor and skips the probe.
	Bare     *sdk.Descriptor
	Flags    fingerprint.Flags
	Force    bool
	Solution bool
	Policy   fingerprint.Policy
}

// Report describes what a run did.
type Report struct {
	States       []State
	Info         *probe.Info
	Descriptor   sdk.Descriptor
	Identity     fingerprint.Identity
	Decision     cache.Decision
	ArtifactPath string
	Macros       []string
	Notices      []fingerprint.Notice
	Built        bool
	Build        *build.Result
}

// Pipeline wires the run's collaborators.
type Pipeline struct {
	Resolver Resolver
	Probe    probe.Probe
	Cache    *cache.Cache
	Fetcher  cache.Fetcher
	Scanner  *compat.Scanner
	Builder  Builder
	Executor Executor
	// Notify is called for every diagnostic notice. May be nil.
	Notify func(fingerprint.Notice)
	Logger *zap.Logger
}

type run struct {
	p      *Pipeline
	req    Request
	report *Report
	state  State
	logger *zap.Logger
}

// Run executes req. On failure the returned error is a *StateError and the
// report holds the states visited so far.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Report, error) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &run{
		p:      p,
		req:    req,
		report: &Report{},
		state:  StateResolveInputs,
		logger: logger,
	}
	r.report.States = append(r.report.States, StateResolveInputs)

	if err := r.execute(ctx); err != nil {
		failedIn := r.state
		r.report.States = append(r.report.States, StateFailed)
		r.logger.Error("Run failed",
			zap.String("state", string(failedIn)),
			zap.Error(err))
		return r.report, &StateError{State: failedIn, Err: err}
	}
	return r.report, nil
}

func (r *run) enter(to State) error {
	if err := Transition(r.state, to); err != nil {
		return err
	}
	r.logger.Debug("State transition",
		zap.String("from", string(r.state)),
		zap.String("state", string(to)))
	r.state = to
	r.report.States = append(r.report.States, to)
	return nil
}

func (r *run) execute(ctx context.Context) error {
	inputs, err := r.resolveInputs()
	if err != nil {
		return err
	}
	defer func() {
		if err := inputs.Close(); err != nil {
			r.logger.Warn("Failed to remove scratch directory", zap.Error(err))
		}
	}()

	desc, err := r.describe(ctx, inputs)
	if err != nil {
		return err
	}

	if err := r.enter(StateDeriveConfig); err != nil {
		return err
	}
	cfg, err := fingerprint.Compute(desc, r.req.Flags, r.req.Policy)
	if err != nil {
		return err
	}
	r.report.Identity = cfg.Identity
	for _, n := range cfg.Notices {
		r.report.Notices = append(r.report.Notices, n)
		r.logger.Warn(n.Message, zap.String("notice", n.Code))
		if r.p.Notify != nil {
			r.p.Notify(n)
		}
	}

	if err := r.enter(StateDecideCache); err != nil {
		return err
	}
	lookup := r.p.Cache.Decide(cfg.Identity, r.req.Force)
	r.report.Decision = lookup.Decision
	r.report.ArtifactPath = lookup.Path
	r.logger.Info("Cache decision",
		zap.String("identity", cfg.Identity.Name()),
		zap.Stringer("decision", lookup.Decision),
		zap.Bool("solution", r.req.Solution))

	if r.req.Solution {
		return r.generateSolution(ctx, cfg, inputs)
	}

	if lookup.Decision == cache.Build {
		if err := r.build(ctx, cfg); err != nil {
			return err
		}
	}

	if err := r.enter(StateExecute); err != nil {
		return err
	}
	if err := os.MkdirAll(r.req.OutDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := r.p.Executor.Execute(ctx, r.report.ArtifactPath, inputs.AppPath, r.req.OutDir); err != nil {
		return err
	}

	return r.enter(StateDone)
}

func (r *run) resolveInputs() (*input.Inputs, error) {
	if r.req.Bare != nil {
		return r.p.Resolver.ResolveBare(r.req.Input)
	}
	return r.p.Resolver.Resolve(r.req.Input)
}

func (r *run) describe(ctx context.Context, inputs *input.Inputs) (sdk.Descriptor, error) {
	if r.req.Bare != nil {
		desc := *r.req.Bare
		if desc.SnapshotHash == "" {
			hash, err := probe.HashImage(inputs.AppPath)
			if err != nil {
				return sdk.Descriptor{}, err
			}
			desc.SnapshotHash = hash
		}
		r.report.Descriptor = desc
		return desc, nil
	}

	if err := r.enter(StateProbeMetadata); err != nil {
		return sdk.Descriptor{}, err
	}
	info, err := r.p.Probe.Probe(ctx, inputs.AppPath, inputs.EnginePath)
	if err != nil {
		return sdk.Descriptor{}, err
	}
	r.report.Info = info

	desc, err := info.Descriptor()
	if err != nil {
		return sdk.Descriptor{}, err
	}
	r.report.Descriptor = desc
	return desc, nil
}

// prepare makes sure the Dart VM library exists and derives the defines
// from its headers.
func (r *run) prepare(ctx context.Context, cfg fingerprint.Config) ([]string, error) {
	if _, err := r.p.Cache.EnsureLibrary(ctx, cfg.Descriptor, r.p.Fetcher); err != nil {
		return nil, err
	}

	headers := compat.DirProvider{Root: r.p.Cache.Layout().VMHeaderDir(cfg.Descriptor)}
	facts, err := r.p.Scanner.Scan(cfg.Descriptor.Version, headers)
	if err != nil {
		return nil, err
	}

	macros := compat.DeriveMacros(r.p.Scanner.Rules(), facts, cfg.Flags.Enabled)
	r.report.Macros = macros
	r.logger.Info("Derived compatibility defines",
		zap.String("lib_name", cfg.Descriptor.LibName()),
		zap.Strings("facts", facts.Names()),
		zap.Strings("macros", macros))
	return macros, nil
}

func (r *run) build(ctx context.Context, cfg fingerprint.Config) error {
	if err := r.enter(StateBuild); err != nil {
		return err
	}

	macros, err := r.prepare(ctx, cfg)
	if err != nil {
		return err
	}

	err = r.p.Cache.WithBuildLock(ctx, cfg.Identity, func() error {
		result, err := r.p.Builder.Build(ctx, build.Request{Config: cfg, Macros: macros})
		if err != nil {
			return err
		}
		r.report.Build = result
		return nil
	})
	if err != nil {
		return err
	}
	r.report.Built = true

	if err := r.enter(StateVerifyArtifact); err != nil {
		return err
	}
	result, err := r.p.Builder.VerifyArtifact(cfg.Identity)
	if err != nil {
		return err
	}
	r.report.ArtifactPath = result.ArtifactPath
	return nil
}

func (r *run) generateSolution(ctx context.Context, cfg fingerprint.Config, inputs *input.Inputs) error {
	if err := r.enter(StateBuild); err != nil {
		return err
	}

	macros, err := r.prepare(ctx, cfg)
	if err != nil {
		return err
	}

	appPath, err := r.keepAppImage(inputs)
	if err != nil {
		return err
	}

	err = r.p.Builder.GenerateSolution(ctx, build.SolutionRequest{
		Config:  cfg,
		Macros:  macros,
		AppPath: appPath,
		OutDir:  r.req.OutDir,
	})
	if err != nil {
		return err
	}

	return r.enter(StateDone)
}

// keepAppImage returns an app image path that outlives the run. Images
// extracted from an archive live in scratch space that is removed on return,
// so the solution's debug command gets a copy in the output directory.
func (r *run) keepAppImage(inputs *input.Inputs) (string, error) {
	if inputs.Scratch() == "" {
		return inputs.AppPath, nil
	}
	if err := os.MkdirAll(r.req.OutDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	dst, err := filepath.Abs(filepath.Join(r.req.OutDir, filepath.Base(inputs.AppPath)))
	if err != nil {
		return "", err
	}
	if err := copyFile(inputs.AppPath, dst); err != nil {
		return "", fmt.Errorf("failed to copy %s to the output directory: %w", filepath.Base(inputs.AppPath), err)
	}
	r.logger.Debug("Kept app image for the solution", zap.String("path", dst))
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
