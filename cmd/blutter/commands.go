package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aotkit/blutter/internal/build"
	"github.com/aotkit/blutter/internal/cache"
	"github.com/aotkit/blutter/internal/compat"
	"github.com/aotkit/blutter/internal/config"
	"github.com/aotkit/blutter/internal/fetch"
	"github.com/aotkit/blutter/internal/fingerprint"
	"github.com/aotkit/blutter/internal/input"
	"github.com/aotkit/blutter/internal/logging"
	"github.com/aotkit/blutter/internal/pipeline"
	"github.com/aotkit/blutter/internal/probe"
	"github.com/aotkit/blutter/internal/sdk"
	"github.com/aotkit/blutter/internal/ui"
)

// Command flags
var (
	rebuild              bool
	vsSolution           bool
	noAnalysis           bool
	idaFunctionNames     bool
	dartVersion          string
	rejectLegacyAnalysis bool
	rootDir              string
	configPath           string
	logLevel             string
)

func init() {
	rootCmd.Flags().BoolVar(&rebuild, "rebuild", false, "Force rebuilding the analyzer even if it is installed")
	rootCmd.Flags().BoolVar(&vsSolution, "vs-sln", false, "Generate a Visual Studio solution in <outdir> instead of running")
	rootCmd.Flags().BoolVar(&noAnalysis, "no-analysis", false, "Build the analyzer without code analysis")
	rootCmd.Flags().BoolVar(&idaFunctionNames, "ida-fcn", false, "Generate IDA function names script")
	rootCmd.Flags().StringVar(&dartVersion, "dart-version", "", "Dart version as <ver>_<os>_<arch>; the input is then the snapshot image itself")
	rootCmd.Flags().BoolVar(&rejectLegacyAnalysis, "reject-legacy-analysis", false, "Fail instead of disabling analysis for Dart older than 2.15")

	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "Blutter workspace directory (default: config root, then the executable's directory)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (default: platform config directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: $"+logging.LogLevelEnvVar+", silent when unset)")
}

// environment is the resolved settings a command runs with.
type environment struct {
	settings *config.Settings
	layout   sdk.Layout
}

func loadEnvironment() (*environment, error) {
	if err := logging.Initialize(logLevel); err != nil {
		return nil, err
	}

	settings, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if rootDir != "" {
		settings.Root = rootDir
	}
	root, err := settings.ResolveRoot()
	if err != nil {
		return nil, err
	}

	return &environment{settings: settings, layout: sdk.Layout{Root: root}}, nil
}

func runBlutter(cmd *cobra.Command, args []string) error {
	// Suppress usage on execution errors (we're past argument parsing)
	cmd.SilenceUsage = true

	inputPath, outDir := args[0], args[1]

	env, err := loadEnvironment()
	if err != nil {
		ui.PrintFailure("Invalid configuration", err, []string{
			"Check the configuration file: " + describeConfigPath(),
			"Valid log levels: debug, info, warn, error",
		})
		return &exitError{code: 1, err: err}
	}

	req := pipeline.Request{
		Input:    inputPath,
		OutDir:   outDir,
		Force:    rebuild,
		Solution: vsSolution,
		Flags: fingerprint.Flags{
			NoAnalysis:       noAnalysis,
			IDAFunctionNames: idaFunctionNames,
		},
	}
	if rejectLegacyAnalysis {
		req.Policy = fingerprint.RejectLegacy
	}
	if dartVersion != "" {
		desc, err := sdk.ParseTriple(dartVersion)
		if err != nil {
			ui.PrintFailure("Invalid --dart-version", err, []string{
				"Use the form <version>_<os>_<arch>, e.g. 3.4.2_android_arm64",
			})
			return &exitError{code: 1, err: err}
		}
		req.Bare = &desc
	}

	mode := "analyze"
	if vsSolution {
		mode = "generate Visual Studio solution"
	}
	ui.PrintCommandHeader("Blutter", "blutter "+strings.Join(os.Args[1:], " "),
		ui.Param{Key: "Input", Value: inputPath},
		ui.Param{Key: "Output", Value: outDir},
		ui.Param{Key: "Workspace", Value: env.layout.Root},
		ui.Param{Key: "Mode", Value: mode},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	p, err := newPipeline(ctx, env)
	if err != nil {
		ui.PrintFailure("Setup failed", err, troubleshooting(err))
		return &exitError{code: 1, err: err}
	}

	start := time.Now()
	report, err := p.Run(ctx, req)

	fmt.Println()
	ui.PrintSteps(reportSteps(report))

	if err != nil {
		ui.PrintFailure(failureTitle(err), err, troubleshooting(err))
		return &exitError{code: exitCode(err), err: err}
	}

	details := []ui.Param{
		{Key: "Dart", Value: report.Descriptor.String()},
		{Key: "Analyzer", Value: report.Identity.Name()},
		{Key: "Cache", Value: report.Decision.String()},
	}
	if report.Build != nil {
		details = append(details, ui.Param{Key: "Size", Value: ui.FormatSize(report.Build.Size)})
	}
	details = append(details,
		ui.Param{Key: "Output", Value: outDir},
		ui.Param{Key: "Elapsed", Value: time.Since(start).Round(time.Second).String()},
	)

	title := "Analysis complete"
	if vsSolution {
		title = "Visual Studio solution generated"
	}
	ui.PrintSuccess(title, details...)
	return nil
}

// newPipeline wires the production collaborators.
func newPipeline(ctx context.Context, env *environment) (*pipeline.Pipeline, error) {
	settings := env.settings
	tools := settings.BuildTools()
	goos := runtime.GOOS

	rules, err := compat.LoadRules()
	if err != nil {
		return nil, err
	}

	runner := build.NewExecRunner(logging.Named("runner"))
	driver := build.NewDriver(env.layout, goos, tools, runner, logging.Named("build"))

	var source fetch.SourceProvider
	switch settings.SDK.Source {
	case config.SourceArchive:
		source = fetch.NewArchiveSource(settings.SDK.ArchiveURL, os.Stderr, logging.Named("source"))
	default:
		source = fetch.NewGitSource(settings.SDK.Repository, os.Stderr, logging.Named("source"))
	}

	opts := fetch.Options{
		Layout: env.layout,
		GOOS:   goos,
		Tools:  tools,
		Runner: runner,
		Source: source,
	}
	if settings.RemoteEnabled() {
		store, err := fetch.NewS3Store(ctx, settings.RemoteCache.S3Config())
		if err != nil {
			// the remote cache only saves time; build locally without it
			logging.Warn("Remote cache unavailable", zap.Error(err))
			ui.PrintWarning("Remote cache unavailable",
				ui.Param{Key: "Bucket", Value: settings.RemoteCache.Bucket},
				ui.Param{Key: "Error", Value: err.Error()},
			)
		} else {
			opts.Remote = store
			opts.Prefix = settings.RemoteCache.Prefix
			opts.Upload = settings.RemoteCache.Upload
		}
	}

	return &pipeline.Pipeline{
		Resolver: input.NewResolver(logging.Named("input")),
		Probe:    probe.NewNativeProbe(logging.Named("probe")),
		Cache:    cache.New(env.layout, goos, logging.Named("cache")),
		Fetcher:  &announcingFetcher{next: fetch.New(opts, logging.Named("fetch"))},
		Scanner:  compat.NewScanner(rules, logging.Named("compat")),
		Builder:  &announcingBuilder{Driver: driver},
		Executor: &pipeline.RunnerExecutor{Runner: runner, Stdout: os.Stdout, Stderr: os.Stderr},
		Notify: func(n fingerprint.Notice) {
			ui.PrintWarning("Code analysis disabled", ui.Param{Key: "Reason", Value: n.Message})
		},
		Logger: logging.Named("pipeline"),
	}, nil
}

// announcingFetcher tells the user a long fetch and build is starting.
type announcingFetcher struct {
	next cache.Fetcher
}

func (f *announcingFetcher) FetchAndBuild(ctx context.Context, desc sdk.Descriptor) (string, error) {
	ui.PrintPleaseWait("Fetching and building Dart VM "+desc.Version.String(), "this can take a while")
	return f.next.FetchAndBuild(ctx, desc)
}

// announcingBuilder tells the user an analyzer build is starting.
type announcingBuilder struct {
	*build.Driver
}

func (b *announcingBuilder) Build(ctx context.Context, req build.Request) (*build.Result, error) {
	ui.PrintPleaseWait("Building "+req.Config.Identity.Name(), "a few minutes")
	return b.Driver.Build(ctx, req)
}

var stateNames = map[pipeline.State]string{
	pipeline.StateResolveInputs:  "Resolve inputs",
	pipeline.StateProbeMetadata:  "Detect Dart version",
	pipeline.StateDeriveConfig:   "Derive build configuration",
	pipeline.StateDecideCache:    "Check installed analyzer",
	pipeline.StateBuild:          "Build analyzer",
	pipeline.StateVerifyArtifact: "Verify analyzer",
	pipeline.StateExecute:        "Run analyzer",
}

// reportSteps turns the visited states into a step list. The state before
// StateFailed is the one that failed. A reused analyzer shows its build as
// skipped.
func reportSteps(report *pipeline.Report) []ui.Step {
	if report == nil {
		return nil
	}

	var steps []ui.Step
	for i, s := range report.States {
		name, ok := stateNames[s]
		if !ok {
			continue
		}
		step := ui.Step{Name: name, Status: ui.StepComplete}
		if i+1 < len(report.States) && report.States[i+1] == pipeline.StateFailed {
			step.Status = ui.StepFailed
		}
		if s == pipeline.StateDecideCache && step.Status == ui.StepComplete {
			step.Message = report.Decision.String()
		}
		steps = append(steps, step)

		if s == pipeline.StateDecideCache && step.Status == ui.StepComplete &&
			report.Decision == cache.Reuse && !visitsBuild(report.States[i+1:]) {
			steps = append(steps, ui.Step{
				Name:    stateNames[pipeline.StateBuild],
				Status:  ui.StepSkipped,
				Message: "installed",
			})
		}
	}
	return steps
}

func visitsBuild(states []pipeline.State) bool {
	for _, s := range states {
		if s == pipeline.StateBuild {
			return true
		}
	}
	return false
}

func failureTitle(err error) string {
	var stateErr *pipeline.StateError
	if !errors.As(err, &stateErr) {
		return "Blutter failed"
	}
	if name, ok := stateNames[stateErr.State]; ok {
		return name + " failed"
	}
	return "Blutter failed"
}

// exitCode is the analyzer's own exit code when it ran and failed, 1 otherwise.
func exitCode(err error) int {
	var execErr *pipeline.ExecutionError
	if errors.As(err, &execErr) && execErr.ExitCode > 0 {
		return execErr.ExitCode
	}
	return 1
}

// troubleshooting picks hints for the most specific error in the chain.
func troubleshooting(err error) []string {
	var (
		notFound    *input.NotFoundError
		unsupported *input.UnsupportedError
		probeErr    *probe.Error
		versionErr  *sdk.VersionError
		legacyErr   *fingerprint.LegacyVersionError
		fetchErr    *fetch.Error
		libMissing  *cache.LibraryMissingError
		scanErr     *compat.ScanError
		buildErr    *build.Error
		artifactErr *build.ArtifactMissingError
		execErr     *pipeline.ExecutionError
	)

	switch {
	case errors.Is(err, context.Canceled):
		return []string{"The run was interrupted; rerun the same command to continue"}
	case errors.As(err, &notFound):
		return []string{
			"Pass the directory that holds " + strings.Join(notFound.Candidates, " or "),
			"For Android, use the lib/arm64-v8a directory or the .apk itself",
			"Only arm64 builds are supported",
		}
	case errors.As(err, &unsupported):
		return []string{"The input must be a directory, an .apk or an .ipa"}
	case errors.As(err, &probeErr):
		return []string{
			"Check that the input is a release (AOT) Flutter build",
			"Skip detection with --dart-version <version>_<os>_<arch> and the snapshot image as input",
		}
	case errors.As(err, &versionErr):
		return []string{"Use the form <version>_<os>_<arch>, e.g. 3.4.2_android_arm64"}
	case errors.As(err, &legacyErr):
		return []string{
			"Rerun with --no-analysis",
			"Or drop --reject-legacy-analysis to disable analysis automatically",
		}
	case errors.As(err, &scanErr):
		return []string{
			"Delete " + scanErr.Root + " and the matching library in packages/lib",
			"Then rerun with --rebuild",
		}
	case errors.As(err, &fetchErr):
		hints := []string{
			"Check network access to the Dart SDK repository",
			"Switch sdk.source to archive in " + describeConfigPath() + " if git is blocked",
		}
		if fetchErr.Stage == fetch.StageBuild {
			hints = append(hints, "Check the build tools: blutter doctor")
		}
		return hints
	case errors.As(err, &libMissing):
		return []string{"Check the install() rules of scripts/dartvm/CMakeLists.txt"}
	case errors.As(err, &buildErr):
		return []string{
			"Check the build tools: blutter doctor",
			"Rerun with --rebuild to start from a clean configuration",
			"Rerun with --log-level debug for the full command lines",
		}
	case errors.As(err, &artifactErr):
		return []string{"Rerun with --rebuild"}
	case errors.As(err, &execErr):
		return []string{
			"The analyzer failed on this snapshot; the output directory may be incomplete",
			"Rerun with --rebuild if the analyzer was built by an older blutter",
		}
	default:
		return []string{"Rerun with --log-level debug for details"}
	}
}

func describeConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if p, err := config.GetConfigPath(); err == nil {
		return p
	}
	return "config.yaml"
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check build tools and the blutter workspace",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	env, err := loadEnvironment()
	if err != nil {
		ui.PrintFailure("Invalid configuration", err, []string{
			"Check the configuration file: " + describeConfigPath(),
		})
		return &exitError{code: 1, err: err}
	}

	ui.PrintCommandHeader("Setup Verification", "blutter doctor",
		ui.Param{Key: "Workspace", Value: env.layout.Root},
		ui.Param{Key: "Config", Value: describeConfigPath()},
	)

	result := build.ValidatePrerequisites(env.settings.BuildTools(), runtime.GOOS)

	var steps []ui.Step
	var hints []string
	for _, check := range result.Checks {
		step := ui.Step{Name: check.Name, Status: ui.StepComplete, Message: check.Path}
		if !check.Available {
			step.Status = ui.StepFailed
			step.Message = "not found"
			hints = append(hints, check.Message)
		}
		steps = append(steps, step)
	}

	for _, project := range []string{env.layout.SourceDir(), env.layout.VMProjectDir()} {
		step := ui.Step{Name: project, Status: ui.StepComplete}
		if _, err := os.Stat(filepath.Join(project, "CMakeLists.txt")); err != nil {
			step.Status = ui.StepFailed
			step.Message = "CMakeLists.txt missing"
			hints = append(hints, "Point --root (or root in the config file) at a blutter checkout")
			result.AllAvailable = false
		}
		steps = append(steps, step)
	}

	ui.PrintSteps(steps)

	if !result.AllAvailable {
		err := fmt.Errorf("setup verification failed")
		ui.PrintFailure("Setup verification failed", err, hints)
		return &exitError{code: 1, err: err}
	}

	ui.PrintSuccess("Setup verification complete",
		ui.Param{Key: "Status", Value: "Ready to build analyzers"},
	)
	return nil
}
