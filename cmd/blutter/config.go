package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aotkit/blutter/internal/config"
	"github.com/aotkit/blutter/internal/ui"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the blutter configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default settings",
	Long: `Write a configuration file holding every setting at its default value.

The file goes to --config, or to the platform configuration directory. A
--root given on the command line is stored as the workspace root.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file location",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(describeConfigPath())
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing configuration file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// errConfigExists is returned by initConfig when it would overwrite a file.
var errConfigExists = errors.New("configuration file already exists")

// initConfig writes the default settings to path, storing root when set.
func initConfig(path, root string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%w: %s", errConfigExists, path)
	}

	settings := config.NewSettings()
	settings.Root = root
	return settings.Save(path)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	path := configPath
	if path == "" {
		p, err := config.GetConfigPath()
		if err != nil {
			ui.PrintFailure("Cannot locate the configuration directory", err, []string{
				"Pass the file location with --config",
			})
			return &exitError{code: 1, err: err}
		}
		path = p
	}

	if err := initConfig(path, rootDir, configForce); err != nil {
		hints := []string{"Check that the directory is writable"}
		if errors.Is(err, errConfigExists) {
			hints = []string{"Rerun with --force to replace it with the defaults"}
		}
		ui.PrintFailure("Configuration not written", err, hints)
		return &exitError{code: 1, err: err}
	}

	ui.PrintSuccess("Configuration written",
		ui.Param{Key: "Path", Value: path},
	)
	return nil
}
