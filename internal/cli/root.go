// Package cli wires the poltergeist command tree: starting and stopping
// the daemon, inspecting target status, running one-off builds, and
// validating configuration.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/poltergeist/poltergeist/internal/logger"
)

var (
	cfgFile     string
	projectRoot string
	stateDir    string
	verbosity   string
	version     string
)

var rootCmd = &cobra.Command{
	Use:   "poltergeist",
	Short: "The invisible build system that haunts your code",
	Long: `👻 Poltergeist - automatic incremental builds driven by file watching.

Poltergeist watches your project files and rebuilds targets as soon as a
relevant change settles, so a fresh binary is always one file-save away.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("👻 Poltergeist v%s\n", version)
			return
		}
		_ = cmd.Help()
	},
}

// Execute runs the CLI with the given version string.
func Execute(v string) error {
	version = v
	initializeRootCommand()
	return rootCmd.Execute()
}

func initializeRootCommand() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: poltergeist.config.json)")
	rootCmd.PersistentFlags().StringVar(&projectRoot, "root", ".", "project root directory")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", defaultStateDir(), "directory for daemon and target state files")
	rootCmd.PersistentFlags().StringVarP(&verbosity, "verbosity", "v", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("version", false, "print version information and quit")

	rootCmd.AddCommand(
		newWatchCmd(),
		newStopCmd(),
		newRestartCmd(),
		newStatusCmd(),
		newListCmd(),
		newBuildCmd(),
		newWaitCmd(),
		newCleanCmd(),
		newDaemonCmd(),
		newLogsCmd(),
		newValidateCmd(),
		newVersionCmd(),
	)
}

func defaultStateDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "poltergeist")
	}
	return filepath.Join(os.TempDir(), "poltergeist")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(projectRoot)
		viper.SetConfigName("poltergeist.config")
	}
	viper.SetEnvPrefix("POLTERGEIST")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil && verbosity == "debug" {
		fmt.Println("using config file:", viper.ConfigFileUsed())
	}
}

func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return filepath.Join(projectRoot, "poltergeist.config.json")
}

func newLogger() logger.Logger {
	return logger.New("", verbosity)
}

func printSuccess(message string) { fmt.Printf("👻 %s %s\n", color.GreenString("[Poltergeist]"), message) }
func printError(message string)   { fmt.Fprintf(os.Stderr, "👻 %s %s\n", color.RedString("[Poltergeist]"), message) }
func printInfo(message string)    { fmt.Printf("👻 %s %s\n", color.CyanString("[Poltergeist]"), message) }
func printWarning(message string) { fmt.Printf("👻 %s %s\n", color.YellowString("[Poltergeist]"), message) }
