package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/patchbay/internal/config"
	"github.com/aretw0/patchbay/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "patchbay",
	Short: "Patchbay keeps a live audio-routing graph in line with its declaration",
	Long: `Patchbay runs players, encoders and selectors as nodes, and reconciles the
connections on the audio server (JACK) with the declared links between them.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", config.DefaultPath, "Configuration file (.yaml, .json or .toml)")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("backend", "", "Audio server: jack, or memory for a dry run")
	flags.String("declaration", "", "Topology declaration loaded at startup")
	flags.String("state", "", "File the live topology is saved to")
}

// loadConfig reads the configuration file, applies flag overrides and sets
// up the logger. A missing default file is not an error.
func loadConfig(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")

	loaded, err := config.Load(path, !flags.Changed("config"))
	if err != nil {
		return err
	}

	overrides := map[string]*string{
		"log-level":   &loaded.LogLevel,
		"backend":     &loaded.Backend,
		"declaration": &loaded.Declaration,
		"state":       &loaded.State,
	}
	for name, field := range overrides {
		if flags.Changed(name) {
			*field, _ = flags.GetString(name)
		}
	}
	if err := loaded.Validate(); err != nil {
		return err
	}

	level, _ := logging.ParseLevel(loaded.LogLevel)
	cfg = loaded
	logger = logging.New(level)
	return nil
}
