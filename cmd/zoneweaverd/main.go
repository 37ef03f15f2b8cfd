package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/agent"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/config"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "zoneweaverd",
	Short: "Zoneweaver host agent for illumos zones",
	Long: `Zoneweaverd is the per-host agent of the Zoneweaver control plane.

It runs zone lifecycle and provisioning work through a dependency-aware
task engine, samples host metrics into a local SQLite database, multiplexes
zone consoles and host terminals over WebSockets, proxies bhyve VNC
framebuffers, and serves the REST surface the central API consumes.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"zoneweaverd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent in the foreground",
	Long: `Run the agent until SIGINT or SIGTERM.

Configuration comes from the YAML file named with --config. Every value has
a built-in default, so the agent runs without a file; the flags below
override file values.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := applyFlagOverrides(cmd, cfg); err != nil {
			return err
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.Log.Level),
			JSONOutput: cfg.Log.JSON,
		})

		return agent.New(cfg).Run(Version)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("zoneweaverd version %s\nCommit: %s\nBuilt: %s\n",
			Version, Commit, BuildTime)
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to the YAML configuration file")
	serveCmd.Flags().String("bind-address", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().String("db", "", "SQLite database path (overrides config)")
	serveCmd.Flags().String("host", "", "Host name recorded on zone and metric rows (overrides config)")
	serveCmd.Flags().String("log-level", "", "Log level: debug, info, warn or error (overrides config)")
	serveCmd.Flags().Bool("log-json", false, "Emit JSON logs instead of console output (overrides config)")
}

// applyFlagOverrides folds changed serve flags over the loaded file values
// and re-validates, so a bad flag fails as loudly as a bad file.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("bind-address") {
		cfg.Server.BindAddress, _ = flags.GetString("bind-address")
	}
	if flags.Changed("db") {
		cfg.Database.Path, _ = flags.GetString("db")
	}
	if flags.Changed("host") {
		cfg.Host.Name, _ = flags.GetString("host")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON, _ = flags.GetBool("log-json")
	}
	return cfg.Validate()
}
