package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nerrad567/kvstore/internal/infrastructure/config"
	"github.com/nerrad567/kvstore/internal/infrastructure/logging"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// app carries state shared by every command once the root pre-run has
// loaded the configuration.
type app struct {
	configPath string
	cfg        *config.Config
	log        *logging.Logger
}

// newRootCmd builds the command tree. A fresh tree per call keeps tests
// independent of each other's flags.
func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "kvstore",
		Short: "pooled key/value store over SQLite",
		Long: `kvstore keeps keys and values in one SQLite file shared by many goroutines.
Writes are serialised by a pool-wide lock; reads run alongside a writer in WAL mode.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "",
		"configuration file (env KVSTORE_CONFIG, default "+defaultConfigPath+")")

	root.AddCommand(
		newServeCmd(a),
		newGetCmd(a),
		newPutCmd(a),
		newDeleteCmd(a),
		newCountCmd(a),
		newQueryCmd(a),
		newWatchCmd(a),
		newVersionCmd(),
	)
	return root
}

// load reads .env files, resolves the config path and builds the logger.
func (a *app) load(cmd *cobra.Command, _ []string) error {
	// Missing env files are normal.
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	path := getConfigPath(a.configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.cfg = cfg

	// Only serve logs to stdout; other commands print results there.
	logCfg := cfg.Logging
	if cmd.Name() != "serve" && logCfg.Output == "stdout" {
		logCfg.Output = "stderr"
	}
	a.log = logging.New(logCfg, version)
	a.log.Debug("configuration loaded", "path", path)
	return nil
}

// getConfigPath returns the configuration file path: the --config flag,
// then KVSTORE_CONFIG, then the default.
func getConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv("KVSTORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of kvstore",
		// Skip configuration loading.
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kvstore %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
