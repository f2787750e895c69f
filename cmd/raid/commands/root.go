package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moolen/raid/internal/config"
	"github.com/moolen/raid/internal/logging"
)

// Version is set at build time.
var Version = "0.1.0"

var (
	configPath    string
	logLevelFlags []string // Supports multiple --log-level flags
	providerFlag  string
	modelFlag     string
	apiKeyFlag    string
	baseURLFlag   string
	outputFlag    string
	verboseFlag   bool
	dryRunFlag    bool
)

var rootCmd = &cobra.Command{
	Use:   "raid",
	Short: "raid - AI-assisted diagnostics for Linux hosts and Kubernetes clusters",
	Long: `raid investigates problems on Linux hosts, containers and Kubernetes
clusters. A language model picks read-only diagnostic tools one at a time,
reads their output and reports the root cause.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Path to raid.yaml (default: search ./raid.yaml, ~/.config/raid, /etc/raid)")
	// Supports per-package log levels: --log-level debug --log-level session=debug
	flags.StringSliceVar(&logLevelFlags, "log-level", nil,
		"Log level for packages. Use 'level' or 'default=level' for the default, 'package.name=level' per package.\n"+
			"Examples: --log-level debug (all), --log-level session=debug --log-level tools=warn")
	flags.StringVar(&providerFlag, "provider", "", "AI provider: openai, anthropic, local, gemini, azure-foundry, scripted")
	flags.StringVar(&modelFlag, "model", "", "Model name (default depends on the provider)")
	flags.StringVar(&apiKeyFlag, "api-key", "", "API key for the provider")
	flags.StringVar(&baseURLFlag, "base-url", "", "Base URL of the provider API")
	flags.StringVarP(&outputFlag, "output", "o", "", "Output format: text, markdown or json")
	flags.BoolVarP(&verboseFlag, "verbose", "v", false, "Show tool output while investigating")
	flags.BoolVar(&dryRunFlag, "dry-run", false, "Replay a scripted scenario against canned tool output; no model or host access")

	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(debugCmd)
	rootCmd.AddCommand(issuesCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(mcpCmd)
}

// HandleError prints error and exits
func HandleError(err error, msg string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration file and applies the global flags.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	cfg, path, err := config.Load(configPath)
	if err != nil {
		return nil, "", err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// applyFlags overrides configuration values with explicitly set flags.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	if changed("provider") {
		cfg.AI.Provider = providerFlag
	}
	if changed("model") {
		cfg.AI.Model = modelFlag
	}
	if changed("api-key") {
		cfg.AI.APIKey = apiKeyFlag
	}
	if changed("base-url") {
		cfg.AI.BaseURL = baseURLFlag
	}
	if changed("output") {
		cfg.Output.Format = outputFlag
	}
	if changed("verbose") {
		cfg.Output.Verbose = verboseFlag
	}
	if dryRunFlag {
		cfg.AI.Provider = "scripted"
	}
}

// setupLog initializes the logging system from the configuration and the
// --log-level flags. Logs go to stderr so stdout stays reserved for
// results.
// Priority: CLI flags > Environment variables > config file
func setupLog(cfg *config.Config, flags []string) error {
	defaultLevel, packageLevels, err := parseLogLevelFlags(cfg.Logging.Level, flags)
	if err != nil {
		return err
	}

	if err := logging.ConfigureOutput(logging.OutputOptions{
		Format:  logging.Format(cfg.Logging.Format),
		File:    cfg.Logging.File,
		NoColor: !cfg.Output.Color,
		Stdout:  os.Stderr,
		Stderr:  os.Stderr,
	}); err != nil {
		return err
	}
	return logging.Initialize(defaultLevel, packageLevels)
}

// parseLogLevelFlags parses CLI flags and environment variables
// Priority: CLI flags > Environment variables
//
// CLI format: ["debug"], ["default=info", "session=debug"], or ["info"]
// Env vars: LOG_LEVEL_AGENT_SESSION=debug (package name uppercased, dots to underscores)
//
// Returns: (defaultLevel, packageLevels map, error)
func parseLogLevelFlags(fallback string, flags []string) (string, map[string]string, error) {
	result := make(map[string]string)

	for _, envPair := range os.Environ() {
		if strings.HasPrefix(envPair, "LOG_LEVEL_") {
			parts := strings.SplitN(envPair, "=", 2)
			if len(parts) != 2 {
				continue
			}
			result[convertEnvKeyToPackageName(parts[0])] = parts[1]
		}
	}

	for _, flag := range flags {
		if !strings.Contains(flag, "=") {
			result["default"] = flag
			continue
		}
		parts := strings.SplitN(flag, "=", 2)
		result[parts[0]] = parts[1]
	}

	defaultLevel := fallback
	if defaultLevel == "" {
		defaultLevel = "info"
	}
	if level, exists := result["default"]; exists {
		defaultLevel = level
		delete(result, "default")
	}

	if err := validateLogLevel(defaultLevel); err != nil {
		return "", nil, err
	}
	for pkg, level := range result {
		if err := validateLogLevel(level); err != nil {
			return "", nil, fmt.Errorf("invalid log level for package %q: %v", pkg, err)
		}
	}

	return defaultLevel, result, nil
}

// convertEnvKeyToPackageName converts LOG_LEVEL_AGENT_SESSION -> agent.session
func convertEnvKeyToPackageName(envKey string) string {
	name := strings.TrimPrefix(envKey, "LOG_LEVEL_")
	return strings.ToLower(strings.ReplaceAll(name, "_", "."))
}

// validateLogLevel checks if a level string is valid
func validateLogLevel(level string) error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLevels[strings.ToLower(level)] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error, fatal)", level)
	}
	return nil
}
