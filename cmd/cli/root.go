// Package cli provides the command-line interface of the IP scanner.
// It implements the Cobra command tree for one-shot scans, listing of the
// available fetchers and pingers, and the long-running API server.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/homiodev/addon-ipscanner/internal/config"
	"github.com/homiodev/addon-ipscanner/internal/logging"
)

const envPrefix = "IPSCANNER"

var (
	cfgFile string
	verbose bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "ipscanner",
	Short: "Fast IP range scanner",
	Long: `ipscanner pings every address of an IP range and gathers details about
the hosts that answer: hostname, open ports, MAC address and vendor, NetBIOS
and SNMP names, web server banners and more.

Settings are read from a YAML config file and may be overridden with
IPSCANNER_* environment variables, e.g. IPSCANNER_SCANNER_MAX_THREADS=100.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./ipscanner.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind verbose flag: %v\n", err)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		if home, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(home + "/ipscanner")
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName("ipscanner")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// configPath returns the config file in use, or "" when running on defaults.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return viper.ConfigFileUsed()
}

// loadConfig loads the config file, applies environment overrides and
// validates the result.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if path := configPath(); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	applyOverrides(cfg, viper.GetViper())
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyOverrides copies the keys set in v, typically from the environment,
// over cfg.
func applyOverrides(cfg *config.Config, v *viper.Viper) {
	strs := map[string]*string{
		"scanner.port_string":     &cfg.Scanner.PortString,
		"scanner.selected_pinger": &cfg.Scanner.SelectedPinger,
		"scanner.snmp_community":  &cfg.Scanner.SNMPCommunity,
		"api.listen_addr":         &cfg.API.ListenAddr,
		"logging.level":           &cfg.Logging.Level,
		"logging.format":          &cfg.Logging.Format,
		"logging.output":          &cfg.Logging.Output,
	}
	for key, dst := range strs {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	ints := map[string]*int{
		"scanner.max_threads": &cfg.Scanner.MaxThreads,
		"scanner.ping_count":  &cfg.Scanner.PingCount,
		"api.port":            &cfg.API.Port,
	}
	for key, dst := range ints {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}

	bools := map[string]*bool{
		"scanner.scan_dead_hosts":          &cfg.Scanner.ScanDeadHosts,
		"scanner.skip_broadcast_addresses": &cfg.Scanner.SkipBroadcastAddresses,
		"api.enabled":                      &cfg.API.Enabled,
	}
	for key, dst := range bools {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}

	if v.IsSet("scanner.selected_fetchers") {
		cfg.Scanner.SelectedFetchers = v.GetStringSlice("scanner.selected_fetchers")
	}
}

// newLogger builds the process logger. Verbose output forces debug level,
// quiet drops everything below warnings.
func newLogger(cfg *config.Config, quiet bool) (*logging.Logger, error) {
	logCfg := cfg.LoggerConfig()
	switch {
	case verbose:
		logCfg.Level = logging.LevelDebug
		logCfg.AddSource = true
	case quiet:
		logCfg.Level = logging.LevelWarn
	}

	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logging.SetDefault(logger)
	return logger, nil
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
