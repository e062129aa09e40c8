package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/homiodev/addon-ipscanner/internal/config"
	"github.com/homiodev/addon-ipscanner/internal/daemon"
	"github.com/homiodev/addon-ipscanner/internal/metrics"
	"github.com/homiodev/addon-ipscanner/internal/services"
)

var serverPIDFile string

// serverCmd runs the daemon in the foreground.
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the API server and scheduled scans",
	Long: `Run the scanner as a service in the foreground: the HTTP API, the
websocket event stream, Prometheus metrics and the scheduled rescans of the
config file.

SIGINT and SIGTERM stop the server, stopping a running scan first. SIGHUP
reloads the scan schedule from the config file.`,
	Example: `  ipscanner server
  ipscanner server --host 0.0.0.0 --port 8090
  ipscanner server --config /etc/ipscanner.yaml --pid-file /run/ipscanner.pid`,
	Args: cobra.NoArgs,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().String("host", "", "API listen address (overrides config)")
	serverCmd.Flags().Int("port", 0, "API listen port (overrides config)")
	serverCmd.Flags().StringVar(&serverPIDFile, "pid-file", "", "Write the process ID to this file")
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyServerFlags(cmd.Flags(), cfg)

	logger, err := newLogger(cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	pm := metrics.GetGlobalMetrics()
	svc, err := services.New(&cfg.Scanner, logger, services.WithMetrics(pm))
	if err != nil {
		return err
	}

	d := daemon.New(cfg, logger,
		daemon.WithService(svc),
		daemon.WithMetrics(pm),
		daemon.WithConfigPath(configPath()),
		daemon.WithPIDFile(serverPIDFile),
	)
	return d.Run(cmd.Context())
}

// applyServerFlags enables the API and applies the listen flags the user set.
func applyServerFlags(flags *pflag.FlagSet, cfg *config.Config) {
	cfg.API.Enabled = true
	if flags.Changed("host") {
		cfg.API.ListenAddr, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.API.Port, _ = flags.GetInt("port")
	}
}
