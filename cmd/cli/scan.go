package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/homiodev/addon-ipscanner/internal/config"
	"github.com/homiodev/addon-ipscanner/internal/scanning"
	"github.com/homiodev/addon-ipscanner/internal/services"
)

const (
	defaultScanPorts = "80,443,8080-8084"

	// Minimum pause between two progress line updates.
	progressInterval = 100 * time.Millisecond
)

type scanOptions struct {
	ports    string
	fetchers []string
	pinger   string
	threads  int
	dead     bool
	json     bool
	quiet    bool
}

var scanOpts scanOptions

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan [START END]",
	Short: "Scan an IP range",
	Long: `Scan every address from START to END, inclusive. Without arguments the
/24 network of the first active interface is scanned.

Progress is printed to stderr and the results to stdout once the scan ends.
Press Ctrl-C once to stop the scan after the hosts in flight, twice to
abort them.`,
	Example: `  ipscanner scan 192.168.1.1 192.168.1.254
  ipscanner scan 10.0.0.1 10.0.0.50 --ports 22,80,443 --fetchers Ping,Hostname,Ports,MAC
  ipscanner scan --threads 100 --dead --json
  ipscanner scan fe80::1 fe80::ff --pinger pinger.tcp`,
	Args: scanArgs,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	bindScanFlags(scanCmd.Flags(), &scanOpts)
}

func bindScanFlags(flags *pflag.FlagSet, o *scanOptions) {
	flags.StringVarP(&o.ports, "ports", "p", defaultScanPorts, "Ports to probe, e.g. '22,80,8000-8100'")
	flags.StringSliceVarP(&o.fetchers, "fetchers", "f", nil, "Fetchers to run, in column order (see 'ipscanner fetchers')")
	flags.StringVar(&o.pinger, "pinger", "", "Pinger to use (see 'ipscanner pingers')")
	flags.IntVarP(&o.threads, "threads", "t", 0, "Maximum number of hosts scanned at once")
	flags.BoolVar(&o.dead, "dead", false, "Scan and list hosts that do not answer pings")
	flags.BoolVar(&o.json, "json", false, "Print results as JSON")
	flags.BoolVarP(&o.quiet, "quiet", "q", false, "Do not print progress")
}

func scanArgs(_ *cobra.Command, args []string) error {
	if len(args) == 0 || len(args) == 2 {
		return nil
	}
	return fmt.Errorf("expected START and END addresses, got %d argument(s)", len(args))
}

func runScan(cmd *cobra.Command, args []string) error {
	start, end, err := resolveRange(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	scanOpts.apply(cmd.Flags(), &cfg.Scanner, configPath() == "" && !viper.IsSet("scanner.port_string"))
	if err := cfg.Scanner.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg, true)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	svc, err := services.New(&cfg.Scanner, logger)
	if err != nil {
		return err
	}

	stopSignals := notifyInterrupts(interruptHandler(svc, cmd.ErrOrStderr()))
	defer stopSignals()

	return executeScan(cmd.Context(), svc, start, end, scanOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// apply copies the flags the user set over cfg. The flag's port default
// replaces the engine default only when nothing else configured ports.
func (o scanOptions) apply(flags *pflag.FlagSet, cfg *config.ScannerConfig, portsUnset bool) {
	if flags.Changed("ports") || portsUnset {
		cfg.PortString = o.ports
	}
	if flags.Changed("fetchers") {
		cfg.SelectedFetchers = o.fetchers
	}
	if flags.Changed("pinger") {
		cfg.SelectedPinger = o.pinger
	}
	if flags.Changed("threads") {
		cfg.MaxThreads = o.threads
	}
	if flags.Changed("dead") {
		cfg.ScanDeadHosts = o.dead
	}
}

// resolveRange returns the range given on the command line or the local /24.
func resolveRange(args []string) (start, end string, err error) {
	if len(args) == 2 {
		return args[0], args[1], nil
	}
	first, last, ok := scanning.LocalRange()
	if !ok {
		return "", "", fmt.Errorf("no local IPv4 network found, pass START and END")
	}
	return first.String(), last.String(), nil
}

// executeScan runs one scan to completion and prints its results.
func executeScan(
	ctx context.Context, svc *services.ScannerService, start, end string, opts scanOptions, stdout, stderr io.Writer,
) error {
	var summary services.Summary
	svc.OnComplete(func(s services.Summary) { summary = s })

	var progress *progressPrinter
	var sink services.ProgressSink
	if !opts.quiet {
		progress = newProgressPrinter(stderr)
		sink = progress.Update
	}

	id, err := svc.StartScan(ctx, start, end, "", sink)
	if err != nil {
		return err
	}
	if err := svc.Wait(ctx); err != nil {
		svc.Kill()
		return err
	}
	if progress != nil {
		progress.Finish()
	}

	results := svc.Results(svc.Config().ScanDeadHosts)
	if opts.json {
		return writeJSON(stdout, scanReport{
			ScanID:  id,
			Summary: &summary,
			Columns: columnNames(svc.Columns()),
			Results: results,
		})
	}

	if err := writeResultsTable(stdout, svc.Columns(), results); err != nil {
		return err
	}
	printSummary(stdout, summary)
	return nil
}

// interruptHandler returns the reaction to one Ctrl-C: the first stops the
// scan, the next kills it.
func interruptHandler(svc *services.ScannerService, stderr io.Writer) func() {
	return func() {
		if svc.Stop() {
			printf(stderr, "\nStopping scan, press Ctrl-C again to abort\n")
			return
		}
		if svc.Kill() {
			printf(stderr, "\nAborting scan\n")
		}
	}
}

// notifyInterrupts calls onInterrupt for every SIGINT or SIGTERM until the
// returned function is called.
func notifyInterrupts(onInterrupt func()) (stop func()) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-sigCh:
				onInterrupt()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(done)
		})
	}
}

// progressPrinter keeps a single status line on a terminal up to date.
type progressPrinter struct {
	w    io.Writer
	mu   sync.Mutex
	last time.Time
	seen bool
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w}
}

// Update is a services.ProgressSink.
func (p *progressPrinter) Update(pr services.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if p.seen && pr.Percent < 100 && now.Sub(p.last) < progressInterval {
		return
	}
	p.last = now
	p.seen = true
	printf(p.w, "\r%5.1f%%  %-39s  threads: %-4d", pr.Percent, pr.Current, pr.ActiveWorkers)
}

// Finish ends the status line.
func (p *progressPrinter) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen {
		printf(p.w, "\n")
	}
}
