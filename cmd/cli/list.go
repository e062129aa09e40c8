package cli

import (
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/homiodev/addon-ipscanner/internal/config"
	"github.com/homiodev/addon-ipscanner/internal/pinger"
	"github.com/homiodev/addon-ipscanner/internal/scanning"
)

var listJSON bool

var fetchersCmd = &cobra.Command{
	Use:   "fetchers",
	Short: "List the available fetchers",
	Long: `List every fetcher that can be passed to 'scan --fetchers' and mark the
ones selected by the configuration. Fetchers run in the listed order.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return listFetchers(cmd.OutOrStdout(), &cfg.Scanner, listJSON)
	},
}

var pingersCmd = &cobra.Command{
	Use:   "pingers",
	Short: "List the available pingers",
	Long: `List every pinger that can be passed to 'scan --pinger'. Privileged
pingers fall back to the combined UDP/TCP pinger when the OS refuses them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return listPingers(cmd.OutOrStdout(), &cfg.Scanner, listJSON)
	},
}

func init() {
	rootCmd.AddCommand(fetchersCmd, pingersCmd)
	fetchersCmd.Flags().BoolVar(&listJSON, "json", false, "Print as JSON")
	pingersCmd.Flags().BoolVar(&listJSON, "json", false, "Print as JSON")
}

type listEntry struct {
	Name     string `json:"name"`
	Selected bool   `json:"selected"`
	Note     string `json:"note,omitempty"`
}

func listFetchers(w io.Writer, cfg *config.ScannerConfig, asJSON bool) error {
	selected := make(map[string]bool, len(cfg.SelectedFetchers))
	for _, name := range cfg.SelectedFetchers {
		selected[strings.ToLower(name)] = true
	}

	entries := make([]listEntry, 0, len(scanning.AllFetcherIDs()))
	for _, id := range scanning.AllFetcherIDs() {
		e := listEntry{Name: id.String(), Selected: selected[strings.ToLower(id.String())]}
		if slices.Contains(scanning.DefaultFetchers, id) {
			e.Note = "default"
		}
		entries = append(entries, e)
	}
	return printEntries(w, entries, asJSON)
}

func listPingers(w io.Writer, cfg *config.ScannerConfig, asJSON bool) error {
	entries := make([]listEntry, 0, len(pinger.Names()))
	for _, name := range pinger.Names() {
		e := listEntry{Name: name, Selected: name == cfg.SelectedPinger}
		switch name {
		case config.DefaultPinger():
			e.Note = "default"
		case pinger.FallbackPinger():
			e.Note = "fallback"
		}
		entries = append(entries, e)
	}
	return printEntries(w, entries, asJSON)
}

func printEntries(w io.Writer, entries []listEntry, asJSON bool) error {
	if asJSON {
		return writeJSON(w, entries)
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		mark := ""
		if e.Selected {
			mark = "*"
		}
		rows = append(rows, []string{e.Name, mark, e.Note})
	}
	return writeListTable(w, []any{"Name", "Selected", "Note"}, rows)
}
