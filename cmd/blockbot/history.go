package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/martinemde/blockbot/config"
	"github.com/martinemde/blockbot/history"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the saved conversation",
	}

	var asJSON bool
	var last int
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the saved conversation and standing goal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			snap, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			if last > 0 && len(snap.Turns) > last {
				snap.Turns = snap.Turns[len(snap.Turns)-last:]
			}
			return printSnapshot(cmd.OutOrStdout(), snap, asJSON)
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "print the raw snapshot as JSON")
	show.Flags().IntVarP(&last, "last", "n", 0, "only the last n turns")

	cmd.AddCommand(show)
	return cmd
}

func printSnapshot(w io.Writer, snap history.Snapshot, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	if snap.SelfPromptGoal != "" {
		fmt.Fprintf(w, "goal: %s\n\n", snap.SelfPromptGoal)
	}
	if len(snap.Turns) == 0 {
		fmt.Fprintln(w, "No saved conversation.")
		return nil
	}
	for _, t := range snap.Turns {
		fmt.Fprintf(w, "[%s] %s: %s\n", t.Timestamp.Format("2006-01-02 15:04:05"), t.Source, t.Text)
	}
	return nil
}

// openStore opens the configured history store. The returned func releases
// it.
func openStore(cfg *config.Config) (history.Store, func(), error) {
	path := cfg.HistoryPath()
	if cfg.History.Backend == "sqlite" {
		s, err := history.OpenSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	return history.NewFileStore(path), func() {}, nil
}
