package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/martinemde/blockbot/agentloop"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config and profile without connecting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			profile := agentloop.DefaultProfile(cfg.Agent.Name)
			if cfg.Agent.Profile != "" {
				if profile, err = agentloop.LoadProfile(cfg.Agent.Profile, cfg.Agent.Name); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config OK: %s\n", opts.configPath)
			fmt.Fprintf(out, "  agent:       %s\n", profile.Name)
			fmt.Fprintf(out, "  model:       %s/%s\n", cfg.LLM.Provider, modelFor(cfg.LLM.Provider, profile.Model, cfg.LLM.Model))
			fmt.Fprintf(out, "  safety:      %s/%s\n", cfg.SafetyProvider(), modelFor(cfg.SafetyProvider(), cfg.Safety.Model))
			fmt.Fprintf(out, "  budget:      %s\n", agentloop.BudgetFromConfig(cfg.Agent.MaxCommands))
			fmt.Fprintf(out, "  history:     %s (%s)\n", cfg.HistoryPath(), cfg.History.Backend)
			fmt.Fprintf(out, "  environment: %s\n", cfg.Environment.URL)
			return nil
		},
	}
}
