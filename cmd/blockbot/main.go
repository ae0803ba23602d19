// Command blockbot runs a conversational Minecraft agent.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/martinemde/blockbot/agentloop"
	"github.com/martinemde/blockbot/config"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "blockbot",
		Short: "A conversational Minecraft agent",
		Long: `blockbot connects a language model to a Minecraft bot. Players talk to it
in chat; it answers, runs commands that pass a safety review, and can work
toward a standing goal on its own.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "blockbot.yaml", "path to the config file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(newRunCmd(opts), newHistoryCmd(opts), newCheckCmd(opts))
	return root
}

// loadConfig reads and validates the config named by the root flags.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s:\n%w", o.configPath, err)
	}
	return cfg, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, agentloop.ErrEnvironmentDisconnect) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
