package main

import (
	"fmt"
	"os"

	"github.com/omochice/chatstream/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// options are the flags shared by every subcommand.
type options struct {
	configPath string
	endpoint   string
	storePath  string
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "chatstream",
		Short:         "Chat with a streaming backend over a persistent websocket",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("CHATSTREAM_CONFIG"), "path to a TOML config file")
	root.PersistentFlags().StringVar(&opts.endpoint, "endpoint", "", "backend base URL (overrides config)")
	root.PersistentFlags().StringVar(&opts.storePath, "store", "", "session database path (overrides config)")

	root.AddCommand(newChatCommand(opts), newSessionCommand(opts))
	return root
}

// load resolves the client config with flag overrides applied last.
func (o *options) load() (config.Client, error) {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	cfg, err := config.LoadClient(o.configPath)
	if err != nil {
		return config.Client{}, err
	}
	if o.endpoint != "" {
		cfg.Endpoint = o.endpoint
	}
	if o.storePath != "" {
		cfg.StorePath = o.storePath
	}
	return cfg, cfg.Validate()
}
