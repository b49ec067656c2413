package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/omochice/chatstream/internal/config"
	"github.com/omochice/chatstream/internal/logging"
	"github.com/omochice/chatstream/internal/server"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:           "chatstream-server",
		Short:         "Reference streaming chat backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}
			cfg, err := config.LoadServer(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}

			logger, err := logging.Init("chatstream-server", cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}

			srv := server.New(cfg.ServerConfig(), server.WithLogger(logger))

			// Handle graceful shutdown
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			errChan := make(chan error, 1)
			go func() {
				errChan <- srv.Start()
			}()

			// Wait for either error or shutdown signal
			select {
			case err := <-errChan:
				return err
			case sig := <-sigChan:
				logger.Info().Stringer("signal", sig).Msg("shutting down")
				srv.Stop()
				return <-errChan
			}
		},
	}

	cmd.Flags().StringVar(&configPath, "config", os.Getenv("CHATSTREAM_SERVER_CONFIG"), "path to a TOML config file")
	cmd.Flags().StringVar(&addr, "addr", server.DefaultAddr, "address to listen on")
	return cmd
}
