package main

import (
	"fmt"

	"github.com/omochice/chatstream/internal/session"
	"github.com/spf13/cobra"
)

func newSessionCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or reset the persisted session id",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored session id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			store, err := session.OpenBoltStore(cfg.StorePath, session.Namespace, session.DefaultOpenTimeout)
			if err != nil {
				return err
			}
			defer store.Close()

			id, found, err := store.Get(cmd.Context(), session.Key)
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintln(cmd.OutOrStdout(), "no session yet")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget the session id; the next chat starts a new conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			store, err := session.OpenBoltStore(cfg.StorePath, session.Namespace, session.DefaultOpenTimeout)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := session.NewIdentity(store).Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "session cleared")
			return nil
		},
	})

	return cmd
}
