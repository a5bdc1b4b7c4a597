package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newSessionsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored conversations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored conversations, current one marked with *",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			sessions := s.widget.Store.Sessions()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "no conversations")
				return nil
			}
			current := s.widget.Store.CurrentSessionId()
			for _, session := range sessions {
				printSessionLine(out, session, session.Id == current)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete one conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid session id %q: %w", args[0], err)
			}
			s, err := opts.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.widget.Controller.DeleteSession(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.widget.Controller.ClearAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "all conversations deleted")
			return nil
		},
	})

	return cmd
}
