package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func schemaCMD(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create constraints and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := open(cmd.Context())
			if err != nil {
				return err
			}
			if err := b.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema ready")
			return nil
		},
	}
}

func usersCMD(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List user ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := open(cmd.Context())
			if err != nil {
				return err
			}
			users, err := b.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			for _, u := range users {
				fmt.Fprintln(cmd.OutOrStdout(), u)
			}
			return nil
		},
	}
}

func sessionsCMD(open opener) *cobra.Command {
	var userID string
	sessions := &cobra.Command{
		Use:   "sessions",
		Short: "List recent sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := open(cmd.Context())
			if err != nil {
				return err
			}
			list, err := b.ListSessions(cmd.Context(), userID)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tTOPIC\tMESSAGES\tLAST MESSAGE")
			for _, s := range list {
				count, err := b.CountMessages(cmd.Context(), s.SessionID)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.SessionID, clip(s.Topic, 40), count, clip(s.LastMessage, 60))
			}
			return w.Flush()
		},
	}
	sessions.Flags().StringVar(&userID, "user", "", "only sessions of this user")
	return sessions
}

func topicCMD(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "topic <session-id>",
		Short: "Show a session's topic state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := open(cmd.Context())
			if err != nil {
				return err
			}
			s, err := b.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session:        %s\n", s.ID)
			fmt.Fprintf(out, "topic:          %s\n", s.Topic)
			fmt.Fprintf(out, "previous topic: %s\n", s.PreviousTopic)
			if !s.TopicChangedAt.IsZero() {
				fmt.Fprintf(out, "changed at:     %s\n", s.TopicChangedAt.Format(time.RFC3339))
			}
			fmt.Fprintf(out, "user:           %s\n", s.UserID)
			fmt.Fprintf(out, "messages:       %d\n", s.MessageCount)
			return nil
		},
	}
}

func deleteSessionCMD(open opener) *cobra.Command {
	var yes bool
	del := &cobra.Command{
		Use:   "delete-session <session-id>",
		Short: "Delete a session and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete session %s without --yes", args[0])
			}
			b, err := open(cmd.Context())
			if err != nil {
				return err
			}
			res, err := b.DeleteSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d session(s), %d message(s)\n", res.Sessions, res.Messages)
			return nil
		},
	}
	del.Flags().BoolVar(&yes, "yes", false, "confirm the delete")
	return del
}

func deleteUserCMD(open opener) *cobra.Command {
	var yes bool
	del := &cobra.Command{
		Use:   "delete-user <user-id>",
		Short: "Delete a user with all sessions and messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete user %s without --yes", args[0])
			}
			b, err := open(cmd.Context())
			if err != nil {
				return err
			}
			res, err := b.DeleteUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d session(s), %d message(s)\n", res.Sessions, res.Messages)
			return nil
		},
	}
	del.Flags().BoolVar(&yes, "yes", false, "confirm the delete")
	return del
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
