package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	notificationsUser string
	notificationsKeep bool
)

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Print unread notifications and mark them read",
	RunE:  runNotifications,
}

func init() {
	notificationsCmd.Flags().StringVar(&notificationsUser, "user", "", "user id")
	notificationsCmd.Flags().BoolVar(&notificationsKeep, "keep", false, "leave notifications unread")
	_ = notificationsCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(notificationsCmd)
}

func runNotifications(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	notes, err := st.GetUnreadNotifications(ctx, notificationsUser)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(notes) == 0 {
		fmt.Fprintln(out, "No unread notifications.")
		return nil
	}
	for _, n := range notes {
		fmt.Fprintf(out, "[%s] %s %s\n", n.CreatedAt.Local().Format("Jan 2 15:04"), n.Kind, n.Message)
		if notificationsKeep {
			continue
		}
		if err := st.MarkNotificationRead(ctx, n.ID); err != nil {
			return err
		}
	}
	return nil
}
