package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	presenceUser      string
	presenceConnected bool
)

var presenceCmd = &cobra.Command{
	Use:   "presence",
	Short: "Mark a user online or offline",
	Long: `presence records the user's connectivity flag and announces it on
the change feed. Offline users have their IMAP sessions stopped.`,
	RunE: runPresence,
}

func init() {
	presenceCmd.Flags().StringVar(&presenceUser, "user", "", "user id")
	presenceCmd.Flags().BoolVar(&presenceConnected, "connected", true, "whether the user is online")
	_ = presenceCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(presenceCmd)
}

func runPresence(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.pub.SetConnected(cmd.Context(), presenceUser, presenceConnected); err != nil {
		return err
	}
	state := "offline"
	if presenceConnected {
		state = "online"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is %s.\n", presenceUser, state)
	return nil
}
