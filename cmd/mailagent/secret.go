package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nhle/mailagent/internal/credential"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage secrets in the OS keyring",
	Long: `Secrets are stored under these keys:

  imap-<user_id>       incoming mailbox password
  smtp-<user_id>       outgoing mailbox password
  mail-api-<user_id>   mail API key
  claude-api-key       Anthropic API key`,
}

var secretSetCmd = &cobra.Command{
	Use:   "set <key>",
	Short: "Store a secret read from stdin",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretSet,
}

var secretDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Remove a secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretDelete,
}

func init() {
	secretCmd.AddCommand(secretSetCmd, secretDeleteCmd)
	rootCmd.AddCommand(secretCmd)
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	value, err := readSecret(cmd.InOrStdin())
	if err != nil {
		return err
	}
	vault, err := credential.Open()
	if err != nil {
		return err
	}
	if err := vault.Set(args[0], value); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stored %s.\n", args[0])
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	vault, err := credential.Open()
	if err != nil {
		return err
	}
	if err := vault.Delete(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s.\n", args[0])
	return nil
}

// readSecret returns the first line of r without its line ending.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty secret on stdin")
	}
	return line, nil
}
