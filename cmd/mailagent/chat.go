package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nhle/mailagent/internal/email/actions"
)

var chatRoom string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the email assistant from the terminal",
	Long: `chat starts the configured mailboxes and reads requests from stdin,
one per line. Type "exit" to leave.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatRoom, "room", "", "room to talk in (defaults to the first mailbox)")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	gen, err := a.generator()
	if err != nil {
		return err
	}
	boxes, err := a.mailboxes(gen)
	if err != nil {
		return err
	}

	box := boxes[0]
	if chatRoom != "" {
		box = nil
		for _, b := range boxes {
			if b.cfg.RoomID == chatRoom {
				box = b
				break
			}
		}
		if box == nil {
			return fmt.Errorf("no mailbox for room %q", chatRoom)
		}
	}

	sup := a.supervisor(boxes)
	if err := sup.Start(ctx); err != nil {
		a.log.Warn().Err(err).Msg("some mailboxes failed to start")
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		sup.Stop(stopCtx)
	}()

	return chatLoop(ctx, box.workflow, box.cfg.RoomID, cmd.InOrStdin(), cmd.OutOrStdout())
}

// handler answers one request in a room.
type handler interface {
	Handle(ctx context.Context, req actions.Request) actions.Response
}

func chatLoop(ctx context.Context, h handler, roomID string, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		fmt.Fprint(out, "> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(l)
		}

		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		resp := h.Handle(ctx, actions.Request{RoomID: roomID, Text: line})
		fmt.Fprintln(out, resp.Text)
	}
}
