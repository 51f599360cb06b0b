package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iliyamo/cinema-seat-lock/internal/protocol"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <showtime-id>",
		Short: "Follow the live seat map of a showtime",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			showtimeID, err := parseID(args[0], "showtime id")
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c := newClient(showtimeID)
			errc := make(chan error, 1)
			go func() { errc <- c.Run(ctx) }()

			out := cmd.OutOrStdout()
			for {
				select {
				case err := <-errc:
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				case msg := <-c.Updates():
					if jsonOutput {
						_ = outputJSON(out, msg)
						continue
					}
					if msg.Type == protocol.TypeInitialLocks {
						fmt.Fprintf(out, "joined showtime %d as session %s\n", showtimeID, msg.SessionID)
					}
					if msg.Type == protocol.TypePong {
						continue
					}
					renderBoard(out, c.Board())
				}
			}
		},
	}
}
