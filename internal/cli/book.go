package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/cinema-seat-lock/internal/model"
	"github.com/iliyamo/cinema-seat-lock/internal/protocol"
	"github.com/iliyamo/cinema-seat-lock/internal/seatclient"
)

func newBookCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "book <showtime-id> <seat>...",
		Short: "Lock the given seats and book them in one commit",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			showtimeID, err := parseID(args[0], "showtime id")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()
			b, err := book(ctx, newClient(showtimeID), args[1:])
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(cmd.OutOrStdout(), b)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "booking %d: %v total %s\n", b.ID, b.SeatLabels, formatCents(b.TotalAmountCents))
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "give up when the seats are not held within this time")
	return cmd
}

// book joins the room, requests every seat and commits once the server
// has answered all requests.  A failed lock aborts before committing.
// A reconnect starts over, since locks die with the old session.
func book(ctx context.Context, c *seatclient.Client, seats []string) (*model.Booking, error) {
	seats = dedup(seats)
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = c.Run(runCtx) }()

	var failures map[string]string
	var answered map[string]bool
	for answered == nil || len(answered) < len(seats) || !c.Board().Synced() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for seat locks: %w", ctx.Err())
		case msg := <-c.Updates():
			switch msg.Type {
			case protocol.TypeInitialLocks:
				failures = make(map[string]string)
				answered = make(map[string]bool)
				for _, s := range seats {
					if err := c.Select(s); err != nil {
						failures[s] = err.Error()
						answered[s] = true
					}
				}
			case protocol.TypeLockGranted:
				if answered != nil {
					answered[msg.SeatLabel] = true
				}
			case protocol.TypeLockFailed:
				if answered != nil {
					failures[msg.SeatLabel] = msg.Reason
					answered[msg.SeatLabel] = true
				}
			}
		}
	}
	if len(failures) > 0 {
		return nil, fmt.Errorf("could not hold seats: %v", failures)
	}

	b, err := c.Commit(ctx)
	var apiErr *seatclient.APIError
	if errors.As(err, &apiErr) && len(apiErr.Seats) > 0 {
		return nil, fmt.Errorf("%s: %v", apiErr.Code, apiErr.Seats)
	}
	return b, err
}

func dedup(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	out := labels[:0:0]
	for _, l := range labels {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out
}
