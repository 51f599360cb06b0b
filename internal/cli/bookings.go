package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/cinema-seat-lock/internal/seatclient"
)

func newBookingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bookings",
		Short: "List your bookings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := seatclient.New(0, seatclient.Options{BaseURL: serverURL, Token: token}).Bookings(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(cmd.OutOrStdout(), list)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSHOWTIME\tSEATS\tTOTAL\tBOOKED AT")
			for _, b := range list {
				fmt.Fprintf(tw, "%d\t%d\t%v\t%s\t%s\n", b.ID, b.ShowtimeID, b.SeatLabels, formatCents(b.TotalAmountCents), b.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <booking-id>",
		Short: "Cancel one of your bookings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "booking id")
			if err != nil {
				return err
			}
			b, err := seatclient.New(0, seatclient.Options{BaseURL: serverURL, Token: token}).Cancel(cmd.Context(), id)
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(cmd.OutOrStdout(), b)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "booking %d cancelled, seats %v released\n", b.ID, b.SeatLabels)
			return nil
		},
	}
}
