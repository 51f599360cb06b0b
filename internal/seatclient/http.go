package seatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/iliyamo/cinema-seat-lock/internal/model"
)

// SeatFailure is one seat a commit could not book.
type SeatFailure struct {
	Label  string `json:"seat_label"`
	Reason string `json:"reason"`
}

// APIError is a non-2xx answer of the booking API.
type APIError struct {
	Status    int           `json:"-"`
	Code      string        `json:"error"`
	BookingID uint64        `json:"booking_id"`
	Seats     []SeatFailure `json:"seats"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("booking api: %d %s", e.Status, e.Code)
}

func roomPath(showtimeID uint64) string {
	return "/v1/showtimes/" + strconv.FormatUint(showtimeID, 10) + "/ws"
}

// Commit books every seat the board shows as Mine under the current
// session.  On a conflict the *APIError lists the failing seats.
func (c *Client) Commit(ctx context.Context) (*model.Booking, error) {
	labels := c.board.Mine()
	if len(labels) == 0 {
		return nil, ErrNothingSelected
	}
	body := map[string]interface{}{
		"session_id":  c.board.SessionID(),
		"seat_labels": labels,
	}
	var out struct {
		Booking model.Booking `json:"booking"`
	}
	path := "/v1/showtimes/" + strconv.FormatUint(c.showtimeID, 10) + "/bookings"
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out.Booking, nil
}

// Bookings lists the caller's bookings, most recent first.
func (c *Client) Bookings(ctx context.Context) ([]model.Booking, error) {
	var out struct {
		Bookings []model.Booking `json:"bookings"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/bookings", nil, &out); err != nil {
		return nil, err
	}
	return out.Bookings, nil
}

// Cancel cancels one of the caller's bookings.
func (c *Client) Cancel(ctx context.Context, bookingID uint64) (*model.Booking, error) {
	var out struct {
		Booking model.Booking `json:"booking"`
	}
	if err := c.do(ctx, http.MethodDelete, "/v1/bookings/"+strconv.FormatUint(bookingID, 10), nil, &out); err != nil {
		return nil, err
	}
	return &out.Booking, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.opts.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
