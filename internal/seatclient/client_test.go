package seatclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-lock/internal/handler"
	"github.com/iliyamo/cinema-seat-lock/internal/model"
	"github.com/iliyamo/cinema-seat-lock/internal/reconcile"
	"github.com/iliyamo/cinema-seat-lock/internal/repository"
	"github.com/iliyamo/cinema-seat-lock/internal/router"
	"github.com/iliyamo/cinema-seat-lock/internal/seatlock"
	"github.com/iliyamo/cinema-seat-lock/internal/utils"
)

const (
	secret   = "client-test-secret"
	showtime = uint64(9)
)

type seatMap struct{}

func (seatMap) Seats(_ context.Context, id uint64) ([]model.Seat, error) {
	if id != showtime {
		return nil, repository.ErrShowNotFound
	}
	var seats []model.Seat
	for i := 1; i <= 4; i++ {
		seats = append(seats, model.Seat{
			Label: "C" + strconv.Itoa(i), Row: "C", Number: uint32(i),
			Type: model.SeatTypeStandard, PriceCents: 900, Status: model.SeatAvailable,
		})
	}
	return seats, nil
}

type bookingBook struct {
	mu       sync.Mutex
	next     uint64
	bookings []model.Booking
}

func (s *bookingBook) SaveBooking(_ context.Context, b *model.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	b.ID = s.next
	s.bookings = append(s.bookings, *b)
	return nil
}

func (s *bookingBook) ListByUser(_ context.Context, userID uint64) ([]model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Booking{}
	for _, b := range s.bookings {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *bookingBook) CancelForUser(context.Context, uint64, uint64) (*model.Booking, error) {
	return nil, repository.ErrBookingNotFound
}

func quiet() *log.Logger {
	l := log.New("test")
	l.SetOutput(io.Discard)
	return l
}

func newServer(t *testing.T) (*httptest.Server, *seatlock.Coordinator) {
	t.Helper()
	coord := seatlock.New(seatMap{}, seatlock.Options{Logger: quiet()})
	store := &bookingBook{}
	e := echo.New()
	router.RegisterRoutes(e, router.Routes{
		Health: handler.Health(nil, coord),
		Seats:  &handler.SeatHandler{Coord: coord},
		Room:   &handler.RoomHandler{Coord: coord, Logger: quiet()},
		Bookings: &handler.BookingHandler{
			Coord:     coord,
			Finalizer: seatlock.NewFinalizer(coord, store),
			Store:     store,
		},
		JWTSecret: secret,
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv, coord
}

func connect(t *testing.T, baseURL string, userID uint64) *Client {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, userID, "CUSTOMER", time.Hour)
	require.NoError(t, err)
	c := New(showtime, Options{
		BaseURL:        baseURL,
		Token:          tok.Token,
		UserID:         userID,
		ReconnectDelay: 20 * time.Millisecond,
		Logger:         quiet(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, c.Board().Synced, 3*time.Second, 10*time.Millisecond)
	return c
}

func stateOf(c *Client, label string) reconcile.State {
	st, _ := c.Board().State(label)
	return st
}

func TestClient_SelectCommitAcrossDevices(t *testing.T) {
	srv, _ := newServer(t)
	alice := connect(t, srv.URL, 1)
	bob := connect(t, srv.URL, 2)

	require.NoError(t, alice.Select("C1"))
	require.NoError(t, alice.Select("C2"))
	require.Eventually(t, func() bool { return len(alice.Board().Mine()) == 2 }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return stateOf(bob, "C1") == reconcile.LockedByOther && stateOf(bob, "C2") == reconcile.LockedByOther
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint32(1800), alice.Board().Total())

	// a seat locked by someone else cannot be picked
	assert.ErrorIs(t, bob.Select("C1"), reconcile.ErrNotSelectable)

	b, err := alice.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"C1", "C2"}, b.SeatLabels)
	assert.Equal(t, uint32(1800), b.TotalAmountCents)

	require.Eventually(t, func() bool {
		return stateOf(bob, "C1") == reconcile.Booked && stateOf(alice, "C2") == reconcile.Booked
	}, 3*time.Second, 10*time.Millisecond)

	list, err := alice.Bookings(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)
}

func TestClient_DeselectReleasesForOthers(t *testing.T) {
	srv, _ := newServer(t)
	alice := connect(t, srv.URL, 1)
	bob := connect(t, srv.URL, 2)

	require.NoError(t, alice.Select("C3"))
	require.Eventually(t, func() bool { return stateOf(bob, "C3") == reconcile.LockedByOther }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.Deselect("C3"))
	assert.Equal(t, reconcile.Available, stateOf(alice, "C3"))
	require.Eventually(t, func() bool { return stateOf(bob, "C3") == reconcile.Available }, 3*time.Second, 10*time.Millisecond)
}

func TestClient_LeaveThenRejoin(t *testing.T) {
	srv, _ := newServer(t)
	alice := connect(t, srv.URL, 1)
	bob := connect(t, srv.URL, 2)
	first := alice.Board().SessionID()

	require.NoError(t, alice.Select("C2"))
	require.Eventually(t, func() bool { return len(alice.Board().Mine()) == 1 }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return stateOf(bob, "C2") == reconcile.LockedByOther }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.Leave())
	assert.Empty(t, alice.Board().Mine())
	assert.False(t, alice.Board().Synced())
	assert.Equal(t, reconcile.Available, stateOf(alice, "C2"))
	_, err := alice.Commit(context.Background())
	assert.ErrorIs(t, err, ErrNothingSelected)
	require.Eventually(t, func() bool { return stateOf(bob, "C2") == reconcile.Available }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.Resync())
	require.Eventually(t, alice.Board().Synced, 3*time.Second, 10*time.Millisecond)
	assert.NotEqual(t, first, alice.Board().SessionID())

	require.NoError(t, alice.Select("C2"))
	require.Eventually(t, func() bool { return len(alice.Board().Mine()) == 1 }, 3*time.Second, 10*time.Millisecond)
	b, err := alice.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"C2"}, b.SeatLabels)
}

func TestClient_CommitErrors(t *testing.T) {
	srv, _ := newServer(t)
	alice := connect(t, srv.URL, 1)

	_, err := alice.Commit(context.Background())
	assert.ErrorIs(t, err, ErrNothingSelected)

	_, err = alice.Cancel(context.Background(), 55)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "booking not found", apiErr.Code)
}

func TestClient_ReconnectsAfterFailedDial(t *testing.T) {
	srv, _ := newServer(t)
	var attempts int32
	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		srv.Config.Handler.ServeHTTP(w, r)
	}))
	defer flaky.Close()

	c := connect(t, flaky.URL, 1)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(3))
	assert.NotEmpty(t, c.Board().SessionID())
}

func TestClient_RunStopsWithContext(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer down.Close()

	c := New(showtime, Options{BaseURL: down.URL, Token: "x", ReconnectDelay: 10 * time.Millisecond, Logger: quiet()})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Run(ctx), context.DeadlineExceeded)
	assert.False(t, c.Board().Synced())
}

func TestClient_NotConnected(t *testing.T) {
	c := New(showtime, Options{BaseURL: "http://127.0.0.1:1", Logger: quiet()})
	assert.ErrorIs(t, c.Select("C1"), reconcile.ErrNotSynced)
	assert.ErrorIs(t, c.Resync(), ErrNotConnected)
}
