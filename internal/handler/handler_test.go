package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-lock/internal/middleware"
	"github.com/iliyamo/cinema-seat-lock/internal/model"
	"github.com/iliyamo/cinema-seat-lock/internal/repository"
	"github.com/iliyamo/cinema-seat-lock/internal/seatlock"
	"github.com/iliyamo/cinema-seat-lock/internal/utils"
)

const (
	secret   = "handler-test-secret"
	showtime = uint64(42)
	alice    = uint64(1)
	bob      = uint64(2)
)

type seatList []model.Seat

func (s seatList) Seats(_ context.Context, id uint64) ([]model.Seat, error) {
	if id != showtime {
		return nil, repository.ErrShowNotFound
	}
	return append([]model.Seat(nil), s...), nil
}

func hall() seatList {
	var seats seatList
	for i := 1; i <= 6; i++ {
		seats = append(seats, model.Seat{
			Label:      "A" + strconv.Itoa(i),
			Row:        "A",
			Number:     uint32(i),
			Type:       model.SeatTypeStandard,
			PriceCents: 1200,
			Status:     model.SeatAvailable,
		})
	}
	return seats
}

// memStore is an in-memory booking store.
type memStore struct {
	mu       sync.Mutex
	nextID   uint64
	bookings map[uint64]model.Booking
	started  map[uint64]bool // showtimes that can no longer be cancelled
}

func newMemStore() *memStore {
	return &memStore{nextID: 100, bookings: make(map[uint64]model.Booking), started: make(map[uint64]bool)}
}

func (m *memStore) SaveBooking(_ context.Context, b *model.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	b.ID = m.nextID
	m.bookings[b.ID] = *b
	return nil
}

func (m *memStore) ListByUser(_ context.Context, userID uint64) ([]model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Booking{}
	for _, b := range m.bookings {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memStore) CancelForUser(_ context.Context, bookingID, userID uint64) (*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	switch {
	case !ok:
		return nil, repository.ErrBookingNotFound
	case b.UserID != userID:
		return nil, repository.ErrForbidden
	case m.started[b.ShowtimeID]:
		return nil, repository.ErrConflict
	}
	delete(m.bookings, bookingID)
	return &b, nil
}

type fakePublisher struct {
	confirmed chan model.Booking
	cancelled chan model.Booking
}

func (p *fakePublisher) BookingConfirmed(_ context.Context, b *model.Booking) error {
	p.confirmed <- *b
	return nil
}

func (p *fakePublisher) BookingCancelled(_ context.Context, b *model.Booking) error {
	p.cancelled <- *b
	return nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func quietLogger() *log.Logger {
	l := log.New("test")
	l.SetOutput(io.Discard)
	return l
}

type testEnv struct {
	e     *echo.Echo
	coord *seatlock.Coordinator
	store *memStore
	pub   *fakePublisher
	clock *testClock
	room  *RoomHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 10, 15, 19, 0, 0, 0, time.UTC)}
	coord := seatlock.New(hall(), seatlock.Options{LockTTL: 5 * time.Minute, Now: clock.Now, Logger: quietLogger()})
	store := newMemStore()
	pub := &fakePublisher{confirmed: make(chan model.Booking, 8), cancelled: make(chan model.Booking, 8)}
	env := &testEnv{
		e:     echo.New(),
		coord: coord,
		store: store,
		pub:   pub,
		clock: clock,
		room:  &RoomHandler{Coord: coord, Logger: quietLogger()},
	}
	bookings := &BookingHandler{Coord: coord, Finalizer: seatlock.NewFinalizer(coord, store), Store: store, Publisher: pub}
	seats := &SeatHandler{Coord: coord}
	auth := middleware.JWTAuth(secret)

	env.e.GET("/healthz", Health(nil, coord))
	env.e.GET("/v1/showtimes/:id/seats", seats.GetSeats)
	env.e.GET("/v1/showtimes/:id/ws", env.room.Serve, auth)
	env.e.POST("/v1/showtimes/:id/bookings", bookings.Commit, auth)
	env.e.GET("/v1/bookings", bookings.List, auth)
	env.e.DELETE("/v1/bookings/:id", bookings.Cancel, auth)
	return env
}

func bearer(t *testing.T, userID uint64) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, userID, "CUSTOMER", time.Hour)
	require.NoError(t, err)
	return tok.Token
}

func (env *testEnv) do(t *testing.T, method, path string, userID uint64, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if userID != 0 {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer(t, userID))
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// joinDirect registers a session without a websocket.
func (env *testEnv) joinDirect(t *testing.T, sessionID string, userID uint64) *seatlock.Session {
	t.Helper()
	s, _, err := env.coord.Join(context.Background(), showtime, sessionID, userID)
	require.NoError(t, err)
	return s
}

func (env *testEnv) lock(t *testing.T, sessionID string, labels ...string) {
	t.Helper()
	for _, label := range labels {
		_, err := env.coord.RequestLock(showtime, sessionID, label)
		require.NoError(t, err)
	}
}

func commitPath() string { return "/v1/showtimes/" + strconv.FormatUint(showtime, 10) + "/bookings" }

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", 0, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","rooms":0}`, rec.Body.String())
}

type failingPinger struct{}

func (failingPinger) PingContext(context.Context) error { return assert.AnError }

func TestHealth_DatabaseDown(t *testing.T) {
	e := echo.New()
	e.GET("/healthz", Health(failingPinger{}, nil))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode(t, rec)["status"])
}

func TestGetSeats(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/showtimes/42/seats", 0, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Len(t, body["seats"], 6)
	assert.Equal(t, float64(300), body["lock_ttl_seconds"])

	env.joinDirect(t, "s1", alice)
	env.lock(t, "s1", "A2")
	rec = env.do(t, http.MethodGet, "/v1/showtimes/42/seats", 0, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, []interface{}{"A2"}, body["locked_seats"])
	second := body["seats"].([]interface{})[1].(map[string]interface{})
	assert.Equal(t, "A2", second["label"])
	assert.Equal(t, SeatLocked, second["status"])
	assert.NotContains(t, rec.Body.String(), "s1", "holders are not disclosed")

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/showtimes/7/seats", 0, nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/showtimes/x/seats", 0, nil).Code)
}

func TestCommit_ScenarioC_BooksAllHeldSeats(t *testing.T) {
	env := newTestEnv(t)
	mine := env.joinDirect(t, "s1", alice)
	other := env.joinDirect(t, "s2", bob)
	env.lock(t, "s1", "A1", "A2")

	rec := env.do(t, http.MethodPost, commitPath(), alice, commitRequest{SessionID: "s1", SeatLabels: []string{"A1", "A2"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	booking := decode(t, rec)["booking"].(map[string]interface{})
	assert.Equal(t, float64(2400), booking["total_amount_cents"])
	assert.Equal(t, []interface{}{"A1", "A2"}, booking["seat_labels"])

	select {
	case b := <-env.pub.confirmed:
		assert.Equal(t, alice, b.UserID)
		assert.Equal(t, []string{"A1", "A2"}, b.SeatLabels)
	case <-time.After(2 * time.Second):
		t.Fatal("booking.confirmed not published")
	}

	assert.Empty(t, mine.Held())
	snap, err := env.coord.Peek(context.Background(), showtime)
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "A2"}, snap.BookedSeats)
	assert.Empty(t, snap.LockedSeats)
	assert.NotNil(t, other)
}

func TestCommit_Failures(t *testing.T) {
	t.Run("unauthenticated", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(t, http.MethodPost, commitPath(), 0, commitRequest{SessionID: "s1", SeatLabels: []string{"A1"}})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(t, http.MethodPost, commitPath(), alice, commitRequest{SessionID: "s1"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("session of another user", func(t *testing.T) {
		env := newTestEnv(t)
		env.joinDirect(t, "s1", alice)
		env.lock(t, "s1", "A1")
		rec := env.do(t, http.MethodPost, commitPath(), bob, commitRequest{SessionID: "s1", SeatLabels: []string{"A1"}})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown session", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(t, http.MethodPost, commitPath(), alice, commitRequest{SessionID: "gone", SeatLabels: []string{"A1"}})
		assert.Equal(t, http.StatusGone, rec.Code)
		assert.Equal(t, "session_lost", decode(t, rec)["error"])
	})

	t.Run("lock expired", func(t *testing.T) {
		env := newTestEnv(t)
		env.joinDirect(t, "s1", alice)
		env.lock(t, "s1", "A1")
		env.clock.Advance(6 * time.Minute)
		rec := env.do(t, http.MethodPost, commitPath(), alice, commitRequest{SessionID: "s1", SeatLabels: []string{"A1"}})
		assert.Equal(t, http.StatusGone, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "lock_expired", body["error"])
		seats := body["seats"].([]interface{})
		require.Len(t, seats, 1)
		assert.Equal(t, map[string]interface{}{"seat_label": "A1", "reason": "lock_expired"}, seats[0])
	})

	t.Run("seat sold meanwhile", func(t *testing.T) {
		env := newTestEnv(t)
		env.joinDirect(t, "s1", alice)
		env.lock(t, "s1", "A1", "A2")
		env.coord.MarkBooked(showtime, []string{"A2"}, 77, bob)
		rec := env.do(t, http.MethodPost, commitPath(), alice, commitRequest{SessionID: "s1", SeatLabels: []string{"A1", "A2"}})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "seat_already_booked", decode(t, rec)["error"])
		assert.Empty(t, env.store.bookings)
	})

	t.Run("already booked by you", func(t *testing.T) {
		env := newTestEnv(t)
		env.joinDirect(t, "s1", alice)
		env.lock(t, "s1", "A3")
		first := env.do(t, http.MethodPost, commitPath(), alice, commitRequest{SessionID: "s1", SeatLabels: []string{"A3"}})
		require.Equal(t, http.StatusCreated, first.Code)
		id := decode(t, first)["booking"].(map[string]interface{})["id"]

		rec := env.do(t, http.MethodPost, commitPath(), alice, commitRequest{SessionID: "s1", SeatLabels: []string{"A3"}})
		assert.Equal(t, http.StatusConflict, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "already_booked_by_you", body["error"])
		assert.Equal(t, id, body["booking_id"])
	})

	t.Run("unknown seat", func(t *testing.T) {
		env := newTestEnv(t)
		env.joinDirect(t, "s1", alice)
		rec := env.do(t, http.MethodPost, commitPath(), alice, commitRequest{SessionID: "s1", SeatLabels: []string{"Z9"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "unknown_seat", decode(t, rec)["error"])
	})
}

func TestListBookings(t *testing.T) {
	env := newTestEnv(t)
	env.store.bookings[7] = model.Booking{ID: 7, ShowtimeID: showtime, UserID: alice, SeatLabels: []string{"A5"}}
	env.store.bookings[8] = model.Booking{ID: 8, ShowtimeID: showtime, UserID: bob, SeatLabels: []string{"A6"}}

	rec := env.do(t, http.MethodGet, "/v1/bookings", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)["bookings"].([]interface{})
	require.Len(t, list, 1)
	assert.Equal(t, float64(7), list[0].(map[string]interface{})["id"])

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/v1/bookings", 0, nil).Code)
}

func TestCancelBooking_ReturnsSeatsToRoom(t *testing.T) {
	env := newTestEnv(t)
	watcher := env.joinDirect(t, "s2", bob)
	env.joinDirect(t, "s1", alice)
	env.lock(t, "s1", "A4")
	rec := env.do(t, http.MethodPost, commitPath(), alice, commitRequest{SessionID: "s1", SeatLabels: []string{"A4"}})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := uint64(decode(t, rec)["booking"].(map[string]interface{})["id"].(float64))
	<-env.pub.confirmed

	path := "/v1/bookings/" + strconv.FormatUint(id, 10)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodDelete, path, bob, nil).Code)

	rec = env.do(t, http.MethodDelete, path, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	snap, err := env.coord.Peek(context.Background(), showtime)
	require.NoError(t, err)
	assert.Empty(t, snap.BookedSeats)

	var seen []string
	for len(watcher.Events()) > 0 {
		ev := <-watcher.Events()
		seen = append(seen, string(ev.Kind)+":"+ev.SeatLabel)
	}
	assert.Equal(t, []string{"seat_locked:A4", "seat_booked:A4", "seat_released:A4"}, seen)

	select {
	case b := <-env.pub.cancelled:
		assert.Equal(t, id, b.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("booking.cancelled not published")
	}

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, path, alice, nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodDelete, "/v1/bookings/abc", alice, nil).Code)
}

func TestCancelBooking_AfterShowStarted(t *testing.T) {
	env := newTestEnv(t)
	env.store.bookings[9] = model.Booking{ID: 9, ShowtimeID: showtime, UserID: alice, SeatLabels: []string{"A1"}}
	env.store.started[showtime] = true

	rec := env.do(t, http.MethodDelete, "/v1/bookings/9", alice, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "started"))
}
