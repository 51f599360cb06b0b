// Package seatlock arbitrates soft seat locks for showtime rooms and
// turns held locks into durable bookings.
//
// Every showtime has at most one live room.  All reads and writes of a
// room's seat registry, lock table and session list happen under the
// room mutex, so a lock request, an expiry sweep and a booking commit
// for the same seat can never interleave.  Rooms are independent of
// each other and are served fully in parallel.
package seatlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/cinema-seat-lock/internal/model"
)

// SeatProvider provisions the seat map of a showtime, including the
// committed status of every seat.
type SeatProvider interface {
	Seats(ctx context.Context, showtimeID uint64) ([]model.Seat, error)
}

// Logger is the structured subset of the Echo / gommon logger used by
// the coordinator.
type Logger interface {
	Infoj(j log.JSON)
	Warnj(j log.JSON)
}

// Options tunes a Coordinator.  Zero values fall back to the defaults
// below.
type Options struct {
	LockTTL        time.Duration    // lifetime of an unconfirmed lock
	SweepInterval  time.Duration    // period of the expiry sweeper in Run
	SessionTimeout time.Duration    // silence after which a session is dropped; 0 disables
	OutboxSize     int              // per-session event buffer
	Now            func() time.Time // clock, UTC
	Logger         Logger
}

const (
	DefaultLockTTL       = 5 * time.Minute
	DefaultSweepInterval = time.Second
	DefaultOutboxSize    = 64
)

// Coordinator is the single authority for every showtime room served
// by this process.
type Coordinator struct {
	provider SeatProvider
	opts     Options

	mu    sync.Mutex
	rooms map[uint64]*room
}

// New builds a Coordinator that loads seat maps from provider.
func New(provider SeatProvider, opts Options) *Coordinator {
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = DefaultOutboxSize
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Logger == nil {
		opts.Logger = log.New("seatlock")
	}
	return &Coordinator{provider: provider, opts: opts, rooms: make(map[uint64]*room)}
}

// LockTTL returns the configured lock lifetime.
func (c *Coordinator) LockTTL() time.Duration { return c.opts.LockTTL }

func (c *Coordinator) now() time.Time { return c.opts.Now() }

// lookup returns the live room of a showtime with its mutex held, or
// nil when no room exists.
func (c *Coordinator) lookup(showtimeID uint64) *room {
	for {
		c.mu.Lock()
		r := c.rooms[showtimeID]
		c.mu.Unlock()
		if r == nil {
			return nil
		}
		r.mu.Lock()
		if !r.closed {
			return r
		}
		r.mu.Unlock()
		c.forget(r)
	}
}

// open is lookup that creates the room on first use.  The seat map is
// loaded outside the coordinator mutex so a slow provider only delays
// the showtime being opened.
func (c *Coordinator) open(ctx context.Context, showtimeID uint64) (*room, error) {
	for {
		if r := c.lookup(showtimeID); r != nil {
			return r, nil
		}
		seats, err := c.provider.Seats(ctx, showtimeID)
		if err != nil {
			return nil, fmt.Errorf("load seats for showtime %d: %w", showtimeID, err)
		}
		fresh := newRoom(showtimeID, seats, c.opts.LockTTL, c.opts.Logger)
		c.mu.Lock()
		if _, exists := c.rooms[showtimeID]; !exists {
			c.rooms[showtimeID] = fresh
		}
		c.mu.Unlock()
	}
}

func (c *Coordinator) forget(r *room) {
	c.mu.Lock()
	if c.rooms[r.showtimeID] == r {
		delete(c.rooms, r.showtimeID)
	}
	c.mu.Unlock()
}

// enter locks the room of a session.  The caller must release it with
// exit.
func (c *Coordinator) enter(showtimeID uint64, sessionID string) (*room, *Session, error) {
	r := c.lookup(showtimeID)
	if r == nil {
		return nil, nil, ErrSessionLost
	}
	s, ok := r.sessions[sessionID]
	if !ok {
		c.exit(r)
		return nil, nil, ErrSessionLost
	}
	return r, s, nil
}

func (c *Coordinator) exit(r *room) {
	closed := r.closed
	r.mu.Unlock()
	if closed {
		c.forget(r)
	}
}

// Join registers a session in the showtime room, creating the room on
// first use, and returns the snapshot the client builds its view from.
// Joining again with a live session id is a resync: the locks held by
// the session are kept and reported in Snapshot.HeldSeats.
func (c *Coordinator) Join(ctx context.Context, showtimeID uint64, sessionID string, userID uint64) (*Session, Snapshot, error) {
	if showtimeID == 0 || sessionID == "" || userID == 0 {
		return nil, Snapshot{}, ErrMalformed
	}
	r, err := c.open(ctx, showtimeID)
	if err != nil {
		return nil, Snapshot{}, err
	}
	defer c.exit(r)
	now := c.now()
	r.expireLocked(now)

	if s, ok := r.sessions[sessionID]; ok {
		if s.UserID != userID {
			return nil, Snapshot{}, ErrMalformed
		}
		s.lastSeen = now
		return s, r.snapshotLocked(s.ID), nil
	}
	s := &Session{
		ID:         sessionID,
		UserID:     userID,
		ShowtimeID: showtimeID,
		room:       r,
		events:     make(chan Event, c.opts.OutboxSize),
		held:       make(map[string]struct{}),
		lastSeen:   now,
	}
	r.sessions[sessionID] = s
	c.opts.Logger.Infoj(log.JSON{
		"event":       "session_joined",
		"showtime_id": showtimeID,
		"session_id":  sessionID,
		"user_id":     userID,
		"sessions":    len(r.sessions),
	})
	return s, r.snapshotLocked(sessionID), nil
}

// Resync returns a fresh snapshot for a live session.
func (c *Coordinator) Resync(showtimeID uint64, sessionID string) (Snapshot, error) {
	r, s, err := c.enter(showtimeID, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	defer c.exit(r)
	now := c.now()
	r.expireLocked(now)
	s.lastSeen = now
	return r.snapshotLocked(sessionID), nil
}

// RequestLock asks for a soft lock on one seat.  The first valid request
// wins; a seat held by another session fails immediately with
// ErrSeatUnavailable and nothing is queued.  Requesting a seat the
// session already holds only refreshes the deadline.
func (c *Coordinator) RequestLock(showtimeID uint64, sessionID, label string) (model.Lock, error) {
	if label == "" {
		return model.Lock{}, seatErr(label, ErrMalformed)
	}
	r, s, err := c.enter(showtimeID, sessionID)
	if err != nil {
		return model.Lock{}, seatErr(label, err)
	}
	defer c.exit(r)
	now := c.now()
	r.expireLocked(now)
	if s.closed {
		return model.Lock{}, seatErr(label, ErrSessionLost)
	}
	s.lastSeen = now

	seat, ok := r.seats.get(label)
	if !ok {
		return model.Lock{}, seatErr(label, ErrUnknownSeat)
	}
	if seat.Booked() {
		return model.Lock{}, seatErr(label, ErrSeatAlreadyBooked)
	}
	if cur, held := r.locks.get(label); held {
		if cur.HolderSessionID != sessionID {
			return model.Lock{}, seatErr(label, ErrSeatUnavailable)
		}
		cur.ExpiresAt = now.Add(c.opts.LockTTL)
		r.locks.put(cur)
		return cur, nil
	}

	l := model.Lock{
		SeatLabel:       label,
		HolderSessionID: sessionID,
		HolderUserID:    s.UserID,
		AcquiredAt:      now,
		ExpiresAt:       now.Add(c.opts.LockTTL),
	}
	// Grant before storing: a requester evicted on a full outbox never
	// holds the seat, so the room sees neither seat_locked nor seat_released.
	grant := Event{Kind: EventLockGranted, ShowtimeID: r.showtimeID, SeatLabel: label, ExpiresAt: l.ExpiresAt}
	if !s.send(grant) {
		r.dropLocked(s, ErrSessionLost)
		return model.Lock{}, seatErr(label, ErrSessionLost)
	}
	r.locks.put(l)
	s.held[label] = struct{}{}
	r.broadcastLocked(Event{Kind: EventSeatLocked, SeatLabel: label}, sessionID)
	return l, nil
}

// ReleaseLock drops the session's lock on a seat.  It is a no-op
// returning false when the session does not hold that seat.
func (c *Coordinator) ReleaseLock(showtimeID uint64, sessionID, label string) (bool, error) {
	r, s, err := c.enter(showtimeID, sessionID)
	if err != nil {
		return false, seatErr(label, err)
	}
	defer c.exit(r)
	now := c.now()
	r.expireLocked(now)
	s.lastSeen = now
	l, ok := r.locks.get(label)
	if !ok || l.HolderSessionID != sessionID {
		return false, nil
	}
	r.releaseLocked(l)
	return true, nil
}

// Touch records a heartbeat for the session.
func (c *Coordinator) Touch(showtimeID uint64, sessionID string) error {
	r, s, err := c.enter(showtimeID, sessionID)
	if err != nil {
		return err
	}
	s.lastSeen = c.now()
	c.exit(r)
	return nil
}

// SessionOwner returns the user a live session belongs to.
func (c *Coordinator) SessionOwner(showtimeID uint64, sessionID string) (uint64, error) {
	r, s, err := c.enter(showtimeID, sessionID)
	if err != nil {
		return 0, err
	}
	defer c.exit(r)
	return s.UserID, nil
}

// Leave removes the session from its room, releasing every lock it
// holds.  Leaving twice is harmless.
func (c *Coordinator) Leave(showtimeID uint64, sessionID string) {
	r, s, err := c.enter(showtimeID, sessionID)
	if err != nil {
		return
	}
	r.dropLocked(s, nil)
	held := len(r.sessions)
	c.exit(r)
	c.opts.Logger.Infoj(log.JSON{
		"event":       "session_left",
		"showtime_id": showtimeID,
		"session_id":  sessionID,
		"sessions":    held,
	})
}

// ExpireStale releases every lock whose deadline has passed and drops
// sessions silent for longer than the session timeout, in every room.
// It returns the number of locks released by expiry.
func (c *Coordinator) ExpireStale() int {
	c.mu.Lock()
	ids := make([]uint64, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	total := 0
	for _, id := range ids {
		r := c.lookup(id)
		if r == nil {
			continue
		}
		now := c.now()
		total += r.expireLocked(now)
		if c.opts.SessionTimeout > 0 {
			r.reapLocked(now.Add(-c.opts.SessionTimeout))
		}
		c.exit(r)
	}
	return total
}

// Run sweeps all rooms every SweepInterval until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	t := time.NewTicker(c.opts.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.ExpireStale()
		}
	}
}

// Peek returns the current seat map of a showtime without joining it.
// When no room is live the map is read straight from the provider.
func (c *Coordinator) Peek(ctx context.Context, showtimeID uint64) (Snapshot, error) {
	if r := c.lookup(showtimeID); r != nil {
		defer c.exit(r)
		r.expireLocked(c.now())
		return r.snapshotLocked(""), nil
	}
	seats, err := c.provider.Seats(ctx, showtimeID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load seats for showtime %d: %w", showtimeID, err)
	}
	reg := newRegistry(seats)
	return Snapshot{
		ShowtimeID:  showtimeID,
		LockedSeats: []string{},
		HeldSeats:   []string{},
		BookedSeats: reg.booked(),
		Seats:       reg.list(),
		LockTTL:     c.opts.LockTTL,
	}, nil
}

// MarkBooked applies a booking committed outside the room.  Locks on the
// seats are invalidated and the room is told the seats are gone.
func (c *Coordinator) MarkBooked(showtimeID uint64, labels []string, bookingID, userID uint64) {
	r := c.lookup(showtimeID)
	if r == nil {
		return
	}
	defer c.exit(r)
	for _, label := range labels {
		if seat, ok := r.seats.get(label); ok && !seat.Booked() {
			r.bookLocked(label, bookingID, userID)
		}
	}
}

// ReleaseBooked returns the seats of a cancelled booking to the room as
// available.  Seats sold under another or an unrecorded booking are left
// alone; a bookingID of 0 releases any sold seat in labels.
func (c *Coordinator) ReleaseBooked(showtimeID, bookingID uint64, labels []string) {
	r := c.lookup(showtimeID)
	if r == nil {
		return
	}
	defer c.exit(r)
	var released []string
	for _, label := range labels {
		seat, ok := r.seats.get(label)
		if !ok || !seat.Booked() {
			continue
		}
		if bookingID != 0 && seat.BookingID != bookingID {
			continue
		}
		r.seats.markAvailable(label)
		r.broadcastLocked(Event{Kind: EventSeatReleased, SeatLabel: label}, "")
		released = append(released, label)
	}
	c.opts.Logger.Infoj(log.JSON{
		"event":       "booking_cancelled",
		"showtime_id": showtimeID,
		"booking_id":  bookingID,
		"seats":       released,
	})
}

// Rooms returns the number of live rooms.
func (c *Coordinator) Rooms() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rooms)
}
