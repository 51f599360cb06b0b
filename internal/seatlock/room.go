package seatlock

import (
	"sort"
	"sync"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/cinema-seat-lock/internal/model"
)

// room is the live coordination context of one showtime.  Every field
// below mu is guarded by it; the seat registry and the lock table are
// never touched outside that critical section.
type room struct {
	showtimeID uint64
	ttl        time.Duration
	log        Logger

	mu       sync.Mutex
	seats    *registry
	locks    *lockTable
	sessions map[string]*Session
	closed   bool // set once the last session left; the room is then discarded
}

func newRoom(showtimeID uint64, seats []model.Seat, ttl time.Duration, logger Logger) *room {
	return &room{
		showtimeID: showtimeID,
		ttl:        ttl,
		log:        logger,
		seats:      newRegistry(seats),
		locks:      newLockTable(),
		sessions:   make(map[string]*Session),
	}
}

// Snapshot is the full room state handed to a session on join or
// resync.  LockedSeats excludes the seats held by the session itself,
// which are listed in HeldSeats.
type Snapshot struct {
	ShowtimeID  uint64
	SessionID   string
	LockedSeats []string
	HeldSeats   []string
	BookedSeats []string
	Seats       []model.Seat
	LockTTL     time.Duration
}

func (r *room) snapshotLocked(sessionID string) Snapshot {
	snap := Snapshot{
		ShowtimeID:  r.showtimeID,
		SessionID:   sessionID,
		LockedSeats: []string{},
		HeldSeats:   []string{},
		BookedSeats: r.seats.booked(),
		Seats:       r.seats.list(),
		LockTTL:     r.ttl,
	}
	for _, label := range r.locks.labels() {
		l, _ := r.locks.get(label)
		if sessionID != "" && l.HolderSessionID == sessionID {
			snap.HeldSeats = append(snap.HeldSeats, label)
			continue
		}
		snap.LockedSeats = append(snap.LockedSeats, label)
	}
	return snap
}

// broadcastLocked delivers ev to every session except the one named by
// except.  Sessions that cannot keep up are evicted after the fan-out,
// which releases their locks and may broadcast further.
func (r *room) broadcastLocked(ev Event, except string) {
	ev.ShowtimeID = r.showtimeID
	var overflow []*Session
	for id, s := range r.sessions {
		if id == except {
			continue
		}
		if !s.send(ev) {
			overflow = append(overflow, s)
		}
	}
	for _, s := range overflow {
		r.dropLocked(s, ErrSessionLost)
	}
}

// releaseLocked destroys a lock and tells the whole room, the former
// holder included, that the seat is selectable again.
func (r *room) releaseLocked(l model.Lock) {
	if _, ok := r.locks.remove(l.SeatLabel); !ok {
		return
	}
	if holder, ok := r.sessions[l.HolderSessionID]; ok {
		delete(holder.held, l.SeatLabel)
	}
	r.broadcastLocked(Event{Kind: EventSeatReleased, SeatLabel: l.SeatLabel}, "")
}

// bookLocked marks a seat sold.  Any lock on it is invalidated without
// a release broadcast; the room learns the seat is gone for good.
func (r *room) bookLocked(label string, bookingID, userID uint64) {
	if l, ok := r.locks.remove(label); ok {
		if holder, ok := r.sessions[l.HolderSessionID]; ok {
			delete(holder.held, label)
		}
	}
	r.seats.markBooked(label, bookingID, userID)
	r.broadcastLocked(Event{Kind: EventSeatBooked, SeatLabel: label}, "")
}

// expireLocked releases every lock past its deadline.
func (r *room) expireLocked(now time.Time) int {
	expired := r.locks.expired(now)
	for _, l := range expired {
		r.releaseLocked(l)
		r.log.Infoj(log.JSON{
			"event":       "lock_expired",
			"showtime_id": r.showtimeID,
			"seat_label":  l.SeatLabel,
			"session_id":  l.HolderSessionID,
		})
	}
	return len(expired)
}

// reapLocked drops sessions that have not been heard from since the
// cutoff.
func (r *room) reapLocked(cutoff time.Time) int {
	var stale []*Session
	for _, s := range r.sessions {
		if s.lastSeen.Before(cutoff) {
			stale = append(stale, s)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ID < stale[j].ID })
	for _, s := range stale {
		r.log.Warnj(log.JSON{
			"event":       "session_timeout",
			"showtime_id": r.showtimeID,
			"session_id":  s.ID,
			"user_id":     s.UserID,
		})
		r.dropLocked(s, ErrSessionLost)
	}
	return len(stale)
}

// dropLocked removes a session from the room, releasing every lock it
// held, and closes its event stream.  The room is marked closed once it
// is empty.
func (r *room) dropLocked(s *Session, cause error) {
	if cur, ok := r.sessions[s.ID]; !ok || cur != s {
		return
	}
	delete(r.sessions, s.ID)
	s.close(cause)
	if cause != nil {
		r.log.Warnj(log.JSON{
			"event":       "session_dropped",
			"showtime_id": r.showtimeID,
			"session_id":  s.ID,
			"reason":      Reason(cause),
		})
	}
	for _, label := range r.locks.heldBy(s.ID) {
		l, _ := r.locks.get(label)
		r.releaseLocked(l)
	}
	s.held = map[string]struct{}{}
	if len(r.sessions) == 0 {
		r.closed = true
	}
}

// bookedByUser reports whether every label is already sold to userID,
// possibly across several bookings.  It returns the booking of the
// first label.
func (r *room) bookedByUser(labels []string, userID uint64) (uint64, bool) {
	var bookingID uint64
	for _, label := range labels {
		seat, ok := r.seats.get(label)
		if !ok || !seat.Booked() || seat.BookingID == 0 || seat.BookedBy != userID {
			return 0, false
		}
		if bookingID == 0 {
			bookingID = seat.BookingID
		}
	}
	return bookingID, bookingID != 0
}
