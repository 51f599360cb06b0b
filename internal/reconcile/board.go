// Package reconcile keeps a device's view of a showtime seat map in line
// with the server.  Local selections are shown optimistically and are
// rolled back when the server disagrees; a seat is only ever reported
// as the device's own after the server granted the lock.
package reconcile

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/cinema-seat-lock/internal/model"
	"github.com/iliyamo/cinema-seat-lock/internal/protocol"
)

// State is the displayed state of one seat.
type State int

const (
	Available State = iota
	PendingMine
	Mine
	LockedByOther
	Booked
)

func (s State) String() string {
	switch s {
	case Available:
		return "available"
	case PendingMine:
		return "pending"
	case Mine:
		return "mine"
	case LockedByOther:
		return "locked"
	case Booked:
		return "booked"
	}
	return "unknown"
}

var (
	ErrNotSynced     = errors.New("board has no snapshot")
	ErrUnknownSeat   = errors.New("unknown seat")
	ErrNotSelectable = errors.New("seat is not selectable")
)

type seatView struct {
	seat      model.Seat
	state     State     // what the user sees
	auth      State     // last state confirmed by the server
	releasing bool      // deselected while a grant may still be in flight
	expiresAt time.Time // lock deadline while Mine
}

// Board is the reconciled seat map of one device.  It is safe for
// concurrent use by the transport reader and the UI.
type Board struct {
	mu        sync.Mutex
	seats     map[string]*seatView
	order     []string
	synced    bool
	sessionID string
	lockTTL   time.Duration
}

// NewBoard returns an empty board.  It accepts selections only after
// the first snapshot.
func NewBoard() *Board {
	return &Board{seats: make(map[string]*seatView)}
}

// Snapshot replaces the whole view with the server's room state.  All
// pending selections are discarded.
func (b *Board) Snapshot(msg protocol.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seats = make(map[string]*seatView, len(msg.Seats))
	b.order = b.order[:0]
	for _, s := range msg.Seats {
		if s.Label == "" {
			continue
		}
		if _, dup := b.seats[s.Label]; dup {
			continue
		}
		st := Available
		if s.Booked() {
			st = Booked
		}
		b.seats[s.Label] = &seatView{seat: s, state: st, auth: st}
		b.order = append(b.order, s.Label)
	}
	b.force(msg.BookedSeats, Booked)
	b.force(msg.SeatLabels, LockedByOther)
	b.force(msg.HeldSeats, Mine)
	b.synced = true
	b.sessionID = msg.SessionID
	b.lockTTL = time.Duration(msg.LockTTLSeconds) * time.Second
}

func (b *Board) force(labels []string, st State) {
	for _, label := range labels {
		if v, ok := b.seats[label]; ok {
			v.state, v.auth = st, st
		}
	}
}

// Select marks an available seat as pending.  The caller must send a
// request_lock for it.
func (b *Board) Select(label string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.synced {
		return ErrNotSynced
	}
	v, ok := b.seats[label]
	if !ok {
		return ErrUnknownSeat
	}
	if v.state != Available {
		return ErrNotSelectable
	}
	v.state = PendingMine
	v.releasing = false
	return nil
}

// Deselect drops a seat from the selection.  It reports whether a
// release_lock must be sent.
func (b *Board) Deselect(label string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.seats[label]
	if !ok || (v.state != PendingMine && v.state != Mine) {
		return false
	}
	v.state = Available
	v.releasing = true
	v.expiresAt = time.Time{}
	return true
}

// LockGranted applies the server's confirmation of a lock.
func (b *Board) LockGranted(label string, expiresAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.seats[label]
	if !ok {
		return
	}
	v.auth = Mine
	if v.releasing {
		// the queued release_lock will follow
		return
	}
	v.state = Mine
	v.expiresAt = expiresAt
}

// LockFailed rolls a pending seat back to what the server last said.
func (b *Board) LockFailed(label, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.seats[label]
	if !ok {
		return
	}
	switch reason {
	case "seat_already_booked":
		v.auth = Booked
	case "seat_unavailable":
		if v.auth == Available {
			v.auth = LockedByOther
		}
	}
	if v.state == PendingMine {
		v.state = v.auth
	}
}

// SeatLocked records a lock taken by another session.
func (b *Board) SeatLocked(label string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.seats[label]; ok {
		v.auth = LockedByOther
		v.state = LockedByOther
		v.releasing = false
		v.expiresAt = time.Time{}
	}
}

// SeatReleased records that a seat is selectable again.  A selection
// still waiting for its answer stays pending.
func (b *Board) SeatReleased(label string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.seats[label]
	if !ok {
		return
	}
	v.auth = Available
	v.releasing = false
	v.expiresAt = time.Time{}
	if v.state != PendingMine {
		v.state = Available
	}
}

// SeatBooked records that a seat was sold.
func (b *Board) SeatBooked(label string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.seats[label]; ok {
		v.seat.Status = model.SeatBooked
		v.auth, v.state = Booked, Booked
		v.releasing = false
		v.expiresAt = time.Time{}
	}
}

// Disconnected discards pending selections.  The board refuses new
// selections until the next snapshot rebuilds it.
func (b *Board) Disconnected() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.synced = false
	for _, v := range b.seats {
		if v.state == PendingMine {
			v.state = v.auth
		}
		v.releasing = false
	}
}

// Left forgets the session after the device left the room on purpose.
// The server released every lock of that session without telling it,
// so held and pending seats fall back to available.  A new snapshot is
// needed before selecting again.
func (b *Board) Left() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.synced = false
	b.sessionID = ""
	for _, v := range b.seats {
		if v.state == Mine || v.state == PendingMine || v.auth == Mine {
			v.state, v.auth = Available, Available
			v.expiresAt = time.Time{}
		}
		v.releasing = false
	}
}

// Apply dispatches a server message to the matching transition.  It
// reports whether the message changed board state.
func (b *Board) Apply(msg protocol.Message) bool {
	switch msg.Type {
	case protocol.TypeInitialLocks:
		b.Snapshot(msg)
	case protocol.TypeLockGranted:
		var exp time.Time
		if msg.ExpiresAt != nil {
			exp = *msg.ExpiresAt
		}
		b.LockGranted(msg.SeatLabel, exp)
	case protocol.TypeLockFailed:
		b.LockFailed(msg.SeatLabel, msg.Reason)
	case protocol.TypeSeatLocked:
		b.SeatLocked(msg.SeatLabel)
	case protocol.TypeSeatReleased:
		b.SeatReleased(msg.SeatLabel)
	case protocol.TypeSeatBooked:
		b.SeatBooked(msg.SeatLabel)
	default:
		return false
	}
	return true
}

// State returns the displayed state of a seat.
func (b *Board) State(label string) (State, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.seats[label]
	if !ok {
		return Available, false
	}
	return v.state, true
}

// Mine lists the seats the server confirmed as held by this device, in
// seat map order.  These are the labels to commit.
func (b *Board) Mine() []string {
	return b.labelsIn(Mine)
}

// Pending lists seats waiting for a lock answer.
func (b *Board) Pending() []string {
	return b.labelsIn(PendingMine)
}

func (b *Board) labelsIn(st State) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []string{}
	for _, label := range b.order {
		if b.seats[label].state == st {
			out = append(out, label)
		}
	}
	return out
}

// Total sums the prices of the seats in Mine.
func (b *Board) Total() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var total uint32
	for _, v := range b.seats {
		if v.state == Mine {
			total += v.seat.PriceCents
		}
	}
	return total
}

// NextExpiry returns the earliest deadline among held seats.
func (b *Board) NextExpiry() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var next time.Time
	for _, v := range b.seats {
		if v.state != Mine || v.expiresAt.IsZero() {
			continue
		}
		if next.IsZero() || v.expiresAt.Before(next) {
			next = v.expiresAt
		}
	}
	return next, !next.IsZero()
}

// Counts returns how many seats are in each state.
func (b *Board) Counts() map[State]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[State]int, 5)
	for _, v := range b.seats {
		out[v.state]++
	}
	return out
}

// Rows groups the seat map by row label with seats in number order.
func (b *Board) Rows() map[string][]SeatState {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string][]SeatState)
	for _, label := range b.order {
		v := b.seats[label]
		out[v.seat.Row] = append(out[v.seat.Row], SeatState{Seat: v.seat, State: v.state})
	}
	for row := range out {
		seats := out[row]
		sort.Slice(seats, func(i, j int) bool { return seats[i].Seat.Number < seats[j].Seat.Number })
	}
	return out
}

// SeatState pairs a seat with its displayed state.
type SeatState struct {
	Seat  model.Seat
	State State
}

// Synced reports whether the board reflects a snapshot of the current
// connection.
func (b *Board) Synced() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.synced
}

// SessionID returns the session id assigned by the last snapshot.
func (b *Board) SessionID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessionID
}

// LockTTL returns the lock lifetime announced by the server.
func (b *Board) LockTTL() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lockTTL
}
