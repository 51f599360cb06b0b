package seatlock

import (
	"sort"

	"github.com/iliyamo/cinema-seat-lock/internal/model"
)

// registry is the per-showtime seat table.  It is owned by a room and
// only touched while the room mutex is held.
type registry struct {
	seats map[string]*model.Seat
	order []string // labels in provisioning order
}

func newRegistry(seats []model.Seat) *registry {
	r := &registry{seats: make(map[string]*model.Seat, len(seats))}
	for i := range seats {
		s := seats[i]
		if s.Label == "" {
			continue
		}
		if _, dup := r.seats[s.Label]; dup {
			continue
		}
		if s.Status == "" {
			s.Status = model.SeatAvailable
		}
		r.seats[s.Label] = &s
		r.order = append(r.order, s.Label)
	}
	return r
}

func (r *registry) get(label string) (*model.Seat, bool) {
	s, ok := r.seats[label]
	return s, ok
}

func (r *registry) markBooked(label string, bookingID, userID uint64) {
	if s, ok := r.seats[label]; ok {
		s.Status = model.SeatBooked
		s.BookingID = bookingID
		s.BookedBy = userID
	}
}

func (r *registry) markAvailable(label string) {
	if s, ok := r.seats[label]; ok {
		s.Status = model.SeatAvailable
		s.BookingID = 0
		s.BookedBy = 0
	}
}

// booked returns the sorted labels of sold seats.
func (r *registry) booked() []string {
	out := []string{}
	for label, s := range r.seats {
		if s.Booked() {
			out = append(out, label)
		}
	}
	sort.Strings(out)
	return out
}

// list copies the seat map in provisioning order.
func (r *registry) list() []model.Seat {
	out := make([]model.Seat, 0, len(r.order))
	for _, label := range r.order {
		out = append(out, *r.seats[label])
	}
	return out
}
