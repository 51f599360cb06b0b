package seatlock

import (
	"sort"
	"time"

	"github.com/iliyamo/cinema-seat-lock/internal/model"
)

// lockTable maps seat labels to their single active lock.  Like the
// registry it is only mutated under the owning room's mutex.
type lockTable struct {
	locks map[string]model.Lock
}

func newLockTable() *lockTable { return &lockTable{locks: make(map[string]model.Lock)} }

func (t *lockTable) get(label string) (model.Lock, bool) {
	l, ok := t.locks[label]
	return l, ok
}

func (t *lockTable) put(l model.Lock) { t.locks[l.SeatLabel] = l }

func (t *lockTable) remove(label string) (model.Lock, bool) {
	l, ok := t.locks[label]
	if ok {
		delete(t.locks, label)
	}
	return l, ok
}

// expired returns the locks whose deadline has passed at now, sorted by
// label so that release broadcasts are deterministic.
func (t *lockTable) expired(now time.Time) []model.Lock {
	var out []model.Lock
	for _, l := range t.locks {
		if l.Expired(now) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeatLabel < out[j].SeatLabel })
	return out
}

func (t *lockTable) labels() []string {
	out := make([]string, 0, len(t.locks))
	for label := range t.locks {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

func (t *lockTable) heldBy(sessionID string) []string {
	var out []string
	for label, l := range t.locks {
		if l.HolderSessionID == sessionID {
			out = append(out, label)
		}
	}
	sort.Strings(out)
	return out
}
