package reconcile

import (
	"sort"

	"tradepulse/internal/domain"
)

// snapshotStore is the in-memory mirror of the broker's open positions.
// It is owned exclusively by the reconciliation loop goroutine; all other
// consumers receive copies, never references, so no lock is held across
// gateway I/O on the hot path.
type snapshotStore struct {
	positions map[int64]domain.Position
}

func newSnapshotStore() *snapshotStore {
	return &snapshotStore{positions: make(map[int64]domain.Position)}
}

func (s *snapshotStore) get(ticket int64) (domain.Position, bool) {
	pos, ok := s.positions[ticket]
	return pos, ok
}

func (s *snapshotStore) remove(ticket int64) {
	delete(s.positions, ticket)
}

// replace swaps the mirror for the freshly polled set.
func (s *snapshotStore) replace(current map[int64]domain.Position) {
	s.positions = current
}

// copyAll returns an immutable-by-copy view sorted by ticket.
func (s *snapshotStore) copyAll() []domain.Position {
	out := make([]domain.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out
}

// dealSet is a bounded set of recently-seen deal tickets, pruned in
// insertion order so memory stays flat during long runs.
type dealSet struct {
	seen  map[int64]struct{}
	order []int64
	cap   int
	keep  int
}

func newDealSet(capacity, keep int) *dealSet {
	if capacity <= 0 {
		capacity = 1000
	}
	if keep <= 0 || keep > capacity {
		keep = capacity / 2
	}
	return &dealSet{
		seen: make(map[int64]struct{}, capacity),
		cap:  capacity,
		keep: keep,
	}
}

func (d *dealSet) contains(ticket int64) bool {
	_, ok := d.seen[ticket]
	return ok
}

// add inserts the ticket, pruning the oldest entries past capacity.
// Returns false if the ticket was already present.
func (d *dealSet) add(ticket int64) bool {
	if d.contains(ticket) {
		return false
	}
	d.seen[ticket] = struct{}{}
	d.order = append(d.order, ticket)
	if len(d.order) > d.cap {
		cut := len(d.order) - d.keep
		for _, old := range d.order[:cut] {
			delete(d.seen, old)
		}
		d.order = append([]int64(nil), d.order[cut:]...)
	}
	return true
}
