package binancegw

import (
	"encoding/binary"
	"hash/fnv"
	"time"
)

// lifecycleBook assigns position tickets per round trip. Binance reports
// one net position per symbol and has no position tickets, so the book
// starts a lifecycle when a symbol first shows open or its first fill
// arrives, and ends it on the closing fill or when the symbol leaves the
// open set. Tickets hash the symbol with the lifecycle's start time, so
// repeated trading on one symbol never reuses a ticket.
//
// Callers synchronize access; the book itself holds no lock.
type lifecycleBook struct {
	current map[string]*lifecycle
}

type lifecycle struct {
	ticket     int64     // ticket of the live position, 0 when flat
	openTime   time.Time // start of the live lifecycle
	lastClosed int64     // ticket of the most recently ended lifecycle
}

func newLifecycleBook() *lifecycleBook {
	return &lifecycleBook{current: make(map[string]*lifecycle)}
}

func (b *lifecycleBook) get(symbol string) *lifecycle {
	lc, ok := b.current[symbol]
	if !ok {
		lc = &lifecycle{}
		b.current[symbol] = lc
	}
	return lc
}

// openTicket returns the ticket for a symbol currently reported open,
// starting a new lifecycle when none is live.
func (b *lifecycleBook) openTicket(symbol string, now time.Time) int64 {
	lc := b.get(symbol)
	if lc.ticket == 0 {
		lc.start(symbol, now)
	}
	return lc.ticket
}

// settleAbsent ends the lifecycles of symbols no longer in the open set.
// Their tickets stay reachable for closing fills still to arrive in deal
// history.
func (b *lifecycleBook) settleAbsent(open map[string]struct{}) {
	for symbol, lc := range b.current {
		if _, still := open[symbol]; !still && lc.ticket != 0 {
			lc.lastClosed = lc.ticket
			lc.ticket = 0
		}
	}
}

// dealTicket maps a fill to its position's lifecycle. Fills must arrive
// in ascending time order per symbol, the order the exchange returns
// them. A closing fill ends the live lifecycle; one arriving while flat
// belongs to the last closed lifecycle; fills for round trips the book
// never saw open get a lifecycle derived from the fill time, so catch-up
// after a restart still yields one distinct ticket per round trip.
func (b *lifecycleBook) dealTicket(symbol string, fillTime time.Time, closing bool) int64 {
	lc := b.get(symbol)
	switch {
	case closing && lc.ticket != 0 && !fillTime.Before(lc.openTime):
		ticket := lc.ticket
		lc.lastClosed = ticket
		lc.ticket = 0
		return ticket
	case closing && lc.lastClosed != 0:
		return lc.lastClosed
	case closing:
		lc.lastClosed = lifecycleTicket(symbol, fillTime)
		return lc.lastClosed
	case lc.ticket != 0:
		return lc.ticket
	default:
		return lc.start(symbol, fillTime)
	}
}

// start opens a fresh lifecycle. A same-millisecond restart on the
// symbol would rehash to the previous ticket, so the time is nudged
// forward until the ticket differs.
func (lc *lifecycle) start(symbol string, at time.Time) int64 {
	ticket := lifecycleTicket(symbol, at)
	for ticket == lc.lastClosed {
		at = at.Add(time.Millisecond)
		ticket = lifecycleTicket(symbol, at)
	}
	lc.openTime = at
	lc.ticket = ticket
	return ticket
}

// lifecycleTicket derives a positive ticket from the symbol and the
// lifecycle's start time.
func lifecycleTicket(symbol string, at time.Time) int64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(at.UnixMilli()))
	h.Write(buf[:])
	return int64(h.Sum64() & 0x7fffffffffffffff)
}
