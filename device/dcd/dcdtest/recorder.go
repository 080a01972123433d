// Package dcdtest provides helpers for testing controller models.
package dcdtest

import (
	"sync"

	"github.com/ardnew/usbcore/device/dcd"
)

// Record is one delivered event.
type Record struct {
	Event dcd.Event
	InISR bool
}

// Recorder is a dcd.Handler that keeps every event it receives.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

// HandleEvent implements dcd.Handler.
func (r *Recorder) HandleEvent(ev *dcd.Event, inISR bool) {
	r.mu.Lock()
	r.records = append(r.records, Record{Event: *ev, InISR: inISR})
	r.mu.Unlock()
}

// Records returns a copy of the received events.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// IDs returns the kinds of the received events in order.
func (r *Recorder) IDs() []dcd.EventID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]dcd.EventID, len(r.records))
	for i, rec := range r.records {
		ids[i] = rec.Event.ID
	}
	return ids
}

// Completions returns the transfer-complete events for ep.
func (r *Recorder) Completions(ep uint8) []dcd.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []dcd.Event
	for _, rec := range r.records {
		if rec.Event.ID == dcd.EventXferComplete && rec.Event.EP == ep {
			out = append(out, rec.Event)
		}
	}
	return out
}

// Reset forgets every received event.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.records = nil
	r.mu.Unlock()
}

// DrainIn issues IN tokens on ep until the transfer ends on a short
// packet, n bytes have been read, or the endpoint stops answering with
// data. It returns the bytes read and the last handshake error.
func DrainIn(bus dcd.Bus, addr, ep uint8, n int) ([]byte, error) {
	var out []byte
	for {
		p, err := bus.In(addr, ep)
		if err != nil {
			return out, err
		}
		out = append(out, p...)
		if len(out) >= n {
			return out, nil
		}
		if len(p) == 0 {
			return out, nil
		}
	}
}
