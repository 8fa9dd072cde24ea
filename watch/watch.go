// Package watch implements the tick-driven live-watch engine,
// grounded on the Python original's core/live/watch.py. The engine itself
// never sleeps when driven externally; the IPC server (or a standalone
// runner) paces ticks.
package watch

import (
	"context"
	"fmt"
)

// EmitMode selects which ticks produce an event for a given item.
type EmitMode string

const (
	EmitChanged EmitMode = "changed"
	EmitAlways EmitMode = "always"
)

// Item is one (ecu,did) pair to poll, in watch order.
type Item struct {
	ECU string
	DID uint16
}

// Reader resolves a single (ecu,did) read to a named, unit-tagged value.
// The service façade implements this by composing uds.Client + did.Decode.
type Reader interface {
	ReadDID(ctx context.Context, ecu string, did uint16) (name, value, unit string, err error)
}

// Event is one emitted `live_did` record.
type Event struct {
	Tick int
	ECU string
	DID uint16
	Name string
	Value string
	Unit string
}

// Error wraps a tick-level read failure so the caller can decide whether to
// abort the whole watch or skip the item.
type Error struct {
	Item Item
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("watch: ecu=%s did=0x%04X: %s", e.Item.ECU, e.Item.DID, e.Msg)
}

// Watcher holds the ordered item list, emit mode, and last-seen values for
// the duration of one watch stream.
type Watcher struct {
	reader Reader
	items []Item
	emit EmitMode
	tick int
	lastSeen map[Item]string
}

// New builds a Watcher over items, polled via reader, with emit controlling
// whether every tick is reported or only value changes. Tick numbering
// starts at 1.
func New(reader Reader, items []Item, emit EmitMode) *Watcher {
	return &Watcher{
		reader: reader,
		items: append([]Item(nil), items...),
		emit: emit,
		tick: 0,
		lastSeen: make(map[Item]string),
	}
}

// Tick reads every item in order and returns the events this tick produced
// (empty in "changed" mode if nothing changed). A read failure on one item
// is reported as an *Error without aborting the remaining items in the
// tick, mirroring the façade's best-effort stance on individual reads.
func (w *Watcher) Tick(ctx context.Context) ([]Event, []error) {
	w.tick++
	var events []Event
	var errs []error
	for _, item := range w.items {
		name, value, unit, err := w.reader.ReadDID(ctx, item.ECU, item.DID)
		if err != nil {
			errs = append(errs, &Error{Item: item, Msg: err.Error()})
			continue
		}
		prev, seen := w.lastSeen[item]
		w.lastSeen[item] = value
		if w.emit == EmitAlways || !seen || prev != value {
			events = append(events, Event{
				Tick: w.tick,
				ECU: item.ECU,
				DID: item.DID,
				Name: name,
				Value: value,
				Unit: unit,
			})
		}
	}
	return events, errs
}

// TickCount returns the number of ticks run so far.
func (w *Watcher) TickCount() int { return w.tick }
