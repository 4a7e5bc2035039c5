// Package hostdb holds the canonical in-memory table of proxied hosts.
//
// The table knows nothing about Docker or compose files; it stores entries
// keyed by identity, detects content changes under deep equality, and fans
// out added/updated/removed events to subscribers.
package hostdb

import (
	"log/slog"
	"sync"
	"time"

	"github.com/melih/magicproxy/internal/core/domain"
)

// Subscriber receives host table events. Subscribers are invoked
// synchronously, in registration order, after the mutation is applied.
type Subscriber func(domain.HostEvent)

// DB is the host table. Safe for concurrent use, though in practice all
// mutation happens from the provider's serialized sync turn.
type DB struct {
	log *slog.Logger

	mu      sync.Mutex
	entries map[string]domain.HostEntry
	order   []string
	subs    []Subscriber

	now func() time.Time
}

// New creates an empty host table.
func New(log *slog.Logger) *DB {
	return &DB{
		log:     log,
		entries: make(map[string]domain.HostEntry),
		now:     time.Now,
	}
}

// Subscribe registers a subscriber for all future events.
func (d *DB) Subscribe(s Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, s)
}

// Upsert inserts or replaces the entry for its identity.
//
// A new identity emits an added event. An existing identity emits an updated
// event only when content other than the timestamp changed; the timestamp is
// refreshed on every call regardless.
func (d *DB) Upsert(entry domain.HostEntry) {
	d.mu.Lock()
	entry.LastChangedAt = d.now()

	existing, ok := d.entries[entry.Identity]
	var events []domain.HostEvent
	switch {
	case !ok:
		d.entries[entry.Identity] = entry
		d.order = append(d.order, entry.Identity)
		d.log.Info("host added", "identity", entry.Identity, "hostname", entry.Intent.Hostname)
		events = append(events, domain.HostEvent{Type: domain.HostAdded, Entry: entry})
	case existing.ContentEquals(entry):
		// Content unchanged: refresh the timestamp, emit nothing.
		d.entries[entry.Identity] = entry
	default:
		d.entries[entry.Identity] = entry
		d.log.Info("host updated", "identity", entry.Identity, "hostname", entry.Intent.Hostname)
		events = append(events, domain.HostEvent{Type: domain.HostUpdated, Entry: entry})
	}
	subs := append([]Subscriber(nil), d.subs...)
	d.mu.Unlock()

	d.dispatch(subs, events)
}

// Remove deletes the entry if present and emits a removed event carrying the
// entry that existed. Removing an absent identity is a no-op.
func (d *DB) Remove(identity string) {
	d.mu.Lock()
	existing, ok := d.entries[identity]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.entries, identity)
	for i, id := range d.order {
		if id == identity {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	d.log.Info("host removed", "identity", identity)
	subs := append([]Subscriber(nil), d.subs...)
	d.mu.Unlock()

	d.dispatch(subs, []domain.HostEvent{{Type: domain.HostRemoved, Entry: existing}})
}

// Get returns the entry for the identity, if present.
func (d *DB) Get(identity string) (domain.HostEntry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[identity]
	return e, ok
}

// List returns all entries in insertion order.
func (d *DB) List() []domain.HostEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.HostEntry, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.entries[id])
	}
	return out
}

func (d *DB) dispatch(subs []Subscriber, events []domain.HostEvent) {
	for _, ev := range events {
		for _, s := range subs {
			s(ev)
		}
	}
}
