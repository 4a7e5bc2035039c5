// Package provider drives convergence: it watches the container engine and
// the referenced compose files, rebuilds the manifest on every relevant
// change, and reconciles the host table against it.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/melih/magicproxy/internal/core/domain"
	"github.com/melih/magicproxy/internal/core/hostdb"
	"github.com/melih/magicproxy/internal/core/ports"
	"github.com/melih/magicproxy/internal/manifest"
)

// Engine event actions that schedule a convergence pass.
var syncActions = map[string]struct{}{
	"create":  {},
	"start":   {},
	"stop":    {},
	"die":     {},
	"destroy": {},
}

const (
	// reconnectBackoff is the fixed delay before resubscribing to the
	// engine's event stream after a failure.
	reconnectBackoff = 2 * time.Second
	// renameSettleDelay lets an external atomic writer finish before the
	// watch on a renamed file is re-armed.
	renameSettleDelay = 300 * time.Millisecond
)

// State is the provider lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateStopping State = "stopping"
)

// Provider is the sync engine. At most one convergence pass runs at a time;
// triggers arriving during a pass coalesce into a single follow-up pass.
type Provider struct {
	engine  ports.ContainerEngine
	db      *hostdb.DB
	builder *manifest.Builder
	log     *slog.Logger

	mu          sync.Mutex
	state       State
	syncRunning bool
	syncPending bool

	watcher *fsnotify.Watcher
	watched map[string]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a stopped provider.
func New(engine ports.ContainerEngine, db *hostdb.DB, log *slog.Logger) *Provider {
	return &Provider{
		engine:  engine,
		db:      db,
		builder: manifest.NewBuilder(engine, log),
		log:     log,
		state:   StateStopped,
		watched: make(map[string]struct{}),
	}
}

// State returns the current lifecycle state.
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start performs one synchronous convergence pass, then subscribes to the
// engine's event stream and arms watches on every referenced compose file.
// Calling Start while already active is a no-op.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateStopped {
		state := p.state
		p.mu.Unlock()
		p.log.Warn("provider already started", "state", state)
		return nil
	}
	p.state = StateStarting
	p.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		p.setState(StateStopped)
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	p.watcher = watcher

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	if err := p.sync(runCtx); err != nil {
		p.log.Error("initial sync failed", "error", err)
	}

	p.setState(StateActive)

	p.wg.Add(2)
	go p.eventLoop(runCtx)
	go p.watchLoop(runCtx)

	p.log.Info("provider started")
	return nil
}

// Stop tears down the event subscription and all file watches. Idempotent.
func (p *Provider) Stop() {
	p.mu.Lock()
	if p.state != StateActive && p.state != StateStarting {
		p.mu.Unlock()
		return
	}
	p.state = StateStopping
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	if p.watcher != nil {
		p.watcher.Close()
	}
	p.wg.Wait()

	p.setState(StateStopped)
	p.log.Info("provider stopped")
}

func (p *Provider) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// trigger schedules a convergence pass. If one is already running it sets
// the pending flag instead of queuing a duplicate: however many triggers
// arrive during a pass, exactly one more pass follows it.
func (p *Provider) trigger(ctx context.Context) {
	p.mu.Lock()
	if p.state != StateActive {
		p.mu.Unlock()
		return
	}
	if p.syncRunning {
		p.syncPending = true
		p.mu.Unlock()
		return
	}
	// Register with the wait group before releasing the lock: Stop flips
	// the state under the same lock, so it either sees this pass in the
	// group or prevents it from starting at all.
	p.syncRunning = true
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		for {
			if err := p.sync(ctx); err != nil {
				p.log.Error("sync failed", "error", err)
			}
			p.mu.Lock()
			if p.syncPending {
				p.syncPending = false
				p.mu.Unlock()
				continue
			}
			p.syncRunning = false
			p.mu.Unlock()
			return
		}
	}()
}

// sync is one convergence pass: rebuild the manifest, upsert every entry,
// remove every table identity absent from the manifest. The add/update/
// remove triad is computed from the one finished manifest snapshot.
func (p *Provider) sync(ctx context.Context) error {
	m, report, err := p.builder.Build(ctx)
	if err != nil {
		return err
	}

	for _, entry := range m.Entries {
		p.db.Upsert(hostEntry(entry))
	}

	ids := m.Identities()
	for _, existing := range p.db.List() {
		if _, ok := ids[existing.Identity]; !ok {
			p.db.Remove(existing.Identity)
		}
	}

	p.rearmWatches(m.SourceFiles)

	p.log.Debug("sync complete",
		"hosts", len(m.Entries), "files", len(m.SourceFiles), "report", report)
	return nil
}

// rearmWatches reconciles the watch set against the files the latest
// manifest references.
func (p *Provider) rearmWatches(files []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watcher == nil {
		return
	}

	next := make(map[string]struct{}, len(files))
	for _, f := range files {
		next[f] = struct{}{}
		if _, ok := p.watched[f]; !ok {
			if err := p.watcher.Add(f); err != nil {
				p.log.Warn("failed to watch compose file", "path", f, "error", err)
				continue
			}
		}
	}
	for f := range p.watched {
		if _, ok := next[f]; !ok {
			p.watcher.Remove(f)
		}
	}
	p.watched = next
}

// eventLoop consumes the engine's lifecycle stream, resubscribing with a
// fixed backoff on error or unexpected end. Stream failures are never fatal
// while the provider is active.
func (p *Provider) eventLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		events, errs := p.engine.Events(ctx)
	stream:
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					break stream
				}
				if _, relevant := syncActions[ev.Action]; relevant {
					p.log.Debug("container event", "action", ev.Action, "container", ev.ContainerName)
					p.trigger(ctx)
				}
			case err := <-errs:
				if err != nil {
					p.log.Warn("engine event stream failed, reconnecting", "error", err)
				}
				break stream
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

// watchLoop consumes compose-file change events. A rename is symptomatic of
// an atomic external rewrite: the watch is re-armed after a short settle
// delay before a pass is scheduled.
func (p *Provider) watchLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			switch {
			case ev.Op.Has(fsnotify.Rename) || ev.Op.Has(fsnotify.Remove):
				p.log.Debug("compose file replaced, re-arming watch", "path", ev.Name)
				time.AfterFunc(renameSettleDelay, func() {
					if ctx.Err() != nil {
						return
					}
					if err := p.watcher.Add(ev.Name); err != nil {
						p.log.Warn("failed to re-arm watch", "path", ev.Name, "error", err)
					}
					p.trigger(ctx)
				})
			case ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create):
				p.log.Debug("compose file changed", "path", ev.Name)
				p.trigger(ctx)
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.log.Warn("file watcher error", "error", err)
		}
	}
}

func hostEntry(e domain.ManifestEntry) domain.HostEntry {
	return domain.HostEntry{
		Identity:           e.Identity,
		Intent:             e.Intent,
		SourceFilePath:     e.SourceFilePath,
		SourceFileSnapshot: e.SourceFileSnapshot,
	}
}
