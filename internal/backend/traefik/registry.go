package traefik

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ErrInvalidDocument marks a combined document that violates the structural
// allow-list. An invalid merge must never reach disk, even partially.
var ErrInvalidDocument = errors.New("invalid config document")

// flushDebounce collapses a burst of flush calls into one write.
const flushDebounce = 10 * time.Millisecond

// Fragment is one application's partial contribution to the dynamic config:
// section -> group -> resource name -> resource body.
type Fragment map[string]map[string]map[string]any

// Sections and sub-groups Traefik's dynamic file provider accepts.
var allowedSections = map[string]map[string]bool{
	"http": {"routers": true, "services": true, "middlewares": true},
	"tcp":  {"routers": true, "services": true, "middlewares": true},
	"udp":  {"routers": true, "services": true},
}

// Registry holds one config fragment per application and writes the merged
// document to the output file, debounced and atomically.
type Registry struct {
	log        *slog.Logger
	outputFile string

	mu        sync.Mutex
	fragments map[string]Fragment
	order     []string
	swept     bool
	pending   *flushBatch
	// writeMu serializes batches: a later batch's combine+write never
	// overlaps an earlier one, so the last rename always carries the
	// newest state.
	writeMu sync.Mutex

	debounce time.Duration
	// renameFn seam for simulating rename failures in tests.
	renameFn func(oldpath, newpath string) error
	// OnWrite, if set, runs once after each successful write.
	OnWrite func(path string)
}

type flushBatch struct {
	done chan struct{}
	err  error
}

// NewRegistry creates an empty registry writing to outputFile.
func NewRegistry(outputFile string, log *slog.Logger) *Registry {
	return &Registry{
		log:        log,
		outputFile: outputFile,
		fragments:  make(map[string]Fragment),
		debounce:   flushDebounce,
		renameFn:   os.Rename,
	}
}

// Register deep-merges the fragment into any existing fragment for appID.
// The merge replaces at sub-resource granularity, so one application's HTTP
// and TCP sections can be registered independently over time.
func (r *Registry) Register(appID string, frag Fragment) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.fragments[appID]
	if !ok {
		existing = make(Fragment)
		r.fragments[appID] = existing
	}
	for section, groups := range frag {
		if existing[section] == nil {
			existing[section] = make(map[string]map[string]any)
		}
		for group, resources := range groups {
			if existing[section][group] == nil {
				existing[section][group] = make(map[string]any)
			}
			for name, body := range resources {
				existing[section][group][name] = body
			}
		}
	}

	// Re-registration moves the app to the back: "later wins" on merge
	// collisions is defined by this order.
	for i, id := range r.order {
		if id == appID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.order = append(r.order, appID)
}

// Remove deletes the whole fragment for appID.
func (r *Registry) Remove(appID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fragments[appID]; !ok {
		return
	}
	delete(r.fragments, appID)
	for i, id := range r.order {
		if id == appID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Apps returns the registered application ids in registration order.
func (r *Registry) Apps() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// OutputFile returns the target path.
func (r *Registry) OutputFile() string {
	return r.outputFile
}

// Flush writes the merged document. Calls arriving within the same debounce
// window collapse into a single write, and every caller receives that one
// write's outcome.
func (r *Registry) Flush() error {
	r.mu.Lock()
	if r.pending == nil {
		batch := &flushBatch{done: make(chan struct{})}
		r.pending = batch
		time.AfterFunc(r.debounce, func() { r.runFlush(batch) })
	}
	batch := r.pending
	r.mu.Unlock()

	<-batch.done
	return batch.err
}

func (r *Registry) runFlush(batch *flushBatch) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	r.pending = nil
	combined := r.combineLocked()
	r.mu.Unlock()

	batch.err = r.write(combined)
	close(batch.done)
}

// combineLocked unions all fragments' sub-resource maps in registration
// order. A later app registering a same-named sub-resource overwrites the
// earlier one; that collision is logged, not fatal.
func (r *Registry) combineLocked() Fragment {
	combined := make(Fragment)
	owner := make(map[string]string)

	for _, appID := range r.order {
		for section, groups := range r.fragments[appID] {
			if combined[section] == nil {
				combined[section] = make(map[string]map[string]any)
			}
			for group, resources := range groups {
				if combined[section][group] == nil {
					combined[section][group] = make(map[string]any)
				}
				for name, body := range resources {
					key := section + "/" + group + "/" + name
					if prev, taken := owner[key]; taken && prev != appID {
						r.log.Warn("config resource collision, later registration wins",
							"resource", key, "previous", prev, "app", appID)
					}
					owner[key] = appID
					combined[section][group][name] = body
				}
			}
		}
	}
	return combined
}

// validateDocument enforces the structural allow-list on the merged result.
func validateDocument(doc Fragment) error {
	var errs []error
	for section, groups := range doc {
		allowed, ok := allowedSections[section]
		if !ok {
			errs = append(errs, fmt.Errorf("section %q is not allowed", section))
			continue
		}
		for group, resources := range groups {
			if !allowed[group] {
				errs = append(errs, fmt.Errorf("group %q is not allowed under %q", group, section))
				continue
			}
			for name := range resources {
				if name == "" || strings.ContainsAny(name, " \t\n\r") {
					errs = append(errs, fmt.Errorf("invalid resource name %q under %s/%s", name, section, group))
				}
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, errors.Join(errs...))
	}
	return nil
}

// write validates, serializes and atomically replaces the output file:
// unique temp file in the target directory, then rename. Rename is the only
// operation that ever touches the real target path.
func (r *Registry) write(doc Fragment) error {
	if err := validateDocument(doc); err != nil {
		return err
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	dir := filepath.Dir(r.outputFile)
	base := filepath.Base(r.outputFile)

	r.sweepStaleTemps(dir, base)

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", base, uuid.NewString()))
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp config: %w", err)
	}
	if err := r.renameFn(tmp, r.outputFile); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace config file: %w", err)
	}

	r.log.Info("config file written", "path", r.outputFile, "bytes", len(data))
	if r.OnWrite != nil {
		r.OnWrite(r.outputFile)
	}
	return nil
}

// sweepStaleTemps removes temp files a previous crashed write left behind.
// Runs once per registry, before the first write.
func (r *Registry) sweepStaleTemps(dir, base string) {
	r.mu.Lock()
	if r.swept {
		r.mu.Unlock()
		return
	}
	r.swept = true
	r.mu.Unlock()

	stale, err := filepath.Glob(filepath.Join(dir, "."+base+".*.tmp"))
	if err != nil {
		return
	}
	for _, path := range stale {
		if err := os.Remove(path); err == nil {
			r.log.Warn("removed stale temp config file", "path", path)
		}
	}
}
