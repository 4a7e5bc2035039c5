package traefik

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	out := filepath.Join(t.TempDir(), "magicproxy.yml")
	return NewRegistry(out, slog.Default())
}

func routerFragment(name, rule string) Fragment {
	return Fragment{
		"http": {
			"routers": {
				name: map[string]any{"rule": rule, "service": name},
			},
		},
	}
}

func readDocument(t *testing.T, path string) Fragment {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc Fragment
	require.NoError(t, yaml.Unmarshal(data, &doc))
	return doc
}

func TestRegisterAndFlush(t *testing.T) {
	r := newTestRegistry(t)
	r.Register("app1", routerFragment("app1", "Host(`a.example`)"))
	r.Register("app2", routerFragment("app2", "Host(`b.example`)"))

	require.NoError(t, r.Flush())

	doc := readDocument(t, r.OutputFile())
	assert.Contains(t, doc["http"]["routers"], "app1")
	assert.Contains(t, doc["http"]["routers"], "app2")
	assert.Equal(t, []string{"app1", "app2"}, r.Apps())
}

func TestRegisterMergesSectionsIndependently(t *testing.T) {
	r := newTestRegistry(t)
	r.Register("app1", routerFragment("app1", "Host(`a.example`)"))
	r.Register("app1", Fragment{
		"tcp": {
			"routers": {"app1-tcp": map[string]any{"rule": "HostSNI(`*`)"}},
		},
	})

	require.NoError(t, r.Flush())

	// The second registration extended the fragment, it did not replace it.
	doc := readDocument(t, r.OutputFile())
	assert.Contains(t, doc["http"]["routers"], "app1")
	assert.Contains(t, doc["tcp"]["routers"], "app1-tcp")
}

func TestCollisionLaterRegistrationWins(t *testing.T) {
	r := newTestRegistry(t)
	r.Register("app1", routerFragment("shared", "Host(`first.example`)"))
	r.Register("app2", routerFragment("shared", "Host(`second.example`)"))

	require.NoError(t, r.Flush())

	doc := readDocument(t, r.OutputFile())
	router := doc["http"]["routers"]["shared"].(map[string]any)
	assert.Equal(t, "Host(`second.example`)", router["rule"])
}

func TestRemove(t *testing.T) {
	r := newTestRegistry(t)
	r.Register("app1", routerFragment("app1", "Host(`a.example`)"))
	r.Register("app2", routerFragment("app2", "Host(`b.example`)"))
	r.Remove("app1")

	require.NoError(t, r.Flush())

	doc := readDocument(t, r.OutputFile())
	assert.NotContains(t, doc["http"]["routers"], "app1")
	assert.Contains(t, doc["http"]["routers"], "app2")
	assert.Equal(t, []string{"app2"}, r.Apps())
}

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name    string
		doc     Fragment
		wantErr bool
	}{
		{"valid", routerFragment("app1", "Host(`a`)"), false},
		{"udp services", Fragment{"udp": {"services": {"s": nil}}}, false},
		{"unknown section", Fragment{"grpc": {"routers": {"r": nil}}}, true},
		{"unknown group", Fragment{"udp": {"middlewares": {"m": nil}}}, true},
		{"empty resource name", Fragment{"http": {"routers": {"": nil}}}, true},
		{"whitespace in name", Fragment{"http": {"routers": {"a b": nil}}}, true},
		{"newline in name", Fragment{"http": {"routers": {"a\nb": nil}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateDocument(tt.doc)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDocument)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFlushAbortsOnInvalidDocument(t *testing.T) {
	r := newTestRegistry(t)
	r.Register("app1", routerFragment("app1", "Host(`a.example`)"))
	require.NoError(t, r.Flush())
	before, err := os.ReadFile(r.OutputFile())
	require.NoError(t, err)

	// A corrupt merge must never reach disk, even partially.
	r.Register("bad", Fragment{"grpc": {"routers": {"x": nil}}})
	err = r.Flush()
	require.ErrorIs(t, err, ErrInvalidDocument)

	after, readErr := os.ReadFile(r.OutputFile())
	require.NoError(t, readErr)
	assert.Equal(t, before, after)
}

func TestRenameFailureCleansUpTemp(t *testing.T) {
	r := newTestRegistry(t)
	r.Register("app1", routerFragment("app1", "Host(`a.example`)"))
	require.NoError(t, r.Flush())
	before, err := os.ReadFile(r.OutputFile())
	require.NoError(t, err)

	r.renameFn = func(oldpath, newpath string) error {
		return errors.New("simulated rename failure")
	}
	r.Register("app2", routerFragment("app2", "Host(`b.example`)"))
	require.Error(t, r.Flush())

	// No temp file left behind, previous config byte-for-byte unchanged.
	dir := filepath.Dir(r.OutputFile())
	leftovers, globErr := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, globErr)
	assert.Empty(t, leftovers)

	after, readErr := os.ReadFile(r.OutputFile())
	require.NoError(t, readErr)
	assert.Equal(t, before, after)
}

func TestStaleTempSweep(t *testing.T) {
	r := newTestRegistry(t)
	dir := filepath.Dir(r.OutputFile())
	base := filepath.Base(r.OutputFile())
	stale := filepath.Join(dir, "."+base+".dead-beef.tmp")
	require.NoError(t, os.WriteFile(stale, []byte("partial"), 0o644))

	r.Register("app1", routerFragment("app1", "Host(`a.example`)"))
	require.NoError(t, r.Flush())

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestConsecutiveBatchesWriteInOrder(t *testing.T) {
	r := newTestRegistry(t)
	r.debounce = time.Millisecond

	// Stall the first batch's rename long enough for a second batch to
	// register newer state and flush. The second write must not be
	// overtaken by the first: the file must end up with the newer state.
	firstInFlight := make(chan struct{})
	var once sync.Once
	inner := r.renameFn
	r.renameFn = func(oldpath, newpath string) error {
		stalled := false
		once.Do(func() {
			stalled = true
			close(firstInFlight)
		})
		if stalled {
			time.Sleep(150 * time.Millisecond)
		}
		return inner(oldpath, newpath)
	}

	r.Register("app1", routerFragment("app1", "Host(`a.example`)"))
	firstDone := make(chan error, 1)
	go func() { firstDone <- r.Flush() }()
	<-firstInFlight

	r.Register("app2", routerFragment("app2", "Host(`b.example`)"))
	require.NoError(t, r.Flush())
	require.NoError(t, <-firstDone)

	doc := readDocument(t, r.OutputFile())
	assert.Contains(t, doc["http"]["routers"], "app1")
	assert.Contains(t, doc["http"]["routers"], "app2")
}

func TestFlushDebounceCollapsesBurst(t *testing.T) {
	r := newTestRegistry(t)
	r.debounce = 50 * time.Millisecond
	var mu sync.Mutex
	writes := 0
	inner := r.renameFn
	r.renameFn = func(oldpath, newpath string) error {
		mu.Lock()
		writes++
		mu.Unlock()
		return inner(oldpath, newpath)
	}

	r.Register("app1", routerFragment("app1", "Host(`a.example`)"))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.Flush()
		}(i)
	}
	wg.Wait()

	// One write, every caller sharing its outcome.
	mu.Lock()
	assert.Equal(t, 1, writes)
	mu.Unlock()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}
