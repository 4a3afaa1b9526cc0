package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ProbeCache remembers whether fsnotify works in a directory. Network and
// FUSE mounts often accept a watch but never deliver events.
type ProbeCache struct {
	mu      sync.RWMutex
	results map[string]bool
	timeout time.Duration
}

// NewProbeCache creates an empty probe cache whose probes wait up to two
// seconds for an event.
func NewProbeCache() *ProbeCache {
	return &ProbeCache{results: make(map[string]bool), timeout: 2 * time.Second}
}

// Get returns the cached result for dir. ok is false if dir was never probed.
func (pc *ProbeCache) Get(dir string) (supported bool, ok bool) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	supported, ok = pc.results[dir]
	return
}

// Set stores a probe result for dir.
func (pc *ProbeCache) Set(dir string, supported bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.results[dir] = supported
}

// Supported returns the cached result for dir, probing on first use. The
// second result reports whether a probe ran.
func (pc *ProbeCache) Supported(dir string) (supported, probed bool) {
	if supported, ok := pc.Get(dir); ok {
		return supported, false
	}
	supported = ProbeFSNotify(dir, pc.timeout)
	pc.Set(dir, supported)
	return supported, true
}

// ProbeFSNotify writes a scratch file in dir and reports whether fsnotify
// delivered an event for it within timeout. The file is removed again.
func ProbeFSNotify(dir string, timeout time.Duration) bool {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false
	}
	defer w.Close() //nolint:errcheck

	if err := w.Add(dir); err != nil {
		return false
	}

	f, err := os.CreateTemp(dir, ".crateline_probe_*")
	if err != nil {
		return false
	}
	name := f.Name()
	defer os.Remove(name) //nolint:errcheck
	_, werr := f.Write([]byte{0})
	if cerr := f.Close(); werr != nil || cerr != nil {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return false
			}
			if filepath.Clean(ev.Name) == filepath.Clean(name) && (ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)) {
				return true
			}
		case <-w.Errors:
			return false
		case <-timer.C:
			return false
		}
	}
}
