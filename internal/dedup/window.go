package dedup

import "sync"

// DefaultWindowSize bounds how many recent items per source are compared.
const DefaultWindowSize = 200

// Window keeps a bounded ring of recent fingerprints per source. Entries are
// never modified after insertion; appends take the write lock briefly.
type Window struct {
	mu    sync.RWMutex
	size  int
	rings map[string]*ring
}

type ring struct {
	entries []*Fingerprint
	next    int
}

// NewWindow creates a window holding up to size entries per source.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{size: size, rings: make(map[string]*ring)}
}

// Add appends a fingerprint to the source's ring, evicting the oldest when full.
func (w *Window) Add(sourceID string, fp *Fingerprint) {
	w.mu.Lock()
	defer w.mu.Unlock()

	r, ok := w.rings[sourceID]
	if !ok {
		r = &ring{entries: make([]*Fingerprint, 0, w.size)}
		w.rings[sourceID] = r
	}
	if len(r.entries) < w.size {
		r.entries = append(r.entries, fp)
		return
	}
	r.entries[r.next] = fp
	r.next = (r.next + 1) % w.size
}

// Snapshot returns the current fingerprints for a source in no particular order.
func (w *Window) Snapshot(sourceID string) []*Fingerprint {
	w.mu.RLock()
	defer w.mu.RUnlock()

	r, ok := w.rings[sourceID]
	if !ok {
		return nil
	}
	out := make([]*Fingerprint, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of fingerprints held for a source.
func (w *Window) Len(sourceID string) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if r, ok := w.rings[sourceID]; ok {
		return len(r.entries)
	}
	return 0
}

// Size is the per-source capacity.
func (w *Window) Size() int {
	return w.size
}
