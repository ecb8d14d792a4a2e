package store

import (
	"sync"

	"github.com/geosdi/radar-archiver/internal/domain"
)

// DedupIndex tracks which download keys have in-flight or completed work so
// repeated notifications for the same product never trigger duplicate
// downloads. Lifecycle: a key is acquired before enqueue, completed on
// success (retained for the process lifetime), and released on failure so a
// later notification can retry. Nothing persists across restarts; on-disk
// artifact presence is the recovery mechanism.
type DedupIndex struct {
	mu      sync.Mutex
	entries map[domain.DownloadKey]domain.TaskState
}

// NewDedupIndex creates an empty index.
func NewDedupIndex() *DedupIndex {
	return &DedupIndex{entries: make(map[domain.DownloadKey]domain.TaskState)}
}

// Acquire admits key for download, marking it in-flight. Returns false if
// the key is already in flight or done; at most one caller per key ever
// sees true until the key is released.
func (d *DedupIndex) Acquire(key domain.DownloadKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.entries[key]; exists {
		return false
	}
	d.entries[key] = domain.TaskInFlight
	return true
}

// Complete marks key as permanently done. Done keys are never re-admitted
// within the process lifetime.
func (d *DedupIndex) Complete(key domain.DownloadKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[key] = domain.TaskDone
}

// Release forgets key entirely, re-admitting future notifications for it.
// Called when a task fails; the re-sent notification is the retry mechanism.
func (d *DedupIndex) Release(key domain.DownloadKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, key)
}

// Contains reports whether key currently has an entry, in-flight or done.
func (d *DedupIndex) Contains(key domain.DownloadKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, exists := d.entries[key]
	return exists
}

// Len returns the number of tracked keys.
func (d *DedupIndex) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
