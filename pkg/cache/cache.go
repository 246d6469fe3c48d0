// Package cache stores transform output addressed by transform key.
//
// Entries are append-only: Put never replaces an entry that is already
// present, and Delete exists only so that callers can invalidate an entry
// they have proven to be stale.
package cache

import (
	"encoding/json"
	"sync"
	"time"
)

// Warning is a non-fatal diagnostic produced while transforming.
type Warning struct {
	Text   string `json:"text"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// Entry is one cached transform result plus the metadata needed for
// validation and eviction.
type Entry struct {
	Key        string          `json:"key"`
	SourceHash string          `json:"sourceHash"`
	Code       string          `json:"code"`
	Map        json.RawMessage `json:"map,omitempty"`
	Warnings   []Warning       `json:"warnings,omitempty"`
	Created    time.Time       `json:"created"`
	Size       int             `json:"size"`
}

type Cache interface {
	// Get returns the entry stored under key.
	Get(key string) (*Entry, bool)
	// Put stores e under key unless an entry is already present.
	Put(key string, e *Entry)
	// Delete removes the entry under key.
	Delete(key string)
}

// NewEntry builds an entry and fills in its size and creation time.
func NewEntry(key, sourceHash, code string, sourceMap []byte, warnings []Warning) *Entry {
	return &Entry{
		Key:        key,
		SourceHash: sourceHash,
		Code:       code,
		Map:        sourceMap,
		Warnings:   warnings,
		Created:    time.Now().UTC(),
		Size:       len(code) + len(sourceMap),
	}
}

// Memory is an in-process cache safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

var _ Cache = &Memory{}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*Entry)}
}

func (m *Memory) Get(key string) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return e, ok
}

func (m *Memory) Put(key string, e *Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; ok {
		return
	}
	m.entries[key] = e
}

func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// Len returns the number of entries held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Layered serves reads from Front first, falling back to Back and promoting
// hits into Front. Writes go to both.
type Layered struct {
	Front Cache
	Back  Cache
}

var _ Cache = &Layered{}

func (l *Layered) Get(key string) (*Entry, bool) {
	if e, ok := l.Front.Get(key); ok {
		return e, true
	}
	e, ok := l.Back.Get(key)
	if !ok {
		return nil, false
	}
	l.Front.Put(key, e)
	return e, true
}

func (l *Layered) Put(key string, e *Entry) {
	l.Front.Put(key, e)
	l.Back.Put(key, e)
}

func (l *Layered) Delete(key string) {
	l.Front.Delete(key)
	l.Back.Delete(key)
}

// Nop never stores anything. It is used when caching is disabled.
type Nop struct{}

var _ Cache = Nop{}

func (Nop) Get(string) (*Entry, bool) { return nil, false }
func (Nop) Put(string, *Entry)        {}
func (Nop) Delete(string)             {}
