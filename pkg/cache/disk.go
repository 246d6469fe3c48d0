package cache

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentpkg/tsx/pkg/store"
)

const (
	transformsDir = "transforms"
	entryExt      = ".json"
	entryPerm     = 0o644
)

// Disk persists entries as JSON files in a store, sharded by the first two
// characters of the key.
type Disk struct {
	store store.Store
}

var _ Cache = &Disk{}

func NewDisk(s store.Store) *Disk {
	return &Disk{store: s}
}

func (d *Disk) segments(key string) []string {
	shard := key
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return []string{transformsDir, shard, key + entryExt}
}

func (d *Disk) Get(key string) (*Entry, bool) {
	data, err := d.store.ReadFile(d.segments(key)...)
	if err != nil {
		return nil, false
	}

	e := &Entry{}
	if err := json.Unmarshal(data, e); err != nil || e.Key != key {
		// unreadable or misplaced entries are dropped so they get rebuilt
		d.Delete(key)
		return nil, false
	}
	return e, true
}

func (d *Disk) Put(key string, e *Entry) {
	segs := d.segments(key)
	if ok, _ := d.store.Exists(segs...); ok {
		return
	}

	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	// a failed write only costs a future cache miss
	if err := d.store.WriteFile(data, entryPerm, segs...); err != nil {
		Logger().Debug("writing cache entry", zap.String("key", key), zap.Error(err))
	}
}

func (d *Disk) Delete(key string) {
	if err := d.store.Remove(d.segments(key)...); err != nil {
		Logger().Debug("removing cache entry", zap.String("key", key), zap.Error(err))
	}
}

// Stats summarises what is on disk.
type Stats struct {
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
	Root    string `json:"root"`
}

func (d *Disk) Stats() (Stats, error) {
	files, err := d.store.Walk(transformsDir)
	if err != nil {
		return Stats{}, fmt.Errorf("listing cache entries: %w", err)
	}

	st := Stats{Root: d.store.Path(transformsDir)}
	for _, f := range files {
		if !strings.HasSuffix(f.Rel, entryExt) {
			continue
		}
		st.Entries++
		st.Bytes += f.Size
	}
	return st, nil
}

// Prune removes entries created before the given time and returns how many
// were removed.
func (d *Disk) Prune(before time.Time) (int, error) {
	files, err := d.store.Walk(transformsDir)
	if err != nil {
		return 0, fmt.Errorf("listing cache entries: %w", err)
	}

	removed := 0
	for _, f := range files {
		if !strings.HasSuffix(f.Rel, entryExt) {
			continue
		}
		segs := append([]string{transformsDir}, strings.Split(filepath.ToSlash(f.Rel), "/")...)

		created := f.Info.ModTime()
		if data, err := d.store.ReadFile(segs...); err == nil {
			var e Entry
			if json.Unmarshal(data, &e) == nil && !e.Created.IsZero() {
				created = e.Created
			}
		}
		if created.Before(before) {
			if err := d.store.Remove(segs...); err != nil {
				return removed, fmt.Errorf("removing %s: %w", f.Rel, err)
			}
			removed++
		}
	}
	return removed, nil
}

// Clear removes every entry.
func (d *Disk) Clear() error {
	return d.store.Remove(transformsDir)
}
