package progress

import (
	"sort"
	"sync"
)

type entry struct {
	file   string
	reader *Reader
}

// Tracker keeps the readers of in-flight transfers so their progress can be
// observed while they run.
type Tracker struct {
	mu     sync.RWMutex
	active map[string]entry
}

func NewTracker() *Tracker {
	return &Tracker{active: make(map[string]entry)}
}

// Track registers r under identifier until the returned func is called.
func (t *Tracker) Track(identifier, file string, r *Reader) (untrack func()) {
	if t == nil {
		return func() {}
	}

	t.mu.Lock()
	t.active[identifier] = entry{file: file, reader: r}
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.active, identifier)
		t.mu.Unlock()
	}
}

// Snapshots returns the progress of all tracked transfers ordered by identifier.
func (t *Tracker) Snapshots() []Snapshot {
	if t == nil {
		return nil
	}

	t.mu.RLock()
	out := make([]Snapshot, 0, len(t.active))
	for id, e := range t.active {
		s := e.reader.Snapshot()
		s.Identifier = id
		s.File = e.file
		out = append(out, s)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })

	return out
}
