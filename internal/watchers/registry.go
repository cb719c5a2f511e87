package watchers

import (
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/on-the-ground/effect_ive_saga/effects"
)

// ID identifies a registration. IDs grow with registration order.
type ID uint64

type watcher struct {
	id         ID
	pattern    effects.Pattern
	resolve    func(event any)
	persistent bool
	active     bool
	keys       []uint64
}

// Registry holds pending waits in registration order.
//
// Keyed patterns are bucketed by the xxhash of each discriminant they accept;
// every other pattern sits in the generic list. Dispatch merges the event's
// bucket with the generic list by ID so resolution stays FIFO across both.
//
// The registry is driven by the scheduler's run loop and is not safe for
// concurrent use.
type Registry struct {
	nextID  ID
	buckets map[uint64][]*watcher
	generic []*watcher
	byID    map[ID]*watcher
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		nextID:  1,
		buckets: make(map[uint64][]*watcher),
		byID:    make(map[ID]*watcher),
	}
}

func hash(key string) uint64 {
	return xxhash.Sum64String(key)
}

// Add registers a one-shot watcher.
func (r *Registry) Add(p effects.Pattern, resolve func(event any)) ID {
	return r.add(p, resolve, false)
}

// Subscribe registers a watcher that stays registered after it matches.
// Action channels use it.
func (r *Registry) Subscribe(p effects.Pattern, resolve func(event any)) ID {
	return r.add(p, resolve, true)
}

func (r *Registry) add(p effects.Pattern, resolve func(event any), persistent bool) ID {
	w := &watcher{
		id:         r.nextID,
		pattern:    p,
		resolve:    resolve,
		persistent: persistent,
		active:     true,
	}
	r.nextID++

	if keyed, ok := p.(effects.Keyed); ok {
		for _, key := range keyed.Keys() {
			h := hash(key)
			if slices.Contains(w.keys, h) {
				continue
			}
			w.keys = append(w.keys, h)
			r.buckets[h] = append(r.buckets[h], w)
		}
	} else {
		r.generic = append(r.generic, w)
	}
	r.byID[w.id] = w
	return w.id
}

// Remove unregisters id. Removing an unknown or already resolved id is a no-op
// and reports false; a watcher is resolved at most once.
func (r *Registry) Remove(id ID) bool {
	w, ok := r.byID[id]
	if !ok {
		return false
	}
	r.remove(w)
	return true
}

func (r *Registry) remove(w *watcher) {
	w.active = false
	delete(r.byID, w.id)
	if w.keys == nil {
		r.generic = without(r.generic, w)
		return
	}
	for _, h := range w.keys {
		bucket := without(r.buckets[h], w)
		if len(bucket) == 0 {
			delete(r.buckets, h)
		} else {
			r.buckets[h] = bucket
		}
	}
}

// Dispatch resolves every watcher registered before the call whose pattern
// accepts event, in registration order, and returns how many resolved.
// Watchers added or removed by a resolution callback are honoured: a removed
// watcher is skipped, an added one waits for the next event.
func (r *Registry) Dispatch(event any) int {
	limit := r.nextID
	candidates := r.candidates(event)

	resolved := 0
	for _, w := range candidates {
		if !w.active || w.id >= limit {
			continue
		}
		if !w.pattern.Match(event) {
			continue
		}
		if !w.persistent {
			r.remove(w)
		}
		resolved++
		w.resolve(event)
	}
	return resolved
}

// Len returns the number of registered watchers.
func (r *Registry) Len() int {
	return len(r.byID)
}

// candidates snapshots the watchers that may accept event, ordered by ID.
func (r *Registry) candidates(event any) []*watcher {
	var keyed []*watcher
	if t, ok := effects.TypeOf(event); ok {
		keyed = r.buckets[hash(t)]
	}
	out := make([]*watcher, 0, len(keyed)+len(r.generic))
	i, j := 0, 0
	for i < len(keyed) && j < len(r.generic) {
		if keyed[i].id < r.generic[j].id {
			out = append(out, keyed[i])
			i++
		} else {
			out = append(out, r.generic[j])
			j++
		}
	}
	out = append(out, keyed[i:]...)
	out = append(out, r.generic[j:]...)
	return out
}

func without(ws []*watcher, w *watcher) []*watcher {
	for i, cur := range ws {
		if cur == w {
			return append(ws[:i:i], ws[i+1:]...)
		}
	}
	return ws
}
