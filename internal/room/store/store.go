// Package store implements the replicated session document: a set of named
// key-value maps merged across replicas with field-level last-writer-wins.
//
// Each replica applies its own writes immediately (read-your-writes) and
// broadcasts the resulting op to its peers fire-and-forget. Remote ops merge
// field-wise: a field is taken only when its version is newer under the
// Lamport clock / actor-id ordering, so all replicas converge to the same
// record once every op has propagated, and concurrent writes to different
// fields of one record both survive.
package store

import (
	"maps"

	"github.com/pokersync/pokersync/internal/wire"
)

type record struct {
	fields   map[string]any
	versions map[string]wire.Version
}

// Listener observes applied mutations. It runs synchronously under the
// document's caller, after the mutation is visible.
type Listener func(mapName, key string)

// Doc is one session's replicated document. It is not safe for concurrent
// use; the engine serializes access.
type Doc struct {
	actor     string
	clock     uint64
	maps      map[string]map[string]*record
	listeners []Listener
}

// NewDoc creates an empty document owned by the given actor id.
func NewDoc(actor string) *Doc {
	return &Doc{
		actor: actor,
		maps:  make(map[string]map[string]*record),
	}
}

// Actor returns the owning actor id.
func (d *Doc) Actor() string { return d.actor }

// Subscribe registers a change listener and returns a function that removes
// it. Listeners never observe a partially merged record.
func (d *Doc) Subscribe(fn Listener) func() {
	d.listeners = append(d.listeners, fn)
	idx := len(d.listeners) - 1
	return func() {
		d.listeners[idx] = nil
	}
}

func (d *Doc) notify(mapName, key string) {
	for _, fn := range d.listeners {
		if fn != nil {
			fn(mapName, key)
		}
	}
}

// Get returns a copy of the record's fields, or ok=false when absent.
func (d *Doc) Get(mapName, key string) (map[string]any, bool) {
	rec, ok := d.maps[mapName][key]
	if !ok {
		return nil, false
	}
	return maps.Clone(rec.fields), true
}

// Keys returns the keys present in a map, in no particular order.
func (d *Doc) Keys(mapName string) []string {
	m := d.maps[mapName]
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of records in a map.
func (d *Doc) Len(mapName string) int { return len(d.maps[mapName]) }

// Put writes fields into a record, applying locally and returning the op to
// broadcast. Only fields whose value actually changes are written and tagged;
// when nothing changes the returned op is empty (Op.Fields == nil) and no
// listener fires.
func (d *Doc) Put(mapName, key string, fields map[string]any) wire.Op {
	rec := d.ensure(mapName, key)

	changed := make(map[string]any)
	for name, value := range fields {
		if cur, ok := rec.fields[name]; ok && equalValue(cur, value) {
			continue
		}
		changed[name] = value
	}
	if len(changed) == 0 {
		return wire.Op{}
	}

	d.clock++
	ver := wire.Version{Clock: d.clock, Actor: d.actor}
	versions := make(map[string]wire.Version, len(changed))
	for name, value := range changed {
		rec.fields[name] = value
		rec.versions[name] = ver
		versions[name] = ver
	}

	op := wire.Op{
		Map:      mapName,
		Key:      key,
		Fields:   maps.Clone(changed),
		Versions: versions,
		Actor:    d.actor,
	}
	d.notify(mapName, key)
	return op
}

// Apply merges a remote op and reports whether any field changed. Ops from
// this document's own actor are ignored (they were applied at Put time).
func (d *Doc) Apply(op wire.Op) bool {
	if op.Actor == d.actor || len(op.Fields) == 0 {
		return false
	}
	rec := d.ensure(op.Map, op.Key)

	changed := false
	for name, value := range op.Fields {
		ver, ok := op.Versions[name]
		if !ok {
			continue
		}
		if ver.Clock > d.clock {
			d.clock = ver.Clock
		}
		if cur, ok := rec.versions[name]; ok && !ver.Newer(cur) {
			continue
		}
		rec.fields[name] = value
		rec.versions[name] = ver
		changed = true
	}
	if changed {
		d.notify(op.Map, op.Key)
	}
	return changed
}

// Export returns the whole document as ops, one per record, each field
// carrying the version it was recorded under. Replaying an export through
// Apply is idempotent, so replicas broadcast exports to bring newly arrived
// or reconnected peers up to date.
func (d *Doc) Export() []wire.Op {
	var ops []wire.Op
	for mapName, m := range d.maps {
		for key, rec := range m {
			if len(rec.fields) == 0 {
				continue
			}
			ops = append(ops, wire.Op{
				Map:      mapName,
				Key:      key,
				Fields:   maps.Clone(rec.fields),
				Versions: maps.Clone(rec.versions),
				Actor:    d.actor,
			})
		}
	}
	return ops
}

func (d *Doc) ensure(mapName, key string) *record {
	m, ok := d.maps[mapName]
	if !ok {
		m = make(map[string]*record)
		d.maps[mapName] = m
	}
	rec, ok := m[key]
	if !ok {
		rec = &record{
			fields:   make(map[string]any),
			versions: make(map[string]wire.Version),
		}
		m[key] = rec
	}
	return rec
}

// equalValue compares field values across the local/JSON type split (local
// writes hold int64, remote ops decode numbers as float64).
func equalValue(a, b any) bool {
	if af, ok := asFloat(a); ok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
