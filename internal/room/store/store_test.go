package store

import (
	"reflect"
	"testing"

	"github.com/pokersync/pokersync/internal/wire"
)

func TestPutIsVisibleImmediately(t *testing.T) {
	d := NewDoc("a")
	op := d.Put("users", "u1", map[string]any{"name": "alice", "joinedAt": int64(100)})

	if len(op.Fields) != 2 {
		t.Fatalf("expected 2 changed fields, got %d", len(op.Fields))
	}
	fields, ok := d.Get("users", "u1")
	if !ok {
		t.Fatal("expected record to exist after Put")
	}
	if fields["name"] != "alice" {
		t.Errorf("name = %v, want alice", fields["name"])
	}
}

func TestPutSkipsUnchangedFields(t *testing.T) {
	d := NewDoc("a")
	d.Put("users", "u1", map[string]any{"name": "alice", "isOnline": true})

	op := d.Put("users", "u1", map[string]any{"name": "alice", "isOnline": false})
	if len(op.Fields) != 1 {
		t.Fatalf("expected only the changed field in the op, got %v", op.Fields)
	}
	if _, ok := op.Fields["isOnline"]; !ok {
		t.Errorf("expected isOnline in op, got %v", op.Fields)
	}

	empty := d.Put("users", "u1", map[string]any{"name": "alice"})
	if len(empty.Fields) != 0 {
		t.Errorf("expected empty op for a no-change put, got %v", empty.Fields)
	}
}

func TestPutTreatsJSONNumbersAsEqual(t *testing.T) {
	d := NewDoc("a")
	d.Put("users", "u1", map[string]any{"joinedAt": int64(100)})

	// The same value arriving through a JSON decode must not count as a change.
	op := d.Put("users", "u1", map[string]any{"joinedAt": float64(100)})
	if len(op.Fields) != 0 {
		t.Errorf("expected no-op for numerically equal value, got %v", op.Fields)
	}
}

func TestApplyIgnoresOwnOps(t *testing.T) {
	d := NewDoc("a")
	op := d.Put("users", "u1", map[string]any{"name": "alice"})

	if d.Apply(op) {
		t.Error("expected Apply to ignore the doc's own op")
	}
}

func TestApplyMergesNewerField(t *testing.T) {
	a := NewDoc("a")
	b := NewDoc("b")

	op := a.Put("users", "u1", map[string]any{"name": "alice"})
	if !b.Apply(op) {
		t.Fatal("expected remote op to change b")
	}
	fields, _ := b.Get("users", "u1")
	if fields["name"] != "alice" {
		t.Errorf("name = %v, want alice", fields["name"])
	}

	// Replaying the same op is a no-op.
	if b.Apply(op) {
		t.Error("expected replayed op to change nothing")
	}
}

func TestConcurrentFieldEditsBothSurvive(t *testing.T) {
	a := NewDoc("a")
	b := NewDoc("b")

	seed := a.Put("users", "u1", map[string]any{"name": "alice", "isOnline": false})
	b.Apply(seed)

	// Concurrent edits to different fields of the same record.
	opA := a.Put("users", "u1", map[string]any{"name": "alicia"})
	opB := b.Put("users", "u1", map[string]any{"isOnline": true})

	a.Apply(opB)
	b.Apply(opA)

	fa, _ := a.Get("users", "u1")
	fb, _ := b.Get("users", "u1")
	if !reflect.DeepEqual(fa, fb) {
		t.Fatalf("replicas diverged: a=%v b=%v", fa, fb)
	}
	if fa["name"] != "alicia" || fa["isOnline"] != true {
		t.Errorf("expected both edits to survive, got %v", fa)
	}
}

func TestConcurrentSameFieldConverges(t *testing.T) {
	// Same Lamport clock on both writes forces the actor-id tiebreak; the
	// lexicographically greater actor must win on both replicas regardless
	// of delivery order.
	a := NewDoc("a")
	b := NewDoc("b")

	opA := a.Put("meta", "leaderId", map[string]any{"value": "from-a"})
	opB := b.Put("meta", "leaderId", map[string]any{"value": "from-b"})
	if opA.Versions["value"].Clock != opB.Versions["value"].Clock {
		t.Fatalf("test setup: expected identical clocks, got %v vs %v", opA.Versions, opB.Versions)
	}

	a.Apply(opB)
	b.Apply(opA)

	fa, _ := a.Get("meta", "leaderId")
	fb, _ := b.Get("meta", "leaderId")
	if fa["value"] != fb["value"] {
		t.Fatalf("replicas diverged: a=%v b=%v", fa["value"], fb["value"])
	}
	if fa["value"] != "from-b" {
		t.Errorf("expected actor b to win the tiebreak, got %v", fa["value"])
	}
}

func TestApplyAdvancesClock(t *testing.T) {
	a := NewDoc("a")
	b := NewDoc("b")

	a.Put("users", "u1", map[string]any{"name": "one"})
	op := a.Put("users", "u1", map[string]any{"name": "two"})
	b.Apply(op)

	// b's next write must order after everything it has seen.
	next := b.Put("users", "u1", map[string]any{"name": "three"})
	if got, want := next.Versions["name"].Clock, op.Versions["name"].Clock; got <= want {
		t.Errorf("clock did not advance past applied op: got %d, want > %d", got, want)
	}
	if a.Apply(next) {
		fa, _ := a.Get("users", "u1")
		if fa["name"] != "three" {
			t.Errorf("expected later write to win on a, got %v", fa["name"])
		}
	} else {
		t.Error("expected a to accept b's later write")
	}
}

func TestSubscribeNotifiesOnChange(t *testing.T) {
	d := NewDoc("a")

	type event struct{ mapName, key string }
	var got []event
	unsubscribe := d.Subscribe(func(mapName, key string) {
		got = append(got, event{mapName, key})
	})

	d.Put("users", "u1", map[string]any{"name": "alice"})
	d.Put("users", "u1", map[string]any{"name": "alice"}) // no change, no event
	d.Apply(wire.Op{
		Map:      "rounds",
		Key:      "r1",
		Fields:   map[string]any{"isActive": true},
		Versions: map[string]wire.Version{"isActive": {Clock: 9, Actor: "b"}},
		Actor:    "b",
	})

	want := []event{{"users", "u1"}, {"rounds", "r1"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}

	unsubscribe()
	d.Put("users", "u1", map[string]any{"name": "bob"})
	if len(got) != 2 {
		t.Errorf("expected no events after unsubscribe, got %v", got)
	}
}

func TestKeysAndLen(t *testing.T) {
	d := NewDoc("a")
	d.Put("votes", "r1_u1", map[string]any{"value": "5"})
	d.Put("votes", "r1_u2", map[string]any{"value": "8"})

	if d.Len("votes") != 2 {
		t.Errorf("Len = %d, want 2", d.Len("votes"))
	}
	keys := d.Keys("votes")
	if len(keys) != 2 {
		t.Errorf("Keys = %v, want 2 entries", keys)
	}
	if d.Len("users") != 0 {
		t.Errorf("expected empty map to have Len 0")
	}
}

func TestExportBringsFreshReplicaUpToDate(t *testing.T) {
	a := NewDoc("a")
	b := NewDoc("b")
	a.Put("users", "u1", map[string]any{"name": "alice", "isOnline": true})
	for _, op := range []wire.Op{
		a.Put("rounds", "r1", map[string]any{"isActive": true}),
	} {
		b.Apply(op)
	}
	b.Put("votes", "r1_b", map[string]any{"value": "8"})

	c := NewDoc("c")
	for _, op := range b.Export() {
		c.Apply(op)
	}
	for _, op := range a.Export() {
		c.Apply(op)
	}

	if fields, ok := c.Get("users", "u1"); !ok || fields["name"] != "alice" {
		t.Errorf("users/u1 on c = %v, want alice's record", fields)
	}
	if fields, ok := c.Get("rounds", "r1"); !ok || fields["isActive"] != true {
		t.Errorf("rounds/r1 on c = %v, want active round", fields)
	}
	if fields, ok := c.Get("votes", "r1_b"); !ok || fields["value"] != "8" {
		t.Errorf("votes/r1_b on c = %v, want b's vote", fields)
	}

	// A second replay must not disturb anything newer written meanwhile.
	c.Put("users", "u1", map[string]any{"name": "renamed"})
	for _, op := range a.Export() {
		c.Apply(op)
	}
	if fields, _ := c.Get("users", "u1"); fields["name"] != "renamed" {
		t.Errorf("replaying an export clobbered a newer write: %v", fields)
	}
}
