package resource

import (
	"errors"
	"testing"
)

type testObserver struct {
	events []Event
}

func (o *testObserver) OnResourceEvent(e Event) {
	o.events = append(o.events, e)
}

func TestUnifiedTable_Basic(t *testing.T) {
	table := NewTable()

	// Insert
	h := table.Insert(1, "test")
	if h == 0 {
		t.Fatal("Expected non-zero handle")
	}

	// Get
	val, ok := table.Get(h)
	if !ok {
		t.Fatal("Get failed")
	}
	if val != "test" {
		t.Fatalf("Expected 'test', got %v", val)
	}

	// GetTyped with correct type
	_, ok = table.GetTyped(h, 1)
	if !ok {
		t.Fatal("GetTyped with correct type failed")
	}

	// GetTyped with wrong type
	_, ok = table.GetTyped(h, 2)
	if ok {
		t.Fatal("GetTyped with wrong type should fail")
	}

	// Remove
	val, ok = table.Remove(h)
	if !ok {
		t.Fatal("Remove failed")
	}
	if val != "test" {
		t.Fatalf("Expected 'test', got %v", val)
	}

	// Second Remove is a miss
	if _, ok := table.Remove(h); ok {
		t.Fatal("second Remove should fail")
	}

	// Len should be 0
	if table.Len() != 0 {
		t.Fatal("Expected Len() == 0 after Remove")
	}
}

func TestUnifiedTable_Observer(t *testing.T) {
	table := NewTable()
	obs := &testObserver{}
	id := table.Subscribe(obs)

	h := table.Insert(1, "test")
	if err := table.Retain(h); err != nil {
		t.Fatalf("Retain failed: %v", err)
	}
	if _, err := table.Release(h); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	table.Remove(h)

	want := []struct {
		typ  EventType
		refs uint32
	}{
		{EventCreated, 1},
		{EventRetained, 2},
		{EventReleased, 1},
		{EventDropped, 0},
	}
	if len(obs.events) != len(want) {
		t.Fatalf("Expected %d events, got %d", len(want), len(obs.events))
	}
	for i, w := range want {
		e := obs.events[i]
		if e.Type != w.typ || e.Refs != w.refs || e.Handle != h || e.TypeID != 1 {
			t.Errorf("event %d = %+v, want type=%s refs=%d", i, e, w.typ, w.refs)
		}
	}

	// Unsubscribe
	table.Unsubscribe(id)
	table.Insert(1, "test2")
	if len(obs.events) != len(want) {
		t.Fatal("Should not receive events after Unsubscribe")
	}
}

func TestUnifiedTable_ObserverFunc(t *testing.T) {
	table := NewTable()
	var got []EventType
	table.Subscribe(ObserverFunc(func(e Event) {
		got = append(got, e.Type)
	}))

	h := table.Insert(1, "x")
	destroyed, err := table.Release(h)
	if err != nil || !destroyed {
		t.Fatalf("Release = (%v, %v), want (true, nil)", destroyed, err)
	}

	if len(got) != 2 || got[0] != EventCreated || got[1] != EventDropped {
		t.Fatalf("events = %v", got)
	}
}

func TestUnifiedTable_UnsubscribeFunc(t *testing.T) {
	table := NewTable()
	var first, second int
	id1 := table.Subscribe(ObserverFunc(func(Event) { first++ }))
	id2 := table.Subscribe(ObserverFunc(func(Event) { second++ }))
	if id1 == id2 {
		t.Fatalf("Subscribe returned duplicate id %d", id1)
	}

	table.Insert(1, "a")
	table.Unsubscribe(id1)
	table.Unsubscribe(id1)
	table.Unsubscribe(SubscriptionID(999))
	table.Insert(1, "b")

	if first != 1 {
		t.Errorf("unsubscribed observer saw %d events, want 1", first)
	}
	if second != 2 {
		t.Errorf("remaining observer saw %d events, want 2", second)
	}
}

func TestUnifiedTable_ReleaseInvalid(t *testing.T) {
	table := NewTable()

	if _, err := table.Release(42); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("Release(42) = %v, want ErrInvalidHandle", err)
	}
	if err := table.Retain(0); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("Retain(0) = %v, want ErrInvalidHandle", err)
	}
}

func TestUnifiedTable_Clear(t *testing.T) {
	table := NewTable()

	table.Insert(1, "a")
	table.Insert(1, "b")
	table.Insert(1, "c")

	if table.Len() != 3 {
		t.Fatal("Expected Len() == 3")
	}

	table.Clear()

	if table.Len() != 0 {
		t.Fatal("Expected Len() == 0 after Clear")
	}
}

func TestUnifiedTable_Close(t *testing.T) {
	table := NewTable()

	table.Insert(1, "a")
	table.Insert(1, "b")

	if err := table.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Insert should fail after Close
	h := table.Insert(1, "c")
	if h != 0 {
		t.Fatal("Expected Insert to fail after Close")
	}
}

func TestUnifiedTable_Backend(t *testing.T) {
	table := NewTable()
	backend := table.Backend()

	if backend == nil {
		t.Fatal("Backend() returned nil")
	}

	h := table.Insert(7, "v")
	if typeID, ok := backend.TypeID(h); !ok || typeID != 7 {
		t.Fatalf("TypeID = (%d, %v), want (7, true)", typeID, ok)
	}
}

type dropCounter struct {
	count int
}

func (d *dropCounter) Drop() {
	d.count++
}

func TestUnifiedTable_DropperInterface(t *testing.T) {
	table := NewTable()

	d := &dropCounter{}
	h := table.Insert(1, d)
	table.Remove(h)
	if d.count != 1 {
		t.Fatalf("Expected Drop() to be called once, called %d times", d.count)
	}

	// Drop runs only when the last reference goes
	d2 := &dropCounter{}
	h2 := table.Insert(1, d2)
	table.Retain(h2)
	table.Release(h2)
	if d2.count != 0 {
		t.Fatal("Drop() called with a reference outstanding")
	}
	table.Release(h2)
	if d2.count != 1 {
		t.Fatalf("Expected Drop() once, called %d times", d2.count)
	}

	// Close drops what is left
	d3 := &dropCounter{}
	table.Insert(1, d3)
	table.Close()
	if d3.count != 1 {
		t.Fatalf("Expected Drop() on Close, called %d times", d3.count)
	}
}
