package resource

import (
	"sync"
)

// UnifiedTable wraps a LocalBackend with observer notifications and
// Dropper support.
type UnifiedTable struct {
	backend   *LocalBackend
	observers []subscription
	nextSub   SubscriptionID
	obsMu     sync.RWMutex
	closed    bool
	closeMu   sync.RWMutex
}

// NewTable creates a new unified table with a LocalBackend.
func NewTable() *UnifiedTable {
	return &UnifiedTable{
		backend: NewLocalBackend(),
	}
}

// Insert adds a value with one reference and returns its handle, or 0 once
// the table is closed.
func (t *UnifiedTable) Insert(typeID uint32, value any) Handle {
	t.closeMu.RLock()
	if t.closed {
		t.closeMu.RUnlock()
		return 0
	}
	t.closeMu.RUnlock()

	handle, err := t.backend.Create(typeID, value)
	if err != nil {
		return 0
	}

	t.notify(Event{
		Type:   EventCreated,
		Handle: handle,
		TypeID: typeID,
		Refs:   1,
		Value:  value,
	})

	return handle
}

// Get retrieves a value by handle.
func (t *UnifiedTable) Get(handle Handle) (any, bool) {
	return t.backend.Get(handle)
}

// GetTyped retrieves a value only if it matches the expected type.
func (t *UnifiedTable) GetTyped(handle Handle, typeID uint32) (any, bool) {
	actualTypeID, ok := t.backend.TypeID(handle)
	if !ok || actualTypeID != typeID {
		return nil, false
	}
	return t.backend.Get(handle)
}

// Retain adds a reference to handle.
func (t *UnifiedTable) Retain(handle Handle) error {
	refs, err := t.backend.Retain(handle)
	if err != nil {
		return err
	}
	typeID, _ := t.backend.TypeID(handle)
	t.notify(Event{
		Type:   EventRetained,
		Handle: handle,
		TypeID: typeID,
		Refs:   refs,
	})
	return nil
}

// Release drops one reference. It reports whether the entry was destroyed
// and fails for an unknown handle.
func (t *UnifiedTable) Release(handle Handle) (bool, error) {
	typeID, _ := t.backend.TypeID(handle)
	value, refs, ok := t.backend.Release(handle)
	if !ok {
		return false, ErrInvalidHandle
	}
	if refs > 0 {
		t.notify(Event{
			Type:   EventReleased,
			Handle: handle,
			TypeID: typeID,
			Refs:   refs,
		})
		return false, nil
	}
	t.dropped(handle, typeID, value)
	return true, nil
}

// Remove drops an entry regardless of its count and returns (value, true)
// if found.
func (t *UnifiedTable) Remove(handle Handle) (any, bool) {
	typeID, _ := t.backend.TypeID(handle)
	value, ok := t.backend.Drop(handle)
	if !ok {
		return nil, false
	}
	t.dropped(handle, typeID, value)
	return value, true
}

func (t *UnifiedTable) dropped(handle Handle, typeID uint32, value any) {
	if d, ok := value.(Dropper); ok {
		d.Drop()
	}

	t.notify(Event{
		Type:   EventDropped,
		Handle: handle,
		TypeID: typeID,
		Value:  value,
	})
}

// Refs returns the reference count of a live entry.
func (t *UnifiedTable) Refs(handle Handle) (uint32, bool) {
	return t.backend.Refs(handle)
}

// SubscriptionID identifies one Subscribe call.
type SubscriptionID uint64

type subscription struct {
	id SubscriptionID
	o  Observer
}

// Subscribe adds an observer for lifecycle events. The returned ID
// removes it again.
func (t *UnifiedTable) Subscribe(o Observer) SubscriptionID {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.nextSub++
	t.observers = append(t.observers, subscription{id: t.nextSub, o: o})
	return t.nextSub
}

// Unsubscribe removes the observer added under id. Unknown IDs are ignored.
func (t *UnifiedTable) Unsubscribe(id SubscriptionID) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, sub := range t.observers {
		if sub.id == id {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// Len returns the number of live entries.
func (t *UnifiedTable) Len() int {
	return t.backend.Len()
}

// Each iterates over all live entries.
func (t *UnifiedTable) Each(fn func(Handle, uint32, any) bool) {
	t.backend.Each(fn)
}

// Clear drops all entries.
func (t *UnifiedTable) Clear() {
	// Collect handles first to avoid holding lock during Remove
	var handles []Handle
	t.backend.Each(func(h Handle, typeID uint32, value any) bool {
		handles = append(handles, h)
		return true
	})
	for _, h := range handles {
		t.Remove(h)
	}
}

// Close releases all entries and stops accepting inserts.
func (t *UnifiedTable) Close() error {
	t.closeMu.Lock()
	t.closed = true
	t.closeMu.Unlock()

	return t.backend.Close()
}

// Backend returns the underlying backend.
func (t *UnifiedTable) Backend() *LocalBackend {
	return t.backend
}

func (t *UnifiedTable) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, sub := range t.observers {
		sub.o.OnResourceEvent(e)
	}
}
