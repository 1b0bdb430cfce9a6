// Package resource provides reference-counted handle tables.
//
// A handle is a small integer naming a host-side entry. Entries carry a type
// ID and a reference count; the slot is recycled once the count drops to
// zero. The js package uses a table per context to track every live host
// reference, and the goja engine uses one as its value heap.
//
// # Handle Table
//
// The UnifiedTable maps integer handles to Go values:
//
//	table := resource.NewTable()
//
//	// Insert a value with one reference
//	handle := table.Insert(typeID, myValue)
//
//	// Add and drop references
//	table.Retain(handle)
//	destroyed, err := table.Release(handle)
//
//	// Drop the entry regardless of its count
//	value, ok := table.Remove(handle)
//
// # Type Safety
//
// Each entry records a type ID chosen by the caller:
//
//	value, ok := table.GetTyped(handle, StringTypeID)
//
// # Observers
//
// Observers see every lifecycle transition:
//
//	id := table.Subscribe(resource.ObserverFunc(func(e resource.Event) {
//	    log.Printf("handle %d %s refs=%d", e.Handle, e.Type, e.Refs)
//	}))
//	defer table.Unsubscribe(id)
//
// # Memory Management
//
// Entries are not garbage collected. Values implementing Dropper have Drop
// called when their entry is destroyed, including by Close.
package resource
