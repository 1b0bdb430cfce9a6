package resource

// Handle is an opaque reference to an entry in a table.
// Handle 0 is reserved and always invalid.
type Handle uint32

// Event types for lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventRetained
	EventReleased
	EventDropped
)

var eventNames = [...]string{
	EventCreated:  "created",
	EventRetained: "retained",
	EventReleased: "released",
	EventDropped:  "dropped",
}

func (t EventType) String() string {
	if int(t) < len(eventNames) {
		return eventNames[t]
	}
	return "unknown"
}

// Event represents a lifecycle event. Refs is the reference count after the
// operation; it is 0 for EventDropped.
type Event struct {
	Value  any
	Handle Handle
	TypeID uint32
	Refs   uint32
	Type   EventType
}

// Observer receives notifications about lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnResourceEvent(e Event) { f(e) }

// Dropper is optionally implemented by values that need cleanup when their
// last reference goes away.
type Dropper interface {
	Drop()
}
