package types

// Event represents a typed event emitted during state transitions.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// EventType implements the events.Event interface.
func (e *Event) EventType() string {
	if e == nil {
		return ""
	}
	return e.Type
}

// Attr returns the attribute stored under key, or the empty string.
func (e *Event) Attr(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}
