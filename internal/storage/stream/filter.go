package stream

import "slices"

// WatchFilter selects change events. Empty fields match everything.
type WatchFilter struct {
	// TypeNames restricts events to objects of these registered types.
	TypeNames []string
	// OIDs restricts events to these objects.
	OIDs []uint64
	// Operations restricts events to these operation types.
	Operations []OperationType
}

// Matches returns true if the event matches the filter criteria.
func (f *WatchFilter) Matches(event *ChangeEvent) bool {
	if event == nil {
		return false
	}
	if len(f.Operations) > 0 && !slices.Contains(f.Operations, event.Operation) {
		return false
	}
	if len(f.TypeNames) > 0 && !slices.Contains(f.TypeNames, event.TypeName) {
		return false
	}
	if len(f.OIDs) > 0 && !slices.Contains(f.OIDs, event.OID) {
		return false
	}
	return true
}

// MatchAll returns a filter that matches all events.
func MatchAll() WatchFilter {
	return WatchFilter{}
}

// MatchType returns a filter for the objects of one registered type.
func MatchType(typeName string) WatchFilter {
	return WatchFilter{TypeNames: []string{typeName}}
}

// MatchObject returns a filter for a single object.
func MatchObject(oid uint64) WatchFilter {
	return WatchFilter{OIDs: []uint64{oid}}
}
