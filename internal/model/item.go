package model

import "maps"

// Item is an extracted record. Field values are opaque to the engine.
type Item map[string]any

// Clone returns a shallow copy.
func (i Item) Clone() Item {
	return maps.Clone(i)
}

// String returns the string value of field, or "".
func (i Item) String(field string) string {
	s, _ := i[field].(string)
	return s
}
