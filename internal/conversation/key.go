// Package conversation holds the core data model for two-party chats: the
// symmetric conversation key, the immutable message value, and the in-memory
// store that owns every conversation for the lifetime of the process.
package conversation

import "fmt"

// Key addresses a two-party conversation. The same pair of participants
// always resolves to the same key regardless of argument order, so every
// component that needs room or map addressing goes through KeyFor.
type Key string

// KeyFor builds the symmetric key for a participant pair. Total over all
// integer pairs, including equal, zero, and negative ids.
func KeyFor(a, b int) Key {
	if a > b {
		a, b = b, a
	}
	return Key(fmt.Sprintf("%d:%d", a, b))
}

func (k Key) String() string { return string(k) }
