// Package projection derives display structures from a conversation's
// message sequence. It handles ordering and aggregation only; it never
// mutates the input and never talks to the transport or the UI.
package projection

import (
	"sort"
	"time"

	"pairtalk/internal/conversation"
)

const (
	// mergeWindow is the maximum gap between two same-sender messages that
	// still collapse into one group. Exactly mergeWindow apart still merges.
	mergeWindow = 20 * time.Second

	// headerGap is the gap beyond which a new group opens with a fresh
	// timestamp header. Evaluated against the immediately preceding message,
	// not the group's first message.
	headerGap = time.Hour
)

// Group is a contiguous run of messages rendered under one sender, plus a
// flag for whether a timestamp header precedes it. Groups are recomputed on
// every read and never stored.
type Group struct {
	Messages      []conversation.Message
	ShowTimestamp bool
}

// BuildGroups aggregates a conversation's messages into display groups.
// The input may arrive in any order; it is sorted by timestamp first, stable
// with respect to input order on ties, and the input slice is left untouched.
//
// Each message is compared to its immediate predecessor:
//   - more than an hour later: new group with a timestamp header;
//   - same non-system sender within the merge window: appended to the
//     current group;
//   - anything else: new group without a header.
//
// System messages never satisfy the same-sender clause, so they always stand
// alone.
func BuildGroups(messages []conversation.Message) []Group {
	if len(messages) == 0 {
		return nil
	}

	sorted := make([]conversation.Message, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	groups := []Group{{Messages: sorted[:1:1], ShowTimestamp: true}}
	for i := 1; i < len(sorted); i++ {
		msg := sorted[i]
		prev := sorted[i-1]
		elapsed := msg.CreatedAt.Sub(prev.CreatedAt)

		current := &groups[len(groups)-1]
		switch {
		case elapsed > headerGap:
			groups = append(groups, Group{Messages: []conversation.Message{msg}, ShowTimestamp: true})
		case msg.SenderID == prev.SenderID &&
			elapsed <= mergeWindow &&
			msg.SenderID != conversation.SystemUserID:
			current.Messages = append(current.Messages, msg)
		default:
			groups = append(groups, Group{Messages: []conversation.Message{msg}})
		}
	}
	return groups
}

// Flatten restores the sorted message sequence from a set of groups.
// Regrouping a flattened result yields the identical grouping.
func Flatten(groups []Group) []conversation.Message {
	var out []conversation.Message
	for _, g := range groups {
		out = append(out, g.Messages...)
	}
	return out
}
