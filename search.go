package chatsync

import (
	"sort"
	"strings"
)

// Filter returns the chats whose title or any message text contains query,
// case-insensitively, in their original order. An empty query returns chats
// unchanged.
func Filter(chats []Chat, query string) []Chat {
	if query == "" {
		return chats
	}
	q := strings.ToLower(query)
	out := make([]Chat, 0, len(chats))
	for _, c := range chats {
		if matches(c, q) {
			out = append(out, c)
		}
	}
	return out
}

func matches(c Chat, lowerQuery string) bool {
	if strings.Contains(strings.ToLower(c.Title), lowerQuery) {
		return true
	}
	for _, m := range c.Messages {
		if strings.Contains(strings.ToLower(m.Text), lowerQuery) {
			return true
		}
	}
	return false
}

// Sections splits chats into pinned and recent, each ordered by last
// activity, newest first.
func Sections(chats []Chat) (pinned, recent []Chat) {
	for _, c := range chats {
		if c.IsPinned {
			pinned = append(pinned, c)
		} else {
			recent = append(recent, c)
		}
	}
	byActivity := func(list []Chat) {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].LastActivity.After(list[j].LastActivity)
		})
	}
	byActivity(pinned)
	byActivity(recent)
	return pinned, recent
}
