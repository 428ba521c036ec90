package channel

import (
	"strconv"
	"strings"
)

// AllowList controls which users may interact with the bot. Entries are
// numeric user IDs or @usernames. An empty or nil AllowList denies
// everyone — security by default.
type AllowList struct {
	ids       map[int64]struct{}
	usernames map[string]struct{}
}

// NewAllowList creates an AllowList with O(1) lookups. Username entries
// are trimmed, lowercased, and stripped of a leading @ at construction
// time so that IsAllowed can use direct map lookups.
func NewAllowList(entries []string) *AllowList {
	a := &AllowList{
		ids:       make(map[int64]struct{}, len(entries)),
		usernames: make(map[string]struct{}, len(entries)),
	}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if id, err := strconv.ParseInt(e, 10, 64); err == nil {
			a.ids[id] = struct{}{}
			continue
		}
		a.usernames[strings.ToLower(strings.TrimPrefix(e, "@"))] = struct{}{}
	}
	return a
}

// IsAllowed reports whether the event's sender is permitted, by user ID
// or by username.
func (a *AllowList) IsAllowed(ev Event) bool {
	if a == nil || (len(a.ids) == 0 && len(a.usernames) == 0) {
		return false
	}
	if _, ok := a.ids[ev.UserID]; ok {
		return true
	}
	if ev.Username == "" {
		return false
	}
	_, ok := a.usernames[strings.ToLower(ev.Username)]
	return ok
}
