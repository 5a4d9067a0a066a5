package stash

import "time"

// Entry is a single stored value together with its optional expiration.
// Expires is epoch milliseconds; zero means the entry never expires.
type Entry struct {
	Value   any   `json:"value" msgpack:"value"`
	Expires int64 `json:"expires,omitempty" msgpack:"expires,omitempty"`
}

func (e Entry) live(now time.Time) bool {
	return e.Expires == 0 || e.Expires > now.UnixMilli()
}

// slot is the storage for one key. Exactly one of scalar or list is set:
// a key holds either a single entry or an ordered sequence of entries,
// never both.
type slot struct {
	scalar *Entry
	list   []Entry
}

func (sl *slot) hasLive(now time.Time) bool {
	if sl.scalar != nil {
		return sl.scalar.live(now)
	}
	for _, e := range sl.list {
		if e.live(now) {
			return true
		}
	}
	return false
}
