package realtime

import "sync"

// DefaultFeedCap bounds the number of notifications kept around. Old items
// are discarded first.
const DefaultFeedCap = 50

// Feed is the bounded list of pending notification items. Appends past the
// cap discard the oldest item.
type Feed struct {
	mu    sync.Mutex
	cap   int
	items []Notification
}

func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = DefaultFeedCap
	}
	return &Feed{cap: capacity}
}

// Append adds a notification, evicting the oldest item when full.
func (f *Feed) Append(n Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.items = append(f.items, n)
	if len(f.items) > f.cap {
		f.items = f.items[len(f.items)-f.cap:]
	}
}

// Items returns a snapshot of the pending notifications, oldest first.
func (f *Feed) Items() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Notification, len(f.items))
	copy(out, f.items)
	return out
}

// Len returns the number of pending notifications.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// Activate removes the item and returns it so the caller can navigate to
// the orders view. The boolean is false when the id is not in the feed.
func (f *Feed) Activate(id string) (Notification, bool) {
	return f.remove(id)
}

// Dismiss removes the item without navigation.
func (f *Feed) Dismiss(id string) bool {
	_, ok := f.remove(id)
	return ok
}

func (f *Feed) remove(id string) (Notification, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, n := range f.items {
		if n.ID == id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return n, true
		}
	}
	return Notification{}, false
}
