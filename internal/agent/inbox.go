package agent

import "sync"

// InboxKind distinguishes why a message landed on an agent's inbox, per
// spec §4.1: user input is forwarded to the model as-is, reminders are
// wrapped as a system_reminder block rather than persisted as user
// intent, and mentions arrive from a Room.
type InboxKind string

const (
	InboxUser     InboxKind = "user"
	InboxReminder InboxKind = "reminder"
	InboxMention  InboxKind = "mention"
)

// InboxItem is a single enqueued message awaiting the next idle turn.
type InboxItem struct {
	Kind InboxKind
	Text string

	// FromAlias is set for InboxMention items, naming the Room member
	// that sent it.
	FromAlias string
}

// Inbox is an ordered, unbounded FIFO of pending turns. Send enqueues
// from any goroutine; the actor loop drains it exclusively, so no
// locking is needed beyond the queue itself.
type Inbox struct {
	mu    sync.Mutex
	items []InboxItem
}

// NewInbox creates an empty Inbox.
func NewInbox() *Inbox {
	return &Inbox{}
}

// Push enqueues item at the tail.
func (i *Inbox) Push(item InboxItem) {
	i.mu.Lock()
	i.items = append(i.items, item)
	i.mu.Unlock()
}

// Pop removes and returns the head item, if any.
func (i *Inbox) Pop() (InboxItem, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.items) == 0 {
		return InboxItem{}, false
	}
	item := i.items[0]
	i.items = i.items[1:]
	return item, true
}

// Len reports how many items are queued.
func (i *Inbox) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.items)
}
