package reminder

import (
	"fmt"
	"math"
	"sync"
	"time"

	"studentcal/internal/model"
)

const (
	DefaultInboxSize  = 100
	notificationTitle = "Schedule reminder"
)

// Notification is an inbox entry created from a Reminder.
type Notification struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Kind      model.Kind `json:"kind"`
	EventKey  string     `json:"event_key"`
	Timestamp time.Time  `json:"timestamp"`
	Read      bool       `json:"read"`
}

// Inbox keeps a session's notifications, newest first, capped at a size.
type Inbox struct {
	mu    sync.RWMutex
	items []Notification
	max   int
}

func NewInbox(max int) *Inbox {
	if max <= 0 {
		max = DefaultInboxSize
	}
	return &Inbox{max: max}
}

// Add records r and returns the stored notification.
func (in *Inbox) Add(r Reminder) Notification {
	n := Notification{
		ID:        r.ID,
		Title:     notificationTitle,
		Message:   message(r),
		Kind:      r.Event.Kind,
		EventKey:  r.Event.Key().String(),
		Timestamp: r.FiredAt,
	}

	in.mu.Lock()
	in.items = append([]Notification{n}, in.items...)
	if len(in.items) > in.max {
		in.items = in.items[:in.max]
	}
	in.mu.Unlock()
	return n
}

func message(r Reminder) string {
	mins := int(math.Ceil(r.StartsIn.Minutes()))
	if mins <= 0 {
		return fmt.Sprintf("%s is starting now", r.Event.Title)
	}
	unit := "minutes"
	if mins == 1 {
		unit = "minute"
	}
	return fmt.Sprintf("%s starts in %d %s", r.Event.Title, mins, unit)
}

// List returns up to limit notifications, newest first; limit <= 0 means all.
func (in *Inbox) List(limit int) []Notification {
	in.mu.RLock()
	defer in.mu.RUnlock()
	n := len(in.items)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]Notification{}, in.items[:n]...)
}

// Unread counts unread notifications.
func (in *Inbox) Unread() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	c := 0
	for _, n := range in.items {
		if !n.Read {
			c++
		}
	}
	return c
}

// MarkRead marks one notification read, reporting whether it exists.
func (in *Inbox) MarkRead(id string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	for i := range in.items {
		if in.items[i].ID == id {
			in.items[i].Read = true
			return true
		}
	}
	return false
}

func (in *Inbox) MarkAllRead() {
	in.mu.Lock()
	for i := range in.items {
		in.items[i].Read = true
	}
	in.mu.Unlock()
}

func (in *Inbox) Clear() {
	in.mu.Lock()
	in.items = nil
	in.mu.Unlock()
}
