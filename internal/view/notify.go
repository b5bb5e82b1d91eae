package view

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultNotificationTTL is how long a notification stays visible.
const DefaultNotificationTTL = 10 * time.Second

// Notification is a transient user-facing message.
type Notification struct {
	ID        string    `json:"id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type notifications struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items []Notification
}

func newNotifications(ttl time.Duration, now func() time.Time) *notifications {
	if ttl <= 0 {
		ttl = DefaultNotificationTTL
	}
	return &notifications{ttl: ttl, now: now}
}

func (n *notifications) push(level, msg string) Notification {
	now := n.now()
	item := Notification{ID: uuid.NewString(), Level: level, Message: msg, CreatedAt: now, ExpiresAt: now.Add(n.ttl)}
	n.mu.Lock()
	n.items = append(n.pruneLocked(now), item)
	n.mu.Unlock()
	return item
}

func (n *notifications) active() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = n.pruneLocked(n.now())
	out := make([]Notification, len(n.items))
	copy(out, n.items)
	return out
}

func (n *notifications) dismiss(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, item := range n.items {
		if item.ID == id {
			n.items = append(n.items[:i], n.items[i+1:]...)
			return true
		}
	}
	return false
}

func (n *notifications) pruneLocked(now time.Time) []Notification {
	kept := n.items[:0]
	for _, item := range n.items {
		if now.Before(item.ExpiresAt) {
			kept = append(kept, item)
		}
	}
	return kept
}

// Notify records an informational notification.
func (c *Controller) Notify(msg string) Notification {
	return c.notes.push("info", msg)
}

// Dismiss removes a notification before it expires.
func (c *Controller) Dismiss(id string) bool {
	return c.notes.dismiss(id)
}
