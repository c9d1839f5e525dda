package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Notification types surfaced in-app.
const (
	TypeRotationFailed = "secret-rotation-failed"
	TypeSyncFailed     = "secret-sync-failed"
)

// UserNotification is one in-app notification for one user.
type UserNotification struct {
	ID        string
	UserID    string
	OrgID     string
	Type      string
	Title     string
	Body      string
	Link      string
	CreatedAt time.Time
}

// Sink receives in-app notifications.
type Sink interface {
	CreateUserNotifications(ctx context.Context, notifications []UserNotification) error
}

// MemorySink is an in-memory Sink used by the service until a real
// notification backend is attached, and by tests.
type MemorySink struct {
	mu            sync.Mutex
	notifications []UserNotification
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) CreateUserNotifications(ctx context.Context, notifications []UserNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, n := range notifications {
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		s.notifications = append(s.notifications, n)
	}
	return nil
}

// All returns a copy of every stored notification.
func (s *MemorySink) All() []UserNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UserNotification, len(s.notifications))
	copy(out, s.notifications)
	return out
}
