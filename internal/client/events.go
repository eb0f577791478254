package client

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/devilmonastery/apiclient/internal/pkg/logger"
	"github.com/devilmonastery/apiclient/internal/pkg/metrics"
)

// LogoutReason says why a session ended
type LogoutReason string

const (
	// LogoutExplicit is an application-requested logout
	LogoutExplicit LogoutReason = "explicit"
	// LogoutRefreshFailed means the refresh endpoint rejected the refresh token or was unreachable
	LogoutRefreshFailed LogoutReason = "refresh_failed"
	// LogoutNoRefreshToken means a 401 arrived with no refresh token to recover with
	LogoutNoRefreshToken LogoutReason = "no_refresh_token"
)

// LogoutEvent is delivered to every subscriber when a session ends
type LogoutEvent struct {
	Reason LogoutReason
	At     time.Time
}

type subscription struct {
	id uint64
	fn func(LogoutEvent)
}

// EventBus broadcasts "session ended" notifications to interested observers,
// such as a UI session context or a telemetry hook.
type EventBus struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscription
	log    *slog.Logger
}

// NewEventBus creates an empty bus. A nil logger uses slog.Default.
func NewEventBus(log *slog.Logger) *EventBus {
	return &EventBus{
		log: logger.Component(log, "auth_event_bus"),
	}
}

// Subscribe registers fn and returns a function that removes exactly this
// registration. Calling the returned function more than once is a no-op.
func (b *EventBus) Subscribe(fn func(LogoutEvent)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *EventBus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool { return s.id == id })
}

// Len returns the number of current subscribers
func (b *EventBus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// NotifyLogout calls every current subscriber synchronously, in subscription
// order. A panicking subscriber is logged and does not stop the others.
// Subscribers may unsubscribe from inside their callback.
func (b *EventBus) NotifyLogout(reason LogoutReason) {
	b.mu.Lock()
	subs := slices.Clone(b.subs)
	b.mu.Unlock()

	metrics.Logouts.WithLabelValues(string(reason)).Inc()
	b.log.Info("session ended", slog.String("reason", string(reason)), slog.Int("subscribers", len(subs)))

	event := LogoutEvent{Reason: reason, At: time.Now()}
	for _, s := range subs {
		if err := invoke(s.fn, event); err != nil {
			b.log.Error("logout subscriber failed",
				slog.Uint64("subscription", s.id),
				slog.String("error", err.Error()))
		}
	}
}

func invoke(fn func(LogoutEvent), event LogoutEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	fn(event)
	return nil
}
