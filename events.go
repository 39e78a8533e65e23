package offlinecache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// BackgroundSyncTag is the only sync tag the agent reacts to.
const BackgroundSyncTag = "background-sync"

const defaultNotificationBody = "New notification"

// Sync handles a sync event.
// Events with tags other than BackgroundSyncTag are ignored.
func (a *Agent) Sync(ctx context.Context, tag string) error {
	if tag != BackgroundSyncTag {
		a.log.Trace().Str("tag", tag).Msg("Ignoring sync event")
		return nil
	}
	return a.doBackgroundSync(ctx)
}

// doBackgroundSync is a placeholder, failed requests are not queued for replay.
func (a *Agent) doBackgroundSync(ctx context.Context) error {
	a.log.Info().Msg("Background sync triggered")
	return nil
}

// Notification describes a notification to show to the user.
type Notification struct {
	Body    string           `json:"body"`
	Icon    string           `json:"icon"`
	Badge   string           `json:"badge"`
	Vibrate []int            `json:"vibrate"`
	Data    NotificationData `json:"data"`
}

type NotificationData struct {
	// Milliseconds since the epoch.
	DateOfArrival int64 `json:"dateOfArrival"`
	PrimaryKey    int   `json:"primaryKey"`
}

// Notifier is the host facility displaying notifications.
type Notifier interface {
	ShowNotification(ctx context.Context, title string, n Notification) error
}

// LogNotifier "displays" notifications by logging them.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (l LogNotifier) ShowNotification(ctx context.Context, title string, n Notification) error {
	l.Logger.Info().
		Str("title", title).
		Str("body", n.Body).
		Str("icon", n.Icon).
		Ints("vibrate", n.Vibrate).
		Int64("dateOfArrival", n.Data.DateOfArrival).
		Msg("Notification")
	return nil
}

// Push handles a push event by showing a notification.
// A nil payload means the push message had no data.
func (a *Agent) Push(ctx context.Context, data []byte) error {
	body := defaultNotificationBody
	if data != nil {
		body = string(data)
	}
	n := Notification{
		Body:    body,
		Icon:    "icons/icon-192.png",
		Badge:   "icons/icon-192.png",
		Vibrate: []int{100, 50, 100},
		Data: NotificationData{
			DateOfArrival: time.Now().UnixMilli(),
			PrimaryKey:    1,
		},
	}
	a.log.Trace().Str("body", body).Msg("Push received")
	return a.notifier.ShowNotification(ctx, a.notificationTitle, n)
}
