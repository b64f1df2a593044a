// Package notify provides fire-and-forget notification delivery.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"alert-trader/internal/config"
	"alert-trader/internal/logging"
)

// Notifier delivers operator messages. Delivery is best effort: callers are
// never blocked on, or told about, channel failures.
type Notifier interface {
	Notify(ctx context.Context, msg string)
	Alert(ctx context.Context, msg string)
}

// NotificationChannel defines the interface for a notification channel.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType
	Message   string
	Timestamp time.Time
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationInfo  NotificationType = "info"
	NotificationError NotificationType = "error"
)

// Text renders the message with a severity marker.
func (n Notification) Text() string {
	if n.Type == NotificationError {
		return "🚨 " + n.Message
	}
	return n.Message
}

// MultiNotifier fans notifications out to every enabled channel in the
// background.
type MultiNotifier struct {
	channels    []NotificationChannel
	sendTimeout time.Duration
	logger      zerolog.Logger
	mu          sync.RWMutex
	wg          sync.WaitGroup
}

// NewMultiNotifier creates a MultiNotifier with the channels enabled in cfg.
// A channel that cannot be constructed is logged and skipped.
func NewMultiNotifier(cfg config.NotificationConfig, logger zerolog.Logger) *MultiNotifier {
	mn := &MultiNotifier{
		sendTimeout: 10 * time.Second,
		logger:      logging.WithComponent(logger, "notify"),
	}
	mn.channels = append(mn.channels, NewLogChannel(logger))

	if !cfg.Enabled {
		return mn
	}
	if cfg.Webhook.Enabled {
		mn.channels = append(mn.channels, NewWebhookChannel(cfg.Webhook))
	}
	if cfg.Telegram.Enabled {
		tg, err := NewTelegramChannel(cfg.Telegram)
		if err != nil {
			mn.logger.Error().Err(err).Msg("Telegram channel disabled")
		} else {
			mn.channels = append(mn.channels, tg)
		}
	}

	return mn
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// Notify sends an informational message.
func (mn *MultiNotifier) Notify(ctx context.Context, msg string) {
	mn.dispatch(ctx, Notification{Type: NotificationInfo, Message: msg})
}

// Alert sends a message that needs operator attention.
func (mn *MultiNotifier) Alert(ctx context.Context, msg string) {
	mn.dispatch(ctx, Notification{Type: NotificationError, Message: msg})
}

// Wait blocks until in-flight deliveries finish.
func (mn *MultiNotifier) Wait() {
	mn.wg.Wait()
}

func (mn *MultiNotifier) dispatch(ctx context.Context, n Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := make([]NotificationChannel, len(mn.channels))
	copy(channels, mn.channels)
	mn.mu.RUnlock()

	// Delivery outlives the caller's context but not the send timeout.
	base := context.WithoutCancel(ctx)

	mn.wg.Add(1)
	go func() {
		defer mn.wg.Done()
		if err := mn.send(base, channels, n); err != nil {
			mn.logger.Warn().Err(err).Msg("Notification delivery failed")
		}
	}()
}

func (mn *MultiNotifier) send(ctx context.Context, channels []NotificationChannel, n Notification) error {
	var errs []string
	for _, ch := range channels {
		if !ch.IsEnabled() {
			continue
		}
		sendCtx, cancel := context.WithTimeout(ctx, mn.sendTimeout)
		err := ch.Send(sendCtx, n)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// LogChannel writes notifications to the structured log.
type LogChannel struct {
	logger zerolog.Logger
}

// NewLogChannel creates a LogChannel.
func NewLogChannel(logger zerolog.Logger) *LogChannel {
	return &LogChannel{logger: logging.WithComponent(logger, "notification")}
}

// Name returns the name of the channel.
func (l *LogChannel) Name() string { return "log" }

// IsEnabled returns whether the channel is enabled.
func (l *LogChannel) IsEnabled() bool { return true }

// Send logs the notification.
func (l *LogChannel) Send(_ context.Context, n Notification) error {
	ev := l.logger.Info()
	if n.Type == NotificationError {
		ev = l.logger.Error()
	}
	ev.Time("at", n.Timestamp).Msg(n.Message)
	return nil
}

// NoOpNotifier is a notifier that does nothing.
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// Notify does nothing.
func (NoOpNotifier) Notify(context.Context, string) {}

// Alert does nothing.
func (NoOpNotifier) Alert(context.Context, string) {}

// Recorder keeps every message in memory, for tests and the CLI dry run.
type Recorder struct {
	mu       sync.Mutex
	messages []Notification
}

// Notify records an informational message.
func (r *Recorder) Notify(_ context.Context, msg string) {
	r.record(Notification{Type: NotificationInfo, Message: msg, Timestamp: time.Now()})
}

// Alert records an error message.
func (r *Recorder) Alert(_ context.Context, msg string) {
	r.record(Notification{Type: NotificationError, Message: msg, Timestamp: time.Now()})
}

func (r *Recorder) record(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, n)
}

// Messages returns a copy of the recorded notifications.
func (r *Recorder) Messages() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.messages))
	copy(out, r.messages)
	return out
}

// Count returns how many recorded messages contain substr.
func (r *Recorder) Count(substr string) int {
	n := 0
	for _, m := range r.Messages() {
		if strings.Contains(m.Message, substr) {
			n++
		}
	}
	return n
}

// Alerts returns how many error notifications were recorded.
func (r *Recorder) Alerts() int {
	n := 0
	for _, m := range r.Messages() {
		if m.Type == NotificationError {
			n++
		}
	}
	return n
}
