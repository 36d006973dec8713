// Package notifier pushes operator alerts for lifecycle failures through
// shoutrrr. Notification targets are raw shoutrrr URLs from configuration;
// there is no per-user routing, these are service-operator alerts.
package notifier

import (
	"fmt"

	"github.com/containrrr/shoutrrr"

	"github.com/mescon/desup/internal/domain"
	"github.com/mescon/desup/internal/eventbus"
	"github.com/mescon/desup/internal/logger"
)

// Notifier forwards failure events to the configured notification URLs.
type Notifier struct {
	eb   eventbus.Publisher
	urls []string

	// send is swappable for tests
	send func(url, message string) error
}

// NewNotifier creates a notifier for the given shoutrrr URLs. An empty URL
// list yields a notifier that subscribes to nothing.
func NewNotifier(eb eventbus.Publisher, urls []string) *Notifier {
	return &Notifier{
		eb:   eb,
		urls: urls,
		send: func(url, message string) error {
			return shoutrrr.Send(url, message)
		},
	}
}

// Start subscribes to the failure events operators care about.
func (n *Notifier) Start() {
	if len(n.urls) == 0 {
		logger.Debugf("No notification URLs configured, notifier idle")
		return
	}
	n.eb.Subscribe(domain.ScanStartFailed, n.handleEvent)
	n.eb.Subscribe(domain.DeletionFailed, n.handleEvent)
	logger.Infof("Notifier started with %d targets", len(n.urls))
}

func (n *Notifier) handleEvent(event domain.Event) {
	message := formatMessage(event)
	for _, url := range n.urls {
		if err := n.send(url, message); err != nil {
			logger.Errorf("Failed to send notification for %s: %v", event.EventType, err)
		}
	}
}

// messageFormatters maps event types to their message formatters.
var messageFormatters = map[domain.EventType]func(domain.Event) string{
	domain.ScanStartFailed: fmtScanStartFailed,
	domain.DeletionFailed:  fmtDeletionFailed,
}

func fmtScanStartFailed(event domain.Event) string {
	return fmt.Sprintf("❌ Scan start failed: %s\n📋 Stage: %s",
		event.AggregateID, event.GetStringOr("reason", "unknown"))
}

func fmtDeletionFailed(event domain.Event) string {
	msg := fmt.Sprintf("❌ Duplicate deletion failed: %s", event.GetStringOr("file_name", "unknown file"))
	if count, ok := event.GetInt64("failed_count"); ok {
		msg += fmt.Sprintf("\n📊 Failed copies: %d", count)
	}
	msg += fmt.Sprintf("\n🔎 Scan: %s", event.AggregateID)
	return msg
}

func formatMessage(event domain.Event) string {
	if formatter, ok := messageFormatters[event.EventType]; ok {
		return formatter(event)
	}
	return fmt.Sprintf("📢 Event: %s", event.EventType)
}
