package notify

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/meritdesk/meritdesk-go/internal/apierr"
	"github.com/meritdesk/meritdesk-go/internal/metrics"
)

// Kind classifies a notification for presentation.
type Kind string

const (
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
)

// Notification is one entry in the local list, normalized from an inbound
// socket frame.
type Notification struct {
	ID          string
	Title       string
	Message     string
	Kind        Kind
	Status      string
	Type        string
	NavigateURL string
	Metadata    map[string]string
	CreatedAt   time.Time
}

// Frame type tags on the notification channel.
const (
	frameNotification = "notification"
	frameCountUpdate  = "count_update"
)

// inboundFrame is the wire envelope; only the fields for the recognized
// type are populated.
type inboundFrame struct {
	Type         string            `json:"type"`
	Notification *wireNotification `json:"notification,omitempty"`
	UnreadCount  *int              `json:"unread_count,omitempty"`
}

type wireNotification struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Status      string            `json:"status"`
	Type        string            `json:"type"`
	NavigateURL string            `json:"navigate_url"`
	Metadata    map[string]string `json:"metadata"`
}

// kindForType maps the server's event type to a presentation kind.
func kindForType(t string) Kind {
	switch t {
	case "merit_awarded", "request_approved":
		return KindSuccess
	case "demerit_issued":
		return KindWarning
	case "request_rejected":
		return KindError
	default:
		return KindInfo
	}
}

// handleFrame parses one inbound frame and applies it to local state.
// Malformed JSON is logged and dropped; the connection stays alive.
func (m *Manager) handleFrame(data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		parseErr := apierr.NewSocketParseError("notifications", err)
		m.logger.Warn("dropping malformed frame", slog.String("error", parseErr.Error()))
		return
	}

	metrics.SocketFrame("notifications", frame.Type)

	switch frame.Type {
	case frameNotification:
		if frame.Notification == nil {
			m.logger.Warn("notification frame without payload")
			return
		}
		m.addNotification(normalize(frame.Notification))
	case frameCountUpdate:
		if frame.UnreadCount == nil {
			return
		}
		m.mu.Lock()
		m.unread = *frame.UnreadCount
		m.mu.Unlock()
		metrics.SetUnread("notifications", *frame.UnreadCount)
	default:
		m.logger.Debug("ignoring unrecognized frame", slog.String("type", frame.Type))
	}
}

func normalize(w *wireNotification) Notification {
	return Notification{
		ID:          w.ID,
		Title:       w.Title,
		Message:     w.Message,
		Kind:        kindForType(w.Type),
		Status:      w.Status,
		Type:        w.Type,
		NavigateURL: w.NavigateURL,
		Metadata:    w.Metadata,
		CreatedAt:   time.Now(),
	}
}
