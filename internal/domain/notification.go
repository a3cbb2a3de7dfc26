package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// WebhookNotification is the provider envelope as received on the webhook.
type WebhookNotification struct {
	EventID      string           `json:"event_id"`
	EventType    string           `json:"event_type"`
	EventTime    int64            `json:"event_time,omitempty"`
	ResourceHref string           `json:"resource_href"`
	Meta         NotificationMeta `json:"meta"`
	ReceivedAt   time.Time        `json:"-"`
}

type NotificationMeta struct {
	UserID     string `json:"user_id,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
	Status     string `json:"status,omitempty"`
}

// OrderID prefers meta.resource_id and falls back to the last path segment of
// resource_href.
func (n WebhookNotification) OrderID() string {
	if id := strings.TrimSpace(n.Meta.ResourceID); id != "" {
		return id
	}
	href := strings.TrimSpace(n.ResourceHref)
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		href = href[:i]
	}
	href = strings.TrimRight(href, "/")
	if i := strings.LastIndex(href, "/"); i >= 0 {
		return href[i+1:]
	}
	return href
}

// DecodeNotification parses a webhook body and checks the fields the pipeline
// depends on.
func DecodeNotification(body []byte) (WebhookNotification, error) {
	var n WebhookNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return WebhookNotification{}, &ValidationError{Reason: "malformed json: " + err.Error()}
	}
	if strings.TrimSpace(n.ResourceHref) == "" {
		return WebhookNotification{}, &ValidationError{Field: "resource_href", Reason: "missing"}
	}
	if n.OrderID() == "" {
		return WebhookNotification{}, &ValidationError{Field: "resource_href", Reason: "no order id"}
	}
	return n, nil
}
