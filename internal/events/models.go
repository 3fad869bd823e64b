package events

import (
	"net/url"
	"strings"
	"time"
)

// Event types emitted by the storefront tracker.
const (
	TypePageView = "pageview"
	TypeEvent    = "event"
)

// RawEvent is one recorded interaction as delivered by the ingestion layer.
// SessionID is carried for completeness only; the tracker emits a constant
// placeholder so it is never used for grouping.
type RawEvent struct {
	ID          string         `gorm:"primaryKey;size:64" json:"id"`
	DeviceID    string         `gorm:"index:idx_raw_device_ts;size:128" json:"deviceId"`
	SessionID   string         `gorm:"size:128" json:"sessionId,omitempty"`
	Path        string         `gorm:"index" json:"path,omitempty"`
	EventType   string         `gorm:"index;size:32" json:"eventType"`
	EventName   string         `gorm:"index;size:64" json:"eventName,omitempty"`
	TimestampMs int64          `gorm:"index:idx_raw_device_ts" json:"timestamp"`
	ReceivedAt  time.Time      `gorm:"index;not null" json:"receivedAt"`
	Referrer    string         `json:"referrer,omitempty"`
	QueryParams string         `json:"queryParams,omitempty"`
	Country     string         `gorm:"size:8" json:"country,omitempty"`
	DeviceType  string         `gorm:"size:32" json:"deviceType,omitempty"`
	ClientName  string         `gorm:"size:64" json:"clientName,omitempty"`
	Attributes  map[string]any `gorm:"serializer:json" json:"data,omitempty"`
	PayloadHash string         `gorm:"uniqueIndex;size:64" json:"-"`
}

// TableName pins the gorm table name.
func (RawEvent) TableName() string {
	return "raw_events"
}

// Valid reports whether the event carries the identity and timestamp needed
// to place it in a session.
func (e RawEvent) Valid() bool {
	return strings.TrimSpace(e.DeviceID) != "" && e.TimestampMs > 0
}

// Time returns the client timestamp in UTC.
func (e RawEvent) Time() time.Time {
	return time.UnixMilli(e.TimestampMs).UTC()
}

// IsPageView reports whether the event is a page view.
func (e RawEvent) IsPageView() bool {
	return e.EventType == TypePageView
}

// QueryValue returns a single query parameter, tolerating malformed strings.
func (e RawEvent) QueryValue(key string) string {
	if e.QueryParams == "" {
		return ""
	}
	values, err := url.ParseQuery(strings.TrimPrefix(e.QueryParams, "?"))
	if err != nil {
		return ""
	}
	return values.Get(key)
}

// ReferrerHost returns the lower-cased referrer hostname, or "" when the
// referrer is missing or unparseable.
func (e RawEvent) ReferrerHost() string {
	if e.Referrer == "" {
		return ""
	}
	u, err := url.Parse(e.Referrer)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
