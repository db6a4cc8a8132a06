// Package bridge exposes the dispatcher over HTTP. Chat platforms without a
// native adapter, or test drivers, POST transport-neutral events to /events;
// the bridge validates them, drops duplicates by event_id and hands them to
// per-user ordered workers.
package bridge

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/scenekit/internal/dispatch"
)

const (
	// ProtocolVersion identifies the bridge contract version exposed via /health.
	ProtocolVersion = "1.0.0"
	// EventSchemaVersion is the currently supported inbound event version.
	EventSchemaVersion = 1
)

// Event is the inbound wire payload: a dispatch.Event plus envelope fields.
type Event struct {
	Version int `json:"version"`
	dispatch.Event
	ClientTime time.Time `json:"client_time,omitempty"`
	ServerTime time.Time `json:"server_time,omitempty"`
}

// Normalize applies defaults and canonical formatting before validation.
// Events without an id get a fresh one and are never deduplicated.
func (e *Event) Normalize() {
	if e.Version == 0 {
		e.Version = EventSchemaVersion
	}
	e.ID = strings.TrimSpace(e.ID)
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Kind = dispatch.Kind(strings.ToLower(strings.TrimSpace(string(e.Kind))))
	e.Data = strings.TrimSpace(e.Data)
	e.CallbackID = strings.TrimSpace(e.CallbackID)
}

// StampServerTime overwrites ServerTime with now in UTC.
func (e *Event) StampServerTime(now time.Time) {
	if now.IsZero() {
		now = time.Now()
	}
	e.ServerTime = now.UTC()
}

// Validate enforces the envelope version and the dispatch requirements.
func (e Event) Validate() error {
	if e.Version != EventSchemaVersion {
		return fmt.Errorf("version %d not supported", e.Version)
	}
	return e.Event.Validate()
}

// EventProcessor consumes validated events.
type EventProcessor interface {
	HandleEvent(Event) error
}

// EventProcessorFunc adapts a function into an EventProcessor.
type EventProcessorFunc func(Event) error

// HandleEvent executes f(e).
func (f EventProcessorFunc) HandleEvent(e Event) error {
	if f == nil {
		return nil
	}
	return f(e)
}

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Sessions int    `json:"sessions"`
}

type eventResponse struct {
	Status     string    `json:"status"`
	EventID    string    `json:"event_id"`
	ServerTime time.Time `json:"server_time"`
}
