// Package events defines the structured lifecycle events the subsystem
// emits: record inserts and updates, backup activity, and merge passes.
package events

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Type identifies an event kind.
type Type string

const (
	ProductNew     Type = "product.new"
	ProductUpdated Type = "product.updated"
	BackupCreated  Type = "backup.created"
	BackupRestored Type = "backup.restored"
	DedupMerged    Type = "dedup.merged"
)

// Event is one observable occurrence with its structured context.
type Event struct {
	Type   Type           `json:"type"`
	At     time.Time      `json:"at"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Emitter receives events. Implementations must be safe for concurrent use.
type Emitter interface {
	Emit(e Event)
}

// LogEmitter renders events as structured log lines.
type LogEmitter struct {
	log *logrus.Logger
}

// NewLogEmitter wraps a logger. A nil logger makes Emit a no-op.
func NewLogEmitter(log *logrus.Logger) *LogEmitter {
	return &LogEmitter{log: log}
}

func (l *LogEmitter) Emit(e Event) {
	if l.log == nil {
		return
	}
	fields := logrus.Fields{"event": string(e.Type)}
	for k, v := range e.Fields {
		fields[k] = v
	}
	l.log.WithFields(fields).Info(string(e.Type))
}

// Nop discards all events.
type Nop struct{}

func (Nop) Emit(Event) {}

// New builds an event stamped with the current time.
func New(t Type, fields map[string]any) Event {
	return Event{Type: t, At: time.Now().UTC(), Fields: fields}
}
