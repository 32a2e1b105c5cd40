package domain

import (
	"context"
	"time"
)

// AuditKind classifies audit log entries.
type AuditKind string

const (
	AuditIncoming AuditKind = "INCOMING"
	AuditRouting  AuditKind = "ROUTING"
	AuditSuccess  AuditKind = "SUCCESS"
	AuditNoTarget AuditKind = "NO_TARGET"
	AuditError    AuditKind = "ERROR"
	AuditStep     AuditKind = "STEP"
)

// AuditLevel is the severity printed with each audit line.
type AuditLevel string

const (
	LevelInfo    AuditLevel = "INFO"
	LevelWarning AuditLevel = "WARNING"
	LevelError   AuditLevel = "ERROR"
)

// AuditEvent is one append-only audit record.
type AuditEvent struct {
	Timestamp      time.Time         `json:"timestamp"`
	Level          AuditLevel        `json:"level"`
	Kind           AuditKind         `json:"kind"`
	ConversationID string            `json:"conversation_id"`
	Target         string            `json:"target,omitempty"`
	Message        string            `json:"message"`
	Fields         map[string]string `json:"fields,omitempty"`
}

// AuditLogger writes audit events to a persistent log.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
	Close() error
}

// AuditFilter narrows an audit query. Zero fields match everything.
type AuditFilter struct {
	ConversationID string
	Kind           AuditKind
	Since          time.Time
	Limit          int
}

// AuditQuerier reads back stored audit events, newest first.
type AuditQuerier interface {
	Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
}
