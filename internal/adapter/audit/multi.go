package audit

import (
	"context"
	"errors"

	"agentlink/internal/domain"
)

// Multi fans every event out to several loggers.
type Multi struct {
	loggers []domain.AuditLogger
}

// NewMulti creates a Multi. Nil loggers are skipped.
func NewMulti(loggers ...domain.AuditLogger) *Multi {
	m := &Multi{}
	for _, l := range loggers {
		if l != nil {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

// Log writes ev to every logger and returns the joined errors.
func (m *Multi) Log(ctx context.Context, ev domain.AuditEvent) error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Log(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every logger and returns the joined errors.
func (m *Multi) Close() error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Log(context.Context, domain.AuditEvent) error { return nil }
func (Nop) Close() error                                 { return nil }
