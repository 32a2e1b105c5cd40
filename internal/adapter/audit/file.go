// Package audit stores audit events: a human-readable line log, a queryable
// SQLite store and a fan-out over both.
package audit

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"agentlink/internal/domain"
	"agentlink/internal/infra/tracer"
)

// TimestampLayout is the line prefix format of the file log.
const TimestampLayout = "2006-01-02 15:04:05,000"

// lineEscaper keeps every event on a single line.
var lineEscaper = strings.NewReplacer("\r\n", `\n`, "\n", `\n`, "\r", `\r`)

// FileLogger implements domain.AuditLogger by appending one pipe-separated
// line per event:
//
//	timestamp | LEVEL | KIND | conversation_id=... | target=... | message=... | key=value
type FileLogger struct {
	mu   sync.Mutex
	file *os.File
	path string
	now  func() time.Time
}

// NewFileLogger opens path for appending, creating it (and its directory)
// with owner-only permissions.
func NewFileLogger(path string) (*FileLogger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	f, err := openAppend(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &FileLogger{file: f, path: path, now: time.Now}, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
}

// FormatLine renders ev in the file log format, without a trailing newline.
func FormatLine(ev domain.AuditEvent) string {
	var b strings.Builder
	b.WriteString(ev.Timestamp.Local().Format(TimestampLayout))
	fmt.Fprintf(&b, " | %s | %s | conversation_id=%s", ev.Level, ev.Kind, escape(ev.ConversationID))
	if ev.Target != "" {
		fmt.Fprintf(&b, " | target=%s", escape(ev.Target))
	}
	if ev.Message != "" {
		fmt.Fprintf(&b, " | message=%s", escape(ev.Message))
	}
	keys := make([]string, 0, len(ev.Fields))
	for k := range ev.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " | %s=%s", k, escape(ev.Fields[k]))
	}
	return b.String()
}

func escape(s string) string { return lineEscaper.Replace(s) }

// Log appends ev as a single line and mirrors it onto the active span.
func (l *FileLogger) Log(ctx context.Context, ev domain.AuditEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now()
	}
	if ev.Level == "" {
		ev.Level = domain.LevelInfo
	}
	line := FormatLine(ev) + "\n"

	l.mu.Lock()
	_, err := l.file.WriteString(line)
	l.mu.Unlock()
	if err != nil {
		return domain.NewDomainError("FileLogger.Log", domain.ErrAuditWrite, err.Error())
	}

	addSpanEvent(ctx, ev)
	return nil
}

// addSpanEvent attaches ev to the span in ctx when one is recording.
func addSpanEvent(ctx context.Context, ev domain.AuditEvent) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(ev.Fields)+2)
	attrs = append(attrs,
		tracer.StringAttr("audit.conversation_id", ev.ConversationID),
		tracer.StringAttr("audit.target", ev.Target),
	)
	for k, v := range ev.Fields {
		attrs = append(attrs, tracer.StringAttr("audit."+k, v))
	}
	span.AddEvent("audit."+string(ev.Kind), trace.WithAttributes(attrs...))
}

// Close closes the log file.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// EnforceRetention rewrites the log keeping only lines newer than maxAge.
// Lines whose timestamp cannot be parsed are kept.
func (l *FileLogger) EnforceRetention(_ context.Context, maxAge time.Duration) (removed int, err error) {
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := l.now().Add(-maxAge)

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Close(); err != nil {
		return 0, fmt.Errorf("close for retention: %w", err)
	}
	reopen := func() {
		l.file, _ = openAppend(l.path)
	}

	in, err := os.Open(l.path)
	if err != nil {
		reopen()
		return 0, fmt.Errorf("open for reading: %w", err)
	}
	var kept []string
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if ts, ok := lineTime(line); ok && ts.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, line)
	}
	in.Close()
	if err := scanner.Err(); err != nil {
		reopen()
		return 0, fmt.Errorf("scan audit log: %w", err)
	}

	tmpPath := l.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		reopen()
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	w := bufio.NewWriter(tmp)
	for _, line := range kept {
		w.WriteString(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		reopen()
		return 0, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	if err := os.Rename(tmpPath, l.path); err != nil {
		os.Remove(tmpPath)
		reopen()
		return 0, fmt.Errorf("rename temp file: %w", err)
	}
	l.file, err = openAppend(l.path)
	if err != nil {
		return removed, fmt.Errorf("reopen after retention: %w", err)
	}
	return removed, nil
}

func lineTime(line string) (time.Time, bool) {
	prefix, _, ok := strings.Cut(line, " | ")
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(TimestampLayout, prefix, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
