package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentlink/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_LogAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.Log(ctx, domain.AuditEvent{Timestamp: base, Kind: domain.AuditIncoming, ConversationID: "c1", Message: "hello"}))
	require.NoError(t, s.Log(ctx, domain.AuditEvent{
		Timestamp: base.Add(time.Second), Kind: domain.AuditSuccess, ConversationID: "c1", Target: "bob",
		Fields: map[string]string{"mode": "DIRECT"},
	}))
	require.NoError(t, s.Log(ctx, domain.AuditEvent{Timestamp: base.Add(2 * time.Second), Kind: domain.AuditIncoming, ConversationID: "c2"}))

	got, err := s.Query(ctx, domain.AuditFilter{ConversationID: "c1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Newest first.
	assert.Equal(t, domain.AuditSuccess, got[0].Kind)
	assert.Equal(t, "bob", got[0].Target)
	assert.Equal(t, "DIRECT", got[0].Fields["mode"])
	assert.Equal(t, domain.LevelInfo, got[0].Level)
	assert.True(t, got[0].Timestamp.Equal(base.Add(time.Second)))
	assert.Equal(t, "hello", got[1].Message)
	assert.Nil(t, got[1].Fields)

	got, err = s.Query(ctx, domain.AuditFilter{Kind: domain.AuditIncoming, Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c2", got[0].ConversationID)

	got, err = s.Query(ctx, domain.AuditFilter{Since: base.Add(time.Second)})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSQLiteStore_Prune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Log(ctx, domain.AuditEvent{Timestamp: now.Add(-72 * time.Hour), Kind: domain.AuditIncoming}))
	require.NoError(t, s.Log(ctx, domain.AuditEvent{Timestamp: now, Kind: domain.AuditIncoming}))

	n, err := s.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.Query(ctx, domain.AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLiteStore_InMemory(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Log(context.Background(), domain.AuditEvent{Kind: domain.AuditRouting}))
	got, err := s.Query(context.Background(), domain.AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

type failingLogger struct {
	err    error
	logged int
	closed bool
}

func (f *failingLogger) Log(context.Context, domain.AuditEvent) error {
	f.logged++
	return f.err
}

func (f *failingLogger) Close() error {
	f.closed = true
	return f.err
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	ok := &failingLogger{}
	boom := errors.New("disk full")
	bad := &failingLogger{err: boom}
	m := NewMulti(ok, nil, bad)

	err := m.Log(context.Background(), domain.AuditEvent{Kind: domain.AuditIncoming})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, ok.logged)
	assert.Equal(t, 1, bad.logged)

	require.ErrorIs(t, m.Close(), boom)
	assert.True(t, ok.closed)
	assert.True(t, bad.closed)
}

func TestMulti_Empty(t *testing.T) {
	m := NewMulti()
	assert.NoError(t, m.Log(context.Background(), domain.AuditEvent{}))
	assert.NoError(t, m.Close())
}
