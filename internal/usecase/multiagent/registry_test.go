package multiagent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentlink/internal/domain"
)

type fakeDirectory struct {
	mu    sync.Mutex
	recs  []domain.AgentRecord
	err   error
	calls atomic.Int32
	gate  chan struct{}
}

func (d *fakeDirectory) Name() string { return "fake" }

func (d *fakeDirectory) Fetch(ctx context.Context) ([]domain.AgentRecord, error) {
	d.calls.Add(1)
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return append([]domain.AgentRecord(nil), d.recs...), nil
}

func (d *fakeDirectory) set(recs []domain.AgentRecord, err error) {
	d.mu.Lock()
	d.recs, d.err = recs, err
	d.mu.Unlock()
}

func newTestRegistry(dirs ...domain.Directory) *Registry {
	return NewRegistry("self", dirs, nil)
}

func TestRegistryRefreshAndLookup(t *testing.T) {
	dir := &fakeDirectory{recs: []domain.AgentRecord{
		{ID: "bob", Endpoint: "http://bob.example"},
		{ID: "alice", Endpoint: "http://alice.example/a2a/", Description: "weather"},
		{ID: "self", Endpoint: "http://me.example"},
		{ID: "", Endpoint: "http://nobody.example"},
		{ID: "ghost"},
	}}
	r := newTestRegistry(dir)

	got, err := r.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "alice", got[0].ID)
	assert.Equal(t, "http://alice.example/a2a", got[0].Endpoint)
	assert.Equal(t, domain.SourceDirectory, got[0].Source)

	bob, err := r.Lookup("bob")
	require.NoError(t, err)
	assert.Equal(t, "http://bob.example/a2a", bob.Endpoint)

	_, err = r.Lookup("self")
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)
}

func TestRegistryRefreshIdempotent(t *testing.T) {
	dir := &fakeDirectory{recs: []domain.AgentRecord{
		{ID: "a", Endpoint: "http://a"},
		{ID: "b", Endpoint: "http://b/a2a"},
	}}
	r := newTestRegistry(dir)
	first, err := r.Refresh(context.Background())
	require.NoError(t, err)
	second, err := r.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Endpoint, second[i].Endpoint)
	}
}

func TestRegistryFailedRefreshKeepsSnapshot(t *testing.T) {
	dir := &fakeDirectory{recs: []domain.AgentRecord{{ID: "bob", Endpoint: "http://bob"}}}
	r := newTestRegistry(dir)
	_, err := r.Refresh(context.Background())
	require.NoError(t, err)

	dir.set(nil, errors.New("connection refused"))
	_, err = r.Refresh(context.Background())
	require.ErrorIs(t, err, domain.ErrRegistryUnavailable)

	rec, err := r.Lookup("bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", rec.ID)
	assert.Contains(t, r.Info().LastError, "connection refused")
}

func TestRegistryPartialFailureInstallsNothing(t *testing.T) {
	good := &fakeDirectory{recs: []domain.AgentRecord{{ID: "new", Endpoint: "http://new"}}}
	bad := &fakeDirectory{err: errors.New("503")}
	r := newTestRegistry(good, bad)

	_, err := r.Refresh(context.Background())
	require.Error(t, err)
	_, err = r.Lookup("new")
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)
}

func TestRegistryConcurrentRefreshCollapsed(t *testing.T) {
	dir := &fakeDirectory{
		recs: []domain.AgentRecord{{ID: "a", Endpoint: "http://a"}},
		gate: make(chan struct{}),
	}
	r := newTestRegistry(dir)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Refresh(context.Background()); err != nil {
				t.Errorf("Refresh: %v", err)
			}
		}()
	}
	// Let every goroutine join the in-flight call before releasing the fetch.
	time.Sleep(50 * time.Millisecond)
	close(dir.gate)
	wg.Wait()

	assert.Less(t, int(dir.calls.Load()), 5)
}

func TestRegistryManualWinsAndSurvivesRefresh(t *testing.T) {
	dir := &fakeDirectory{recs: []domain.AgentRecord{{ID: "bob", Endpoint: "http://dir-bob"}}}
	r := newTestRegistry(dir)

	_, err := r.RegisterManual("bob", "http://manual-bob:9000", "manual bob")
	require.NoError(t, err)
	_, err = r.Refresh(context.Background())
	require.NoError(t, err)

	rec, err := r.Lookup("bob")
	require.NoError(t, err)
	assert.Equal(t, "http://manual-bob:9000/a2a", rec.Endpoint)
	assert.Equal(t, domain.SourceManual, rec.Source)

	require.NoError(t, r.RemoveManual("bob"))
	rec, err = r.Lookup("bob")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceDirectory, rec.Source)

	assert.ErrorIs(t, r.RemoveManual("bob"), domain.ErrAgentNotFound)
}

func TestRegistryRegisterManualValidation(t *testing.T) {
	r := newTestRegistry()
	_, err := r.RegisterManual("", "http://x", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = r.RegisterManual("x", "not a url", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = r.RegisterManual("x", "ftp://host/a2a", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRegistryEndpointCheck(t *testing.T) {
	blocked := errors.New("blocked")
	check := func(endpoint string) error {
		if strings.Contains(endpoint, "internal") {
			return domain.NewDomainError("check", domain.ErrInvalidInput, blocked.Error())
		}
		return nil
	}
	dir := &fakeDirectory{recs: []domain.AgentRecord{
		{ID: "pub", Endpoint: "https://pub.example.com"},
		{ID: "priv", Endpoint: "http://internal.corp"},
	}}
	r := NewRegistry("self", []domain.Directory{dir}, nil, WithEndpointCheck(check))

	_, err := r.Refresh(context.Background())
	require.NoError(t, err)
	_, err = r.Lookup("priv")
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)
	_, err = r.Lookup("pub")
	assert.NoError(t, err)

	_, err = r.RegisterManual("m", "http://internal.corp/a2a", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRegistryStaticReplacedWholesale(t *testing.T) {
	r := newTestRegistry()
	r.SetStatic([]domain.AgentRecord{
		{ID: "s1", Endpoint: "http://s1", Description: "static one"},
		{ID: "s2", Endpoint: "http://s2"},
	})
	require.Equal(t, 2, r.Len())

	r.SetStatic([]domain.AgentRecord{{ID: "s3", Endpoint: "http://s3"}})
	_, err := r.Lookup("s1")
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)
	rec, err := r.Lookup("s3")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceStatic, rec.Source)
}

func TestRegistryCandidatesRequireDescription(t *testing.T) {
	r := newTestRegistry()
	r.SetStatic([]domain.AgentRecord{
		{ID: "with", Endpoint: "http://w", Description: "sends email"},
		{ID: "without", Endpoint: "http://wo"},
	})
	c := r.Candidates()
	require.Len(t, c, 1)
	assert.Equal(t, "with", c[0].ID)
}

func TestRegistryEndpointSuffixDisabled(t *testing.T) {
	r := NewRegistry("self", nil, nil, WithEndpointSuffix(""))
	rec, err := r.RegisterManual("x", "http://x/query/", "")
	require.NoError(t, err)
	assert.Equal(t, "http://x/query", rec.Endpoint)
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := map[string]string{
		"http://a":       "http://a/a2a",
		"http://a/":      "http://a/a2a",
		"http://a/a2a":   "http://a/a2a",
		" http://a/a2a/": "http://a/a2a",
	}
	for in, want := range tests {
		if got := NormalizeEndpoint(in, DefaultEndpointSuffix); got != want {
			t.Errorf("NormalizeEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}

type refreshCounter struct {
	mu     sync.Mutex
	ok     int
	failed int
	agents int
}

func (c *refreshCounter) RecordRefresh(_ context.Context, agents int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failed++
		return
	}
	c.ok++
	c.agents = agents
}

func TestRegistryRecordsRefreshes(t *testing.T) {
	dir := &fakeDirectory{recs: []domain.AgentRecord{{ID: "bob", Endpoint: "http://bob.example"}}}
	rec := &refreshCounter{}
	r := NewRegistry("self", []domain.Directory{dir}, nil, WithRefreshRecorder(rec))

	_, err := r.Refresh(context.Background())
	require.NoError(t, err)
	dir.set(nil, errors.New("down"))
	_, err = r.Refresh(context.Background())
	require.Error(t, err)

	assert.Equal(t, 1, rec.ok)
	assert.Equal(t, 1, rec.failed)
	assert.Equal(t, 1, rec.agents)
}
