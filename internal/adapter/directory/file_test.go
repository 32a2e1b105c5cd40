package directory

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentlink/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestStaticFile_LoadMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agents:
  - id: bob
    name: Bob
    endpoint: http://bob.example/a2a
    description: Weather forecasts
  - id: wx
    endpoint: http://wx.example
`), 0600))

	recs, err := NewStaticFile(path, discard()).Load()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "bob", recs[0].ID)
	assert.Equal(t, "Bob", recs[0].Name)
	assert.Equal(t, "Weather forecasts", recs[0].Description)
	assert.Equal(t, "http://wx.example", recs[1].Endpoint)
}

func TestStaticFile_LoadList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- id: a\n  endpoint: http://a\n"), 0600))

	recs, err := NewStaticFile(path, discard()).Load()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].ID)
}

func TestStaticFile_Missing(t *testing.T) {
	recs, err := NewStaticFile(filepath.Join(t.TempDir(), "nope.yaml"), discard()).Load()
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStaticFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte("just a string"), 0600))

	_, err := NewStaticFile(path, discard()).Load()
	require.Error(t, err)
}

func TestStaticFile_WatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agents: []\n"), 0600))

	var (
		mu  sync.Mutex
		got []domain.AgentRecord
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := NewStaticFile(path, discard())
	require.NoError(t, f.Watch(ctx, func(recs []domain.AgentRecord) {
		mu.Lock()
		got = recs
		mu.Unlock()
	}))

	require.NoError(t, os.WriteFile(path, []byte("agents:\n  - id: late\n    endpoint: http://late\n"), 0600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0].ID == "late"
	}, 3*time.Second, 20*time.Millisecond)
}
