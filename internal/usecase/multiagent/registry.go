package multiagent

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"agentlink/internal/domain"
)

// DefaultEndpointSuffix is appended to directory endpoints that lack it.
const DefaultEndpointSuffix = "/a2a"

// snapshot is an immutable view of one successful directory refresh.
type snapshot struct {
	agents      map[string]domain.AgentRecord
	refreshedAt time.Time
}

// SnapshotInfo describes the registry state for health reporting.
type SnapshotInfo struct {
	RefreshedAt time.Time `json:"refreshed_at"`
	Directory   int       `json:"directory"`
	Static      int       `json:"static"`
	Manual      int       `json:"manual"`
	LastError   string    `json:"last_error,omitempty"`
}

// RefreshRecorder observes directory refreshes (metrics).
type RefreshRecorder interface {
	RecordRefresh(ctx context.Context, agents int, err error)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithEndpointSuffix sets the suffix endpoints are normalized to. Empty disables normalization.
func WithEndpointSuffix(suffix string) RegistryOption {
	return func(r *Registry) { r.suffix = suffix }
}

// WithRefreshRecorder attaches a metrics observer.
func WithRefreshRecorder(rec RefreshRecorder) RegistryOption {
	return func(r *Registry) { r.recorder = rec }
}

// WithEndpointCheck rejects manual registrations and drops listing entries
// whose endpoint fails check.
func WithEndpointCheck(check func(endpoint string) error) RegistryOption {
	return func(r *Registry) { r.check = check }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// Registry is the merged view of directory, static and manual agent records.
// Directory records are an immutable snapshot swapped on refresh; static and
// manual records are copy-on-write maps. Reads take no lock.
// Precedence on id collision: manual, then static, then directory.
type Registry struct {
	selfID      string
	directories []domain.Directory
	suffix      string
	logger      *slog.Logger
	recorder    RefreshRecorder
	check       func(string) error
	now         func() time.Time

	dir    atomic.Pointer[snapshot]
	static atomic.Pointer[map[string]domain.AgentRecord]
	manual atomic.Pointer[map[string]domain.AgentRecord]

	writeMu sync.Mutex // serializes copy-on-write updates to static and manual
	flight  singleflight.Group
	lastErr atomic.Pointer[string]
}

// NewRegistry creates a Registry. selfID is never installed from a directory listing.
func NewRegistry(selfID string, directories []domain.Directory, logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = discardLogger()
	}
	r := &Registry{
		selfID:      selfID,
		directories: directories,
		suffix:      DefaultEndpointSuffix,
		logger:      logger,
		now:         time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	empty := map[string]domain.AgentRecord{}
	r.dir.Store(&snapshot{agents: empty})
	r.static.Store(&empty)
	manual := map[string]domain.AgentRecord{}
	r.manual.Store(&manual)
	return r
}

// Refresh fetches every directory and installs the result as the new snapshot.
// On any failure the previous snapshot is kept and the error wraps
// ErrRegistryUnavailable. Concurrent calls share one fetch.
func (r *Registry) Refresh(ctx context.Context) ([]domain.AgentRecord, error) {
	_, err, _ := r.flight.Do("refresh", func() (any, error) {
		return nil, r.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return r.List(), nil
}

func (r *Registry) refresh(ctx context.Context) error {
	listings := make([][]domain.AgentRecord, len(r.directories))
	g, gctx := errgroup.WithContext(ctx)
	for i, dir := range r.directories {
		g.Go(func() error {
			recs, err := dir.Fetch(gctx)
			if err != nil {
				return fmt.Errorf("directory %s: %w", dir.Name(), err)
			}
			listings[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		msg := err.Error()
		r.lastErr.Store(&msg)
		r.logger.Warn("registry refresh failed, keeping previous snapshot", "error", err)
		if r.recorder != nil {
			r.recorder.RecordRefresh(ctx, 0, err)
		}
		return domain.NewDomainError("Registry.Refresh", domain.ErrRegistryUnavailable, msg)
	}

	now := r.now()
	agents := make(map[string]domain.AgentRecord)
	for _, recs := range listings {
		for _, rec := range recs {
			rec, ok := r.normalize(rec, domain.SourceDirectory, now)
			if !ok {
				continue
			}
			if _, dup := agents[rec.ID]; dup {
				r.logger.Debug("duplicate directory entry ignored", "agent_id", rec.ID)
				continue
			}
			agents[rec.ID] = rec
		}
	}
	r.dir.Store(&snapshot{agents: agents, refreshedAt: now})
	r.lastErr.Store(nil)
	r.logger.Info("registry refreshed", "agents", len(agents), "directories", len(r.directories))
	if r.recorder != nil {
		r.recorder.RecordRefresh(ctx, len(agents), nil)
	}
	return nil
}

// normalize fills defaults and rejects entries without id or endpoint or naming this service.
func (r *Registry) normalize(rec domain.AgentRecord, src domain.AgentSource, now time.Time) (domain.AgentRecord, bool) {
	rec.ID = strings.TrimSpace(rec.ID)
	rec.Endpoint = strings.TrimSpace(rec.Endpoint)
	if rec.ID == "" || rec.Endpoint == "" {
		r.logger.Debug("skipping agent entry without id or endpoint", "agent_id", rec.ID)
		return rec, false
	}
	if rec.ID == r.selfID {
		return rec, false
	}
	if r.check != nil {
		if err := r.check(rec.Endpoint); err != nil {
			r.logger.Warn("skipping agent entry with blocked endpoint", "agent_id", rec.ID, "error", err)
			return rec, false
		}
	}
	rec.Endpoint = NormalizeEndpoint(rec.Endpoint, r.suffix)
	rec.Source = src
	if rec.LastSeen.IsZero() {
		rec.LastSeen = now
	}
	return rec, true
}

// NormalizeEndpoint trims a trailing slash and appends suffix when missing.
func NormalizeEndpoint(endpoint, suffix string) string {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if suffix == "" || strings.HasSuffix(endpoint, suffix) {
		return endpoint
	}
	return endpoint + suffix
}

// Lookup returns the record for id from the merged view.
func (r *Registry) Lookup(id string) (domain.AgentRecord, error) {
	if rec, ok := (*r.manual.Load())[id]; ok {
		return rec, nil
	}
	if rec, ok := (*r.static.Load())[id]; ok {
		return rec, nil
	}
	if rec, ok := r.dir.Load().agents[id]; ok {
		return rec, nil
	}
	return domain.AgentRecord{}, domain.NewDomainError("Registry.Lookup", domain.ErrAgentNotFound, fmt.Sprintf("agent %q", id))
}

// RegisterManual adds or replaces a manual registration. It survives refreshes.
func (r *Registry) RegisterManual(id, endpoint, description string) (domain.AgentRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.AgentRecord{}, domain.NewDomainError("Registry.RegisterManual", domain.ErrInvalidInput, "agent_id is required")
	}
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.AgentRecord{}, domain.NewDomainError("Registry.RegisterManual", domain.ErrInvalidInput, fmt.Sprintf("invalid agent_url %q", endpoint))
	}
	if r.check != nil {
		if err := r.check(endpoint); err != nil {
			return domain.AgentRecord{}, domain.WrapOp("Registry.RegisterManual", err)
		}
	}

	rec := domain.AgentRecord{
		ID:          id,
		Name:        id,
		Endpoint:    NormalizeEndpoint(endpoint, r.suffix),
		Description: strings.TrimSpace(description),
		Source:      domain.SourceManual,
		LastSeen:    r.now(),
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	next := cloneRecords(*r.manual.Load())
	next[id] = rec
	r.manual.Store(&next)
	r.logger.Info("agent registered", "agent_id", id, "endpoint", rec.Endpoint)
	return rec, nil
}

// RemoveManual deletes a manual registration. Directory and static records are untouched.
func (r *Registry) RemoveManual(id string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur := *r.manual.Load()
	if _, ok := cur[id]; !ok {
		return domain.NewDomainError("Registry.RemoveManual", domain.ErrAgentNotFound, fmt.Sprintf("no manual registration %q", id))
	}
	next := cloneRecords(cur)
	delete(next, id)
	r.manual.Store(&next)
	r.logger.Info("agent removed", "agent_id", id)
	return nil
}

// SetStatic replaces every static record at once.
func (r *Registry) SetStatic(records []domain.AgentRecord) {
	now := r.now()
	next := make(map[string]domain.AgentRecord, len(records))
	for _, rec := range records {
		rec, ok := r.normalize(rec, domain.SourceStatic, now)
		if !ok {
			continue
		}
		next[rec.ID] = rec
	}
	r.writeMu.Lock()
	r.static.Store(&next)
	r.writeMu.Unlock()
	r.logger.Info("static agents loaded", "agents", len(next))
}

// List returns the merged view sorted by id.
func (r *Registry) List() []domain.AgentRecord {
	merged := cloneRecords(r.dir.Load().agents)
	for id, rec := range *r.static.Load() {
		merged[id] = rec
	}
	for id, rec := range *r.manual.Load() {
		merged[id] = rec
	}
	out := make([]domain.AgentRecord, 0, len(merged))
	for _, rec := range merged {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Candidates returns the merged view restricted to records with a description.
func (r *Registry) Candidates() []domain.AgentRecord {
	all := r.List()
	out := all[:0]
	for _, rec := range all {
		if rec.Described() {
			out = append(out, rec)
		}
	}
	return out
}

// Len returns the size of the merged view.
func (r *Registry) Len() int { return len(r.List()) }

// Info returns counts and the last refresh time.
func (r *Registry) Info() SnapshotInfo {
	snap := r.dir.Load()
	info := SnapshotInfo{
		RefreshedAt: snap.refreshedAt,
		Directory:   len(snap.agents),
		Static:      len(*r.static.Load()),
		Manual:      len(*r.manual.Load()),
	}
	if msg := r.lastErr.Load(); msg != nil {
		info.LastError = *msg
	}
	return info
}

func cloneRecords(src map[string]domain.AgentRecord) map[string]domain.AgentRecord {
	dst := make(map[string]domain.AgentRecord, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
