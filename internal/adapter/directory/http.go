// Package directory fetches remote agent listings: HTTP registries in the
// NANDA style and a watched static YAML file.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"agentlink/internal/domain"
)

// DefaultTimeout bounds one directory fetch.
const DefaultTimeout = 10 * time.Second

// maxListingBody caps how much of a listing is read.
const maxListingBody = 8 * 1024 * 1024

// HTTPDirectory implements domain.Directory over a JSON agent index.
// The body may be a bare array or an object with an "agents" array; entries
// may use the legacy (username/url), the current (agent_id/endpoint) or the
// agentfacts (id/label/endpoints) field names.
type HTTPDirectory struct {
	name   string
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewHTTPDirectory creates a directory client. A zero timeout uses DefaultTimeout.
func NewHTTPDirectory(name, url string, timeout time.Duration) *HTTPDirectory {
	return NewHTTPDirectoryWithLogger(name, url, timeout, nil)
}

// NewHTTPDirectoryWithLogger creates a directory client that logs skipped entries.
func NewHTTPDirectoryWithLogger(name, url string, timeout time.Duration, logger *slog.Logger) *HTTPDirectory {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &HTTPDirectory{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Name implements domain.Directory.
func (d *HTTPDirectory) Name() string { return d.name }

// URL returns the listing address.
func (d *HTTPDirectory) URL() string { return d.url }

// Fetch implements domain.Directory.
func (d *HTTPDirectory) Fetch(ctx context.Context) ([]domain.AgentRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", d.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListingBody))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", d.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.RemoteError{Endpoint: d.url, Status: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	entries, skipped, err := decodeListing(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", d.name, err)
	}
	if skipped > 0 {
		d.logger.Warn("skipped malformed directory entries", "directory", d.name, "skipped", skipped)
	}
	out := make([]domain.AgentRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.record())
	}
	return out, nil
}

type listingEntry struct {
	AgentID     string     `json:"agent_id"`
	Username    string     `json:"username"`
	ID          string     `json:"id"`
	Endpoint    string     `json:"endpoint"`
	URL         string     `json:"url"`
	Endpoints   *endpoints `json:"endpoints"`
	Name        string     `json:"name"`
	Label       string     `json:"label"`
	Description string     `json:"description"`
}

type endpoints struct {
	Static           []string `json:"static"`
	AdaptiveResolver *struct {
		URL string `json:"url"`
	} `json:"adaptive_resolver"`
}

func (e listingEntry) record() domain.AgentRecord {
	return domain.AgentRecord{
		ID:          firstNonEmpty(e.AgentID, e.Username, e.ID),
		Name:        firstNonEmpty(e.Name, e.Label),
		Endpoint:    e.endpoint(),
		Description: strings.TrimSpace(e.Description),
	}
}

func (e listingEntry) endpoint() string {
	if v := firstNonEmpty(e.Endpoint, e.URL); v != "" {
		return v
	}
	if e.Endpoints == nil {
		return ""
	}
	if len(e.Endpoints.Static) > 0 && e.Endpoints.Static[0] != "" {
		return e.Endpoints.Static[0]
	}
	if e.Endpoints.AdaptiveResolver != nil {
		return e.Endpoints.AdaptiveResolver.URL
	}
	return ""
}

// decodeListing decodes each entry on its own so one malformed entry does not
// fail the listing. It returns the number of entries skipped.
func decodeListing(body []byte) ([]listingEntry, int, error) {
	var raw []json.RawMessage
	if strings.HasPrefix(strings.TrimSpace(string(body)), "[") {
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, 0, err
		}
	} else {
		var wrapped struct {
			Agents []json.RawMessage `json:"agents"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, 0, err
		}
		raw = wrapped.Agents
	}

	list := make([]listingEntry, 0, len(raw))
	skipped := 0
	for _, r := range raw {
		var e listingEntry
		if err := json.Unmarshal(r, &e); err != nil {
			skipped++
			continue
		}
		list = append(list, e)
	}
	return list, skipped, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ domain.Directory = (*HTTPDirectory)(nil)
