package directory

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"agentlink/internal/domain"
)

const (
	// DefaultMDNSService is the DNS-SD service type agents advertise under.
	DefaultMDNSService = "_a2a._tcp"
	// DefaultMDNSDomain is the DNS-SD browse domain.
	DefaultMDNSDomain = "local."

	defaultMDNSPath = "/a2a"
	maxTXTValue     = 200
)

type browseFunc func(ctx context.Context, service, svcDomain string, entries chan<- *zeroconf.ServiceEntry) error

// MDNSDirectory discovers agents on the local network via DNS-SD. Each
// instance describes its agent in TXT records:
//
//	id=<agent id>  description=<text>  name=<label>  path=/a2a  scheme=http
//
// or a full endpoint=<url>. The scan lasts for the directory timeout.
type MDNSDirectory struct {
	name      string
	service   string
	svcDomain string
	window    time.Duration
	logger    *slog.Logger
	browse    browseFunc
}

// NewMDNSDirectory creates a LAN directory. Empty service and domain use the defaults.
func NewMDNSDirectory(name, service, svcDomain string, window time.Duration, logger *slog.Logger) *MDNSDirectory {
	if service == "" {
		service = DefaultMDNSService
	}
	if svcDomain == "" {
		svcDomain = DefaultMDNSDomain
	}
	if window <= 0 {
		window = DefaultTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &MDNSDirectory{
		name:      name,
		service:   service,
		svcDomain: svcDomain,
		window:    window,
		logger:    logger,
		browse:    zeroconfBrowse,
	}
}

func zeroconfBrowse(ctx context.Context, service, svcDomain string, entries chan<- *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("mdns resolver: %w", err)
	}
	return resolver.Browse(ctx, service, svcDomain, entries)
}

// Name implements domain.Directory.
func (d *MDNSDirectory) Name() string { return d.name }

// Fetch implements domain.Directory. Entries without an address or agent id
// are skipped.
func (d *MDNSDirectory) Fetch(ctx context.Context) ([]domain.AgentRecord, error) {
	scanCtx, cancel := context.WithTimeout(ctx, d.window)
	defer cancel()

	// The browser closes entries once scanCtx is done.
	entries := make(chan *zeroconf.ServiceEntry)
	var recs []domain.AgentRecord
	seen := make(map[string]bool)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			rec, ok := entryToRecord(entry)
			if !ok {
				d.logger.Debug("skipping mdns entry", "instance", entry.Instance)
				continue
			}
			if seen[rec.ID] {
				continue
			}
			seen[rec.ID] = true
			recs = append(recs, rec)
			d.logger.Debug("mdns discovered agent", "agent_id", rec.ID, "endpoint", rec.Endpoint)
		}
	}()

	if err := d.browse(scanCtx, d.service, d.svcDomain, entries); err != nil {
		cancel()
		<-done
		return nil, fmt.Errorf("mdns browse %s: %w", d.name, err)
	}
	select {
	case <-done:
	case <-scanCtx.Done():
		<-done
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("mdns browse %s: %w", d.name, err)
	}
	return recs, nil
}

func entryToRecord(entry *zeroconf.ServiceEntry) (domain.AgentRecord, bool) {
	txt := parseTXTRecords(entry.Text)
	id := firstNonEmpty(txt["id"], entry.Instance)
	endpoint := txt["endpoint"]
	if endpoint == "" {
		endpoint = entryEndpoint(entry, txt)
	}
	if id == "" || endpoint == "" {
		return domain.AgentRecord{}, false
	}
	return domain.AgentRecord{
		ID:          id,
		Name:        firstNonEmpty(txt["name"], entry.Instance),
		Endpoint:    endpoint,
		Description: strings.TrimSpace(txt["description"]),
	}, true
}

func entryEndpoint(entry *zeroconf.ServiceEntry, txt map[string]string) string {
	if entry.Port <= 0 {
		return ""
	}
	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	case entry.HostName != "":
		host = strings.TrimSuffix(entry.HostName, ".")
	default:
		return ""
	}
	scheme := firstNonEmpty(txt["scheme"], "http")
	path := firstNonEmpty(txt["path"], defaultMDNSPath)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(entry.Port)) + path
}

func parseTXTRecords(txt []string) map[string]string {
	m := make(map[string]string, len(txt))
	for _, t := range txt {
		k, v, ok := strings.Cut(t, "=")
		if ok {
			m[k] = v
		}
	}
	return m
}

// AdvertiseTXT builds the TXT records that describe rec. Long descriptions
// are cut to fit a single TXT string.
func AdvertiseTXT(rec domain.AgentRecord, path string) []string {
	if path == "" {
		path = defaultMDNSPath
	}
	txt := []string{"id=" + rec.ID, "path=" + path}
	if rec.Name != "" {
		txt = append(txt, "name="+truncate(rec.Name, maxTXTValue))
	}
	if rec.Description != "" {
		txt = append(txt, "description="+truncate(rec.Description, maxTXTValue))
	}
	return txt
}

// Advertise registers rec on the local network so other MDNSDirectory
// instances find it. It blocks until ctx is cancelled.
func Advertise(ctx context.Context, service, svcDomain string, port int, rec domain.AgentRecord, logger *slog.Logger) error {
	if service == "" {
		service = DefaultMDNSService
	}
	if svcDomain == "" {
		svcDomain = DefaultMDNSDomain
	}
	server, err := zeroconf.Register(rec.ID, service, svcDomain, port, AdvertiseTXT(rec, defaultMDNSPath), nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	if logger != nil {
		logger.Info("mdns advertising", "agent_id", rec.ID, "service", service, "port", port)
	}
	<-ctx.Done()
	server.Shutdown()
	return nil
}

var _ domain.Directory = (*MDNSDirectory)(nil)
