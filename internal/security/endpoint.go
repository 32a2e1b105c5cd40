// Package security guards outbound agent calls against endpoints that point
// into private or reserved networks.
package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"agentlink/internal/domain"
)

// privateRanges lists the private and reserved blocks an agent endpoint may
// not resolve into when the guard is on.
var privateRanges = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"0.0.0.0/8",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

var parsedRanges []*net.IPNet

func init() {
	for _, cidr := range privateRanges {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %q: %v", cidr, err))
		}
		parsedRanges = append(parsedRanges, ipnet)
	}
}

// IsPrivateIP checks if an IP falls within any private/reserved range.
func IsPrivateIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, ipnet := range parsedRanges {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}

// CheckEndpoint rejects agent URLs that are not http(s), have no host, or
// name a private address literally. Hostnames are resolved at dial time by
// the guarded transport, not here.
func CheckEndpoint(rawURL string) error {
	fail := func(detail string) error {
		return domain.NewSubSystemError("security", "CheckEndpoint", domain.ErrInvalidInput, detail)
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fail(fmt.Sprintf("invalid URL: %v", err))
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "":
		return fail("missing URL scheme, only http/https allowed")
	default:
		return fail(fmt.Sprintf("scheme %q not allowed, only http/https", u.Scheme))
	}

	host := u.Hostname()
	if host == "" {
		return fail("empty hostname")
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fail(fmt.Sprintf("host %s is loopback", host))
	}
	if ip := net.ParseIP(host); ip != nil && IsPrivateIP(ip) {
		return fail(fmt.Sprintf("IP %s is private/reserved", ip))
	}
	return nil
}

// NewGuardedTransport creates an HTTP transport that resolves the host once,
// refuses private addresses and dials the validated IP directly, so a DNS
// answer cannot change between the check and the connection.
func NewGuardedTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, fmt.Errorf("invalid address: %w", err)
			}
			ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, domain.NewSubSystemError("security", "GuardedTransport.Dial", err,
					fmt.Sprintf("DNS lookup failed for %s", host))
			}
			if len(ips) == 0 {
				return nil, domain.NewSubSystemError("security", "GuardedTransport.Dial",
					domain.ErrInvalidInput, fmt.Sprintf("no IPs resolved for %s", host))
			}
			for _, ip := range ips {
				if IsPrivateIP(ip.IP) {
					return nil, domain.NewSubSystemError("security", "GuardedTransport.Dial",
						domain.ErrInvalidInput, fmt.Sprintf("%s resolves to private IP %s", host, ip.IP))
				}
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].IP.String(), port))
		},
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConnsPerHost:   4,
	}
}
