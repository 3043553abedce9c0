// Package netpolicy enforces outbound host policy for http steps.
package netpolicy

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultBlockedHosts are denied unless a policy explicitly allows them.
// They cover cloud metadata endpoints and private network ranges, the
// usual SSRF targets for a step that fetches attacker-controlled URLs.
var DefaultBlockedHosts = []string{
	// Cloud metadata endpoints
	"169.254.169.254/32", // AWS, Azure, GCP metadata
	"metadata.google.internal",
	"169.254.169.253/32", // AWS IMDSv2 fallback

	// Private network ranges (CIDR notation)
	"10.0.0.0/8",     // Private network
	"172.16.0.0/12",  // Private network
	"192.168.0.0/16", // Private network
	"127.0.0.0/8",    // Loopback
	"::1/128",        // IPv6 loopback
	"fc00::/7",       // IPv6 private
	"fe80::/10",      // IPv6 link-local
}

// Policy decides which hosts outbound http steps may reach. Patterns are
// exact hostnames, wildcards ("*.example.com"), or CIDR ranges. An empty
// Allow list permits every host that is not blocked; specific entries in
// Allow override the default block list, entries in Block override
// everything.
type Policy struct {
	Allow []string
	Block []string
}

// PolicyError reports a host denied by the outbound policy.
type PolicyError struct {
	Host    string
	Pattern string // blocking pattern, empty when no allow pattern matched
}

func (e *PolicyError) Error() string {
	if e.Pattern != "" {
		return fmt.Sprintf("host %s blocked by pattern %s", e.Host, e.Pattern)
	}
	return fmt.Sprintf("host %s does not match any allowed pattern", e.Host)
}

// CheckURL parses raw and checks its hostname against the policy.
func (p *Policy) CheckURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return p.CheckHost(host)
}

// CheckHost checks a host (optionally host:port) against the policy.
// A nil policy allows everything.
func (p *Policy) CheckHost(host string) error {
	if p == nil {
		return nil
	}

	hostname := stripPort(host)

	// Explicit blocks win over everything.
	for _, pattern := range p.Block {
		if matchesHostPattern(hostname, pattern) {
			return &PolicyError{Host: hostname, Pattern: pattern}
		}
	}

	// An explicit allow overrides the default block list, so a policy can
	// open up loopback for local development. The bare "*" catch-all does
	// not count as explicit; an allow-all policy keeps the defaults.
	anyAllowed := false
	explicitAllowed := false
	for _, pattern := range p.Allow {
		if matchesHostPattern(hostname, pattern) {
			anyAllowed = true
			if pattern != "*" {
				explicitAllowed = true
				break
			}
		}
	}

	if !explicitAllowed {
		for _, pattern := range DefaultBlockedHosts {
			if matchesHostPattern(hostname, pattern) {
				return &PolicyError{Host: hostname, Pattern: pattern}
			}
		}
	}

	if len(p.Allow) == 0 || anyAllowed {
		return nil
	}

	return &PolicyError{Host: hostname}
}

// matchesHostPattern checks a hostname against a single pattern.
// Supports:
// - Exact match: "api.example.com"
// - Wildcard: "*.example.com"
// - CIDR notation: "192.168.1.0/24"
// - IP address: "192.168.1.1"
func matchesHostPattern(hostname, pattern string) bool {
	if strings.Contains(pattern, "/") {
		return matchesCIDR(hostname, pattern)
	}

	if strings.Contains(pattern, "*") {
		// *.example.com -> **.example.com so doublestar spans dots
		globPattern := strings.ReplaceAll(pattern, "*", "**")
		matched, err := doublestar.Match(globPattern, hostname)
		return err == nil && matched
	}

	return hostname == pattern
}

// matchesCIDR checks whether hostname is an IP inside the CIDR range.
// Hostnames are never resolved here; only literal IPs can match a range.
func matchesCIDR(hostname, cidr string) bool {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return false
	}

	ip := net.ParseIP(hostname)
	if ip == nil {
		return false
	}

	return ipNet.Contains(ip)
}

// stripPort removes the port from a host:port string.
func stripPort(host string) string {
	// Bracketed IPv6: [::1]:8080 or [2001:db8::1]
	if strings.HasPrefix(host, "[") {
		if idx := strings.LastIndex(host, "]"); idx != -1 {
			return host[1:idx]
		}
	}

	// Bare IPv6 addresses contain multiple colons and carry no port.
	if strings.Count(host, ":") > 1 {
		return host
	}

	if idx := strings.LastIndex(host, ":"); idx != -1 {
		return host[:idx]
	}

	return host
}
