package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// WebPolicyConfig restricts which hosts the web plugin may read.
// An empty allow list permits every host that is not disallowed.
type WebPolicyConfig struct {
	Allow    []string `mapstructure:"allow" json:"allow"`
	Disallow []string `mapstructure:"disallow" json:"disallow"`
}

// Normalize lowercases hosts, strips schemes and www., and dedupes.
func (c WebPolicyConfig) Normalize() WebPolicyConfig {
	return WebPolicyConfig{
		Allow:    hostList(c.Allow),
		Disallow: hostList(c.Disallow),
	}
}

// Validate rejects a host listed as both allowed and disallowed.
func (c WebPolicyConfig) Validate() error {
	norm := c.Normalize()
	allow := make(map[string]struct{}, len(norm.Allow))
	for _, host := range norm.Allow {
		allow[host] = struct{}{}
	}
	for _, host := range norm.Disallow {
		if _, ok := allow[host]; ok {
			return fmt.Errorf("plugins.web.policy conflict: host %q present in both allow and disallow lists", host)
		}
	}
	return nil
}

// Permits reports whether rawURL may be fetched. Subdomains inherit the rule of their parent.
func (c WebPolicyConfig) Permits(rawURL string) bool {
	host := NormalizeHost(rawURL)
	if host == "" {
		return false
	}
	for _, d := range c.Disallow {
		if matchesHost(host, d) {
			return false
		}
	}
	if len(c.Allow) == 0 {
		return true
	}
	for _, a := range c.Allow {
		if matchesHost(host, a) {
			return true
		}
	}
	return false
}

func matchesHost(host, rule string) bool {
	return host == rule || strings.HasSuffix(host, "."+rule)
}

func hostList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	for _, raw := range values {
		if host := NormalizeHost(raw); host != "" {
			seen[host] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for host := range seen {
		out = append(out, host)
	}
	sort.Strings(out)
	return out
}

// NormalizeHost extracts a bare lowercase host from a URL or host string.
func NormalizeHost(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		u, err := url.Parse(value)
		if err != nil || u.Hostname() == "" {
			return ""
		}
		value = u.Hostname()
	}
	return strings.TrimPrefix(value, "www.")
}
