// Package endpoint derives the routable hostname and URL of a store.
package endpoint

import "strings"

// Environment modes.
const (
	ModeProduction = "production"
	ModeLocal      = "local"
)

// DefaultLocalBaseDomain resolves every subdomain to 127.0.0.1.
const DefaultLocalBaseDomain = "localtest.me"

// Config holds the environment inputs to Resolve.
type Config struct {
	Mode             string
	PublicHostSuffix string
	LocalBaseDomain  string
	Port             string
}

// Endpoint is the hostname a store is reachable at and its browsable URL.
type Endpoint struct {
	Hostname string `json:"hostname"`
	URL      string `json:"url"`
}

// ParseMode maps an environment flag to a mode. Anything other than
// "prod" or "production" is local.
func ParseMode(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prod", "production":
		return ModeProduction
	default:
		return ModeLocal
	}
}

// Resolve returns the endpoint for storeID. It performs no I/O and returns
// identical output for identical input.
func Resolve(storeID string, cfg Config) Endpoint {
	if cfg.Mode == ModeProduction {
		host := storeID + "." + cfg.PublicHostSuffix
		url := "http://" + host
		if cfg.Port != "" {
			url += ":" + cfg.Port
		}
		return Endpoint{Hostname: host, URL: url}
	}

	domain := cfg.LocalBaseDomain
	if domain == "" {
		domain = DefaultLocalBaseDomain
	}
	host := storeID + "." + domain
	return Endpoint{Hostname: host, URL: "http://" + host}
}
