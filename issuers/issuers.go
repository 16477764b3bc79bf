// Package issuers determines which OpenID provider issued an access token.
// It models provider discovery documents, caches them with a TTL, memoizes
// token-to-issuer associations and runs the fallback chain that turns a raw
// access token into one or more candidate issuer configurations.
package issuers

import (
	"errors"
	"net/url"
	"strings"
)

// ErrUnresolved indicates that no step of the resolution chain produced an
// issuer configuration for the token.
var ErrUnresolved = errors.New("issuers: could not determine issuer config")

// ErrUntrustedIssuer indicates the token embeds an issuer that is not in the
// trusted set. This is a hard trust boundary; resolution never falls through
// to later steps once it is hit.
var ErrUntrustedIssuer = errors.New("issuers: issuer is not trusted")

// Config is a provider's OIDC discovery document reduced to the fields the
// engine needs. Raw carries the complete document.
type Config struct {
	Issuer                string
	UserinfoEndpoint      string
	IntrospectionEndpoint string
	Raw                   map[string]any
}

// ConfigFromDocument builds a Config from a decoded discovery document.
// probedFrom is used as the issuer when the document does not name one.
func ConfigFromDocument(doc map[string]any, probedFrom string) *Config {
	cfg := &Config{Raw: doc}
	cfg.Issuer, _ = doc["issuer"].(string)
	if cfg.Issuer == "" {
		cfg.Issuer = probedFrom
	}
	cfg.Issuer = Normalize(cfg.Issuer)
	cfg.UserinfoEndpoint, _ = doc["userinfo_endpoint"].(string)
	cfg.IntrospectionEndpoint, _ = doc["introspection_endpoint"].(string)
	return cfg
}

// Normalize strips the trailing slash from an issuer URL. All trust checks
// and cache lookups operate on normalized issuers.
func Normalize(issuer string) string {
	return strings.TrimRight(issuer, "/")
}

// IsURL reports whether s looks like an http(s) URL with a host.
func IsURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
