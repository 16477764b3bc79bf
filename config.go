package tokengate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/vo-tools/tokengate/issuers"
	"github.com/vo-tools/tokengate/userinfo"
)

// DefaultOPsThatSupportJWT lists providers known to embed their issuer in
// the access token. Tokens from these providers resolve via the embedded
// issuer, so list and file search skip them. No trailing slashes.
var DefaultOPsThatSupportJWT = []string{
	"https://aai-dev.egi.eu/oidc",
	"https://aai.egi.eu/oidc",
	"https://b2access-integration.fz-juelich.de/oauth2",
	"https://b2access.eudat.eu/oauth2",
	"https://iam-test.indigo-datacloud.eu",
	"https://iam.deep-hybrid-datacloud.eu",
	"https://iam.extreme-datacloud.eu",
	"https://login-dev.helmholtz.de/oauth2",
	"https://login.elixir-czech.org/oidc",
	"https://login.helmholtz-data-federation.de/oauth2",
	"https://login.helmholtz.de/oauth2",
	"https://oidc.scc.kit.edu/auth/realms/kit",
	"https://services.humanbrainproject.eu/oidc",
	"https://unity.helmholtz-data-federation.de/oauth2",
	"https://wlcg.cloud.cnaf.infn.it",
}

// Defaults applied by Config.Normalize.
const (
	DefaultNumRequestWorkers    = 10
	DefaultClientConnectTimeout = 1200 * time.Millisecond
)

// DefaultCacheableStatusCodes are the discovery response statuses worth
// remembering as misses for the cache lifetime.
var DefaultCacheableStatusCodes = []int{200, 400, 401, 402, 403, 404}

// Config describes one Authorizer. It is consumed at construction; changing
// it afterwards has no effect. A zero value is usable for purely
// token-embedded issuers only after adding a trusted OP or issuer URL.
type Config struct {
	// TrustedOPs lists the trusted issuer URLs. A token whose embedded
	// issuer is not in this set (nor equal to IssuerURL) is rejected
	// outright.
	TrustedOPs []string

	// IssuerURL pins a single issuer to resolve against when the token does
	// not embed one.
	IssuerURL string

	// OPHint filters list and file candidates by regexp or substring.
	OPHint string

	// OPFile is the path of an oidc-agent style issuer.config file used as
	// the last resolution step. Empty disables the step.
	OPFile string

	// WatchOPFile keeps the OP file's issuer list current via fsnotify.
	WatchOPFile bool

	// ClientID and ClientSecret enable token introspection. Both empty is
	// fine; introspection is always optional.
	ClientID     string
	ClientSecret string

	// InsecureSkipTLSVerify disables certificate verification for all
	// outbound calls. Development and debugging only.
	InsecureSkipTLSVerify bool

	// NumRequestWorkers bounds the concurrent discovery and userinfo
	// probes. Defaults to DefaultNumRequestWorkers.
	NumRequestWorkers int

	// ClientConnectTimeout bounds each outbound call. Defaults to
	// DefaultClientConnectTimeout.
	ClientConnectTimeout time.Duration

	// ClaimSearchPrecedence orders the claim sources consulted by lookups.
	// Defaults to userinfo before access token body.
	ClaimSearchPrecedence []userinfo.Source

	// CacheLifetime is the TTL for cached issuer configs and discovery
	// misses. Defaults to issuers.DefaultCacheLifetime.
	CacheLifetime time.Duration

	// CacheableStatusCodes lists the discovery response statuses remembered
	// as misses. Defaults to DefaultCacheableStatusCodes.
	CacheableStatusCodes []int

	// OPsThatSupportJWT overrides DefaultOPsThatSupportJWT.
	OPsThatSupportJWT []string

	// RequestsPerSecond throttles outbound probes. Zero means unlimited.
	RequestsPerSecond float64

	// Overrides are the test escape hatches. Never enable them outside of
	// test or development environments; see TestOverrides.
	Overrides TestOverrides

	// Logger receives structured logs. Defaults to slog.Default().
	Logger *slog.Logger

	// HTTPClient overrides the outbound client, mainly so tests can inject
	// a counting or failing transport.
	HTTPClient *http.Client
}

// TestOverrides disables parts of the engine for test and development
// setups. The fields are only ever read at construction time; core
// evaluation never consults the process environment.
type TestOverrides struct {
	// AssumeAuthenticated skips authentication and authorization entirely:
	// every Check and Require succeeds without network access.
	AssumeAuthenticated bool

	// AssumeEntitlements, when non-nil, replaces the claim lookup of every
	// HasClaim-family requirement with this fixed list.
	AssumeEntitlements []any
}

// Env variable names for TestOverridesFromEnv.
const (
	EnvAssumeAuthenticated = "DISABLE_AUTHENTICATION_AND_ASSUME_AUTHENTICATED_USER"
	EnvAssumeEntitlements  = "DISABLE_AUTHENTICATION_AND_ASSUME_ENTITLEMENTS"
)

type testOverridesEnv struct {
	AssumeAuthenticated string `env:"DISABLE_AUTHENTICATION_AND_ASSUME_AUTHENTICATED_USER,default="`
	AssumeEntitlements  string `env:"DISABLE_AUTHENTICATION_AND_ASSUME_ENTITLEMENTS,default="`
}

// TestOverridesFromEnv reads the override variables from the environment:
// EnvAssumeAuthenticated must be "yes" to take effect, and
// EnvAssumeEntitlements must be a JSON list.
func TestOverridesFromEnv() (TestOverrides, error) {
	var raw testOverridesEnv
	if err := envdecode.Decode(&raw); err != nil {
		return TestOverrides{}, fmt.Errorf("tokengate: decoding override environment: %w", err)
	}
	var o TestOverrides
	o.AssumeAuthenticated = strings.EqualFold(raw.AssumeAuthenticated, "yes")
	if raw.AssumeEntitlements != "" {
		if err := json.Unmarshal([]byte(raw.AssumeEntitlements), &o.AssumeEntitlements); err != nil {
			return TestOverrides{}, fmt.Errorf("tokengate: %s is not a JSON list: %w", EnvAssumeEntitlements, err)
		}
	}
	return o, nil
}

// Normalize fills in defaults and strips trailing slashes from issuer URLs.
func (c *Config) Normalize() {
	c.IssuerURL = issuers.Normalize(c.IssuerURL)
	for i, op := range c.TrustedOPs {
		c.TrustedOPs[i] = issuers.Normalize(op)
	}
	if c.NumRequestWorkers <= 0 {
		c.NumRequestWorkers = DefaultNumRequestWorkers
	}
	if c.ClientConnectTimeout <= 0 {
		c.ClientConnectTimeout = DefaultClientConnectTimeout
	}
	if len(c.ClaimSearchPrecedence) == 0 {
		c.ClaimSearchPrecedence = userinfo.DefaultPrecedence
	}
	if c.CacheLifetime <= 0 {
		c.CacheLifetime = issuers.DefaultCacheLifetime
	}
	if c.CacheableStatusCodes == nil {
		c.CacheableStatusCodes = DefaultCacheableStatusCodes
	}
	if c.OPsThatSupportJWT == nil {
		c.OPsThatSupportJWT = DefaultOPsThatSupportJWT
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate reports configuration that cannot work. Call after Normalize.
func (c Config) Validate() error {
	for _, op := range c.TrustedOPs {
		if !issuers.IsURL(op) {
			return fmt.Errorf("tokengate: trusted OP is not a URL: %q", op)
		}
	}
	if c.IssuerURL != "" && !issuers.IsURL(c.IssuerURL) {
		return fmt.Errorf("tokengate: issuer is not a URL: %q", c.IssuerURL)
	}
	for _, src := range c.ClaimSearchPrecedence {
		switch src {
		case userinfo.SourceUserInfo, userinfo.SourceAccessToken, userinfo.SourceIntrospection:
		default:
			return fmt.Errorf("tokengate: unknown claim source %q in search precedence", src)
		}
	}
	if c.OPHint != "" {
		if _, err := regexp.Compile(c.OPHint); err != nil {
			// Substring hints are fine, but warn about broken regexps that
			// would silently demote to substring matching.
			log := c.Logger
			if log == nil {
				log = slog.Default()
			}
			log.Warn("OP hint does not compile as a regexp, using substring match", "hint", c.OPHint)
		}
	}
	return nil
}
