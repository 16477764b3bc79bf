package tokengate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vo-tools/tokengate/issuers"
	"github.com/vo-tools/tokengate/requirements"
	"github.com/vo-tools/tokengate/userinfo"
)

// testOP is a fake OpenID provider: discovery, userinfo and introspection on
// one server, with per-endpoint hit counters.
type testOP struct {
	srv            *httptest.Server
	discoveryHits  atomic.Int64
	userinfoHits   atomic.Int64
	introspectHits atomic.Int64
	userinfoClaims map[string]any
}

func newTestOP(t *testing.T, userinfoClaims map[string]any) *testOP {
	t.Helper()
	op := &testOP{userinfoClaims: userinfoClaims}
	op.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/openid-configuration":
			op.discoveryHits.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"issuer":                 op.srv.URL,
				"userinfo_endpoint":      op.srv.URL + "/userinfo",
				"introspection_endpoint": op.srv.URL + "/introspect",
			})
		case "/userinfo":
			op.userinfoHits.Add(1)
			if op.userinfoClaims == nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(op.userinfoClaims)
		case "/introspect":
			op.introspectHits.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{"active": true, "sub": "alice"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(op.srv.Close)
	return op
}

func mintToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return raw
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAuthorizer(t *testing.T, cfg Config) *Authorizer {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestAuthenticateHappyPath(t *testing.T) {
	op := newTestOP(t, map[string]any{
		"sub":                   "alice",
		"eduperson_entitlement": []any{"urn:mace:example.org:group:vo:role=member#aai.example.org"},
		"preferred_username":    "alice",
	})
	a := newAuthorizer(t, Config{TrustedOPs: []string{op.srv.URL}})

	token := mintToken(t, jwt.MapClaims{
		"iss": op.srv.URL,
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	infos, err := a.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice", infos.Subject())
	assert.Equal(t, op.srv.URL, infos.Issuer())
	assert.Positive(t, infos.ValidFor())

	// No client credentials, so introspection never fired.
	assert.Zero(t, op.introspectHits.Load())
}

func TestAuthenticateMemoizesIssuer(t *testing.T) {
	op := newTestOP(t, map[string]any{"sub": "alice"})
	a := newAuthorizer(t, Config{TrustedOPs: []string{op.srv.URL}})

	token := mintToken(t, jwt.MapClaims{"iss": op.srv.URL, "sub": "alice"})
	_, err := a.Authenticate(context.Background(), token)
	require.NoError(t, err)
	_, err = a.Authenticate(context.Background(), token)
	require.NoError(t, err)

	// The second call resolves from the token cache without re-running
	// discovery.
	assert.Equal(t, int64(1), op.discoveryHits.Load())
	assert.Equal(t, int64(2), op.userinfoHits.Load())
}

func TestAuthenticateIntrospection(t *testing.T) {
	op := newTestOP(t, map[string]any{"sub": "alice"})
	a := newAuthorizer(t, Config{
		TrustedOPs:   []string{op.srv.URL},
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	})

	token := mintToken(t, jwt.MapClaims{"iss": op.srv.URL, "sub": "alice"})
	infos, err := a.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, int64(1), op.introspectHits.Load())
	assert.Equal(t, true, infos.IntrospectionInfo["active"])
}

func TestAuthenticateEmptyToken(t *testing.T) {
	a := newAuthorizer(t, Config{})
	_, err := a.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAuthenticateExpiredToken(t *testing.T) {
	op := newTestOP(t, map[string]any{"sub": "alice"})
	a := newAuthorizer(t, Config{TrustedOPs: []string{op.srv.URL}})

	token := mintToken(t, jwt.MapClaims{
		"iss": op.srv.URL,
		"sub": "alice",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	_, err := a.Authenticate(context.Background(), token)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Expiry is decided locally, before any network access.
	assert.Zero(t, op.discoveryHits.Load())
	assert.Zero(t, op.userinfoHits.Load())
}

func TestAuthenticateUntrustedIssuer(t *testing.T) {
	op := newTestOP(t, map[string]any{"sub": "alice"})
	a := newAuthorizer(t, Config{TrustedOPs: []string{"https://someone-else.example.org"}})

	token := mintToken(t, jwt.MapClaims{"iss": op.srv.URL, "sub": "alice"})
	_, err := a.Authenticate(context.Background(), token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.ErrorIs(t, err, issuers.ErrUntrustedIssuer)
	assert.Zero(t, op.discoveryHits.Load())
}

func TestAuthenticateAllCandidatesReject(t *testing.T) {
	op := newTestOP(t, nil) // userinfo answers 401
	a := newAuthorizer(t, Config{TrustedOPs: []string{op.srv.URL}})

	token := mintToken(t, jwt.MapClaims{"iss": op.srv.URL, "sub": "alice"})
	_, err := a.Authenticate(context.Background(), token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestCheckAndRequire(t *testing.T) {
	op := newTestOP(t, map[string]any{
		"sub": "alice",
		"eduperson_entitlement": []any{
			"urn:mace:example.org:group:vo:subgroup:role=member#aai.example.org",
		},
	})
	a := newAuthorizer(t, Config{TrustedOPs: []string{op.srv.URL}})
	token := mintToken(t, jwt.MapClaims{"iss": op.srv.URL, "sub": "alice"})

	satisfied, err := requirements.ForEntitlements(
		[]string{"urn:mace:example.org:group:vo#aai.example.org"},
		"eduperson_entitlement", requirements.MatchAll)
	require.NoError(t, err)

	res, err := a.Check(context.Background(), token, satisfied)
	require.NoError(t, err)
	assert.True(t, res.Satisfied)
	require.NoError(t, a.Require(context.Background(), token, satisfied))

	denied, err := requirements.ForEntitlements(
		[]string{"urn:mace:example.org:group:other#aai.example.org"},
		"eduperson_entitlement", requirements.MatchAll)
	require.NoError(t, err)

	res, err = a.Check(context.Background(), token, denied)
	require.NoError(t, err)
	assert.False(t, res.Satisfied)

	err = a.Require(context.Background(), token, denied)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRequirePropagatesAuthenticationError(t *testing.T) {
	a := newAuthorizer(t, Config{})
	err := a.Require(context.Background(), "", requirements.Satisfied{})
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.NotErrorIs(t, err, ErrForbidden)
}

// failingTransport fails the test as soon as any request goes out.
type failingTransport struct{ t *testing.T }

func (ft failingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	ft.t.Errorf("unexpected outbound request to %s", r.URL)
	return nil, errors.New("no outbound requests allowed in this test")
}

func TestCheckAssumeAuthenticatedOverride(t *testing.T) {
	a := newAuthorizer(t, Config{
		Overrides:  TestOverrides{AssumeAuthenticated: true},
		HTTPClient: &http.Client{Transport: failingTransport{t}},
	})
	res, err := a.Check(context.Background(), "whatever", requirements.Unsatisfiable{})
	require.NoError(t, err)
	assert.True(t, res.Satisfied)
	require.NoError(t, a.Require(context.Background(), "", requirements.Unsatisfiable{}))
}

func TestCheckAssumeEntitlementsOverride(t *testing.T) {
	a := newAuthorizer(t, Config{
		Overrides: TestOverrides{
			AssumeEntitlements: []any{"urn:mace:example.org:group:vo:role=member#aai.example.org"},
		},
		HTTPClient: &http.Client{Transport: failingTransport{t}},
	})

	req, err := requirements.ForEntitlements(
		[]string{"urn:mace:example.org:group:vo#aai.example.org"},
		"eduperson_entitlement", requirements.MatchAll)
	require.NoError(t, err)

	res, err := a.Check(context.Background(), "whatever", req)
	require.NoError(t, err)
	assert.True(t, res.Satisfied)

	denied, err := requirements.ForEntitlements(
		[]string{"urn:mace:example.org:group:absent#aai.example.org"},
		"eduperson_entitlement", requirements.MatchAll)
	require.NoError(t, err)

	res, err = a.Check(context.Background(), "whatever", denied)
	require.NoError(t, err)
	assert.False(t, res.Satisfied)
}

func TestTestOverridesFromEnv(t *testing.T) {
	t.Setenv(EnvAssumeAuthenticated, "yes")
	t.Setenv(EnvAssumeEntitlements, `["a:group:b"]`)
	o, err := TestOverridesFromEnv()
	require.NoError(t, err)
	assert.True(t, o.AssumeAuthenticated)
	assert.Equal(t, []any{"a:group:b"}, o.AssumeEntitlements)

	t.Setenv(EnvAssumeAuthenticated, "true") // must be exactly "yes"
	t.Setenv(EnvAssumeEntitlements, "")
	o, err = TestOverridesFromEnv()
	require.NoError(t, err)
	assert.False(t, o.AssumeAuthenticated)
	assert.Nil(t, o.AssumeEntitlements)

	t.Setenv(EnvAssumeEntitlements, "not json")
	_, err = TestOverridesFromEnv()
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{TrustedOPs: []string{"not a url"}, Logger: quietLogger()}
	cfg.Normalize()
	assert.Error(t, cfg.Validate())

	cfg = Config{IssuerURL: "ftp://op.example.org", Logger: quietLogger()}
	cfg.Normalize()
	assert.Error(t, cfg.Validate())

	cfg = Config{ClaimSearchPrecedence: []userinfo.Source{"bogus"}, Logger: quietLogger()}
	cfg.Normalize()
	assert.Error(t, cfg.Validate())

	cfg = Config{
		TrustedOPs: []string{"https://op.example.org/"},
		IssuerURL:  "https://issuer.example.org/",
		Logger:     quietLogger(),
	}
	cfg.Normalize()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"https://op.example.org"}, cfg.TrustedOPs)
	assert.Equal(t, "https://issuer.example.org", cfg.IssuerURL)
	assert.Equal(t, DefaultNumRequestWorkers, cfg.NumRequestWorkers)
	assert.Equal(t, DefaultClientConnectTimeout, cfg.ClientConnectTimeout)
}
