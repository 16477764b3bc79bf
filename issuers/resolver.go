package issuers

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vo-tools/tokengate/internal/fetch"
	"github.com/vo-tools/tokengate/internal/logctx"
	"github.com/vo-tools/tokengate/tokens"
)

const wellKnownPath = "/.well-known/openid-configuration"

// ResolverOptions configures a Resolver. Cache and Client are required.
type ResolverOptions struct {
	Cache  *Cache
	Client *fetch.Client
	Logger *slog.Logger

	// IssuerURL pins a single configured issuer (step 3 of the chain).
	IssuerURL string

	// TrustedOPs is the list of trusted issuer URLs. It doubles as the trust
	// set for issuers embedded in tokens and as the candidate list of step 4.
	TrustedOPs []string

	// OPHint filters TrustedOPs and OP-file issuers by regexp (or plain
	// substring when it does not compile as a regexp).
	OPHint string

	// OPFile supplies additional issuer URLs from an oidc-agent style file
	// (step 5). Optional.
	OPFile *OPFile

	// OPsThatSupportJWT are issuers known to embed their own "iss" claim.
	// They are excluded from list and file search since tokens they issue
	// are already handled by the embedded-issuer step.
	OPsThatSupportJWT []string

	// NumWorkers bounds the concurrent discovery probes for list and file
	// search.
	NumWorkers int
}

// Resolver runs the fallback chain that turns an access token into one or
// more candidate issuer configs:
//
//  1. token cache (previously memoized issuer)
//  2. issuer embedded in the token, which must be trusted
//  3. the single configured issuer
//  4. the trusted issuer list
//  5. the OP file
//
// Steps 4 and 5 may return several candidates; disambiguation is left to
// the userinfo fan-out.
type Resolver struct {
	cache   *Cache
	client  *fetch.Client
	log     *slog.Logger
	issuer  string
	trusted []string
	hint    *regexp.Regexp
	opFile  *OPFile
	exclude map[string]bool
	workers int

	trustedSet map[string]bool
}

// NewResolver builds a Resolver. An OPHint that does not compile as a
// regexp is quoted and used as a literal substring match.
func NewResolver(opts ResolverOptions) (*Resolver, error) {
	r := &Resolver{
		cache:      opts.Cache,
		client:     opts.Client,
		log:        opts.Logger,
		issuer:     Normalize(opts.IssuerURL),
		opFile:     opts.OPFile,
		workers:    opts.NumWorkers,
		exclude:    make(map[string]bool, len(opts.OPsThatSupportJWT)),
		trustedSet: make(map[string]bool, len(opts.TrustedOPs)+1),
	}
	if r.cache == nil || r.client == nil {
		return nil, fmt.Errorf("issuers: resolver needs a cache and a client")
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.workers <= 0 {
		r.workers = 10
	}
	for _, op := range opts.TrustedOPs {
		op = Normalize(op)
		r.trusted = append(r.trusted, op)
		r.trustedSet[op] = true
	}
	if r.issuer != "" {
		r.trustedSet[r.issuer] = true
	}
	for _, op := range opts.OPsThatSupportJWT {
		r.exclude[Normalize(op)] = true
	}
	if opts.OPHint != "" {
		re, err := regexp.Compile(opts.OPHint)
		if err != nil {
			re = regexp.MustCompile(regexp.QuoteMeta(opts.OPHint))
		}
		r.hint = re
	}
	return r, nil
}

// Resolve runs the fallback chain for the token. info may be nil for opaque
// tokens. The first successful step wins; an untrusted embedded issuer
// aborts the chain with ErrUntrustedIssuer.
func (r *Resolver) Resolve(ctx context.Context, accessToken string, info *tokens.AccessTokenInfo) ([]*Config, error) {
	ctx = logctx.WithResolution(ctx)

	// 1: the exact token was resolved before.
	if iss, ok := r.cache.IssuerForToken(accessToken); ok {
		cfg, ok := r.cache.Get(iss)
		if !ok {
			// The association outlived the config entry. Surfacing this as
			// an inconsistency beats silently re-running the chain with a
			// possibly different outcome.
			return nil, fmt.Errorf("%w: issuer %q is associated with the token but has no config", ErrUnresolved, iss)
		}
		return []*Config{cfg}, nil
	}

	// 2: the token names its own issuer.
	if iss := info.Issuer(); iss != "" {
		niss := Normalize(iss)
		if !r.trustedSet[niss] {
			return nil, fmt.Errorf("%w: %s", ErrUntrustedIssuer, iss)
		}
		if cfg, ok := r.cache.Get(niss); ok {
			return []*Config{cfg}, nil
		}
		cfg := r.discoverString(ctx, niss)
		if cfg == nil {
			return nil, fmt.Errorf("%w: unable to fetch issuer config for %s", ErrUnresolved, iss)
		}
		r.cache.Add(cfg)
		return []*Config{cfg}, nil
	}

	// 3: a single issuer was configured.
	if r.issuer != "" {
		if cfg := r.discoverString(ctx, r.issuer); cfg != nil {
			r.cache.Add(cfg)
			return []*Config{cfg}, nil
		}
	}

	// 4: probe the trusted issuer list.
	if cfgs := r.discoverList(ctx, r.trusted); len(cfgs) > 0 {
		return cfgs, nil
	}

	// 5: probe issuers from the OP file.
	if r.opFile != nil {
		if cfgs := r.discoverList(ctx, r.opFile.Issuers()); len(cfgs) > 0 {
			return cfgs, nil
		}
	}

	return nil, ErrUnresolved
}

// discoverString probes the issuer base URL at its well known location and
// the oauth2 variants, in order, returning the first JSON discovery
// document.
func (r *Resolver) discoverString(ctx context.Context, issuer string) *Config {
	if !IsURL(issuer) {
		return nil
	}
	ctx = logctx.WithIssuer(ctx, issuer)
	for _, probe := range []string{
		issuer + wellKnownPath,
		issuer,
		issuer + "/oauth2",
		issuer + "/oauth2" + wellKnownPath,
	} {
		doc, err := r.client.GetDiscovery(ctx, probe)
		if err != nil {
			r.log.DebugContext(ctx, "discovery probe failed", "url", probe, "err", err)
			continue
		}
		return ConfigFromDocument(doc, issuer)
	}
	return nil
}

// discoverList concurrently probes the well known endpoint of every issuer
// that passes the hint filter and is not excluded as JWT-capable. All
// successfully discovered configs are returned and cached.
func (r *Resolver) discoverList(ctx context.Context, issuerURLs []string) []*Config {
	var (
		mu   sync.Mutex
		cfgs []*Config
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, issuer := range issuerURLs {
		issuer = Normalize(issuer)
		if r.exclude[issuer] {
			r.log.DebugContext(ctx, "skipping JWT-capable issuer", "issuer", issuer)
			continue
		}
		if r.hint != nil && !r.hint.MatchString(issuer) {
			continue
		}
		issuer := issuer
		g.Go(func() error {
			probeCtx := logctx.WithIssuer(gctx, issuer)
			doc, err := r.client.GetDiscovery(probeCtx, issuer+wellKnownPath)
			if err != nil {
				r.log.DebugContext(probeCtx, "discovery probe failed", "err", err)
				return nil
			}
			mu.Lock()
			cfgs = append(cfgs, ConfigFromDocument(doc, issuer))
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	r.cache.AddList(cfgs)
	return cfgs
}
