package tokengate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vo-tools/tokengate/internal/fetch"
	"github.com/vo-tools/tokengate/internal/logctx"
	"github.com/vo-tools/tokengate/issuers"
	"github.com/vo-tools/tokengate/requirements"
	"github.com/vo-tools/tokengate/tokens"
	"github.com/vo-tools/tokengate/userinfo"
)

// Authorizer authenticates bearer access tokens against a set of trusted
// OpenID providers and evaluates caller-declared requirements over the
// resulting identity. Safe for concurrent use.
type Authorizer struct {
	cfg      Config
	log      *slog.Logger
	cache    *issuers.Cache
	resolver *issuers.Resolver
	agg      *userinfo.Aggregator
	opFile   *issuers.OPFile

	stopWatch context.CancelFunc
}

// New builds an Authorizer from cfg. The configuration is normalized and
// validated; cfg is not retained.
func New(cfg Config) (*Authorizer, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := slog.New(logctx.Handler{Handler: cfg.Logger.Handler()})
	cache := issuers.NewCache(cfg.CacheLifetime)
	client := fetch.New(fetch.Options{
		Timeout:               cfg.ClientConnectTimeout,
		InsecureSkipTLSVerify: cfg.InsecureSkipTLSVerify,
		HTTPClient:            cfg.HTTPClient,
		RequestsPerSecond:     cfg.RequestsPerSecond,
		NegativeTTL:           cfg.CacheLifetime,
		CacheableStatusCodes:  cfg.CacheableStatusCodes,
		Logger:                log,
	})

	a := &Authorizer{cfg: cfg, log: log, cache: cache}

	if cfg.OPFile != "" {
		opFile, err := issuers.NewOPFile(cfg.OPFile, log)
		if err != nil {
			return nil, err
		}
		a.opFile = opFile
		if cfg.WatchOPFile {
			watchCtx, stop := context.WithCancel(context.Background())
			a.stopWatch = stop
			go func() {
				if err := opFile.Watch(watchCtx); err != nil && !errors.Is(err, context.Canceled) {
					log.Warn("OP file watcher stopped", "err", err)
				}
			}()
		}
	}

	resolver, err := issuers.NewResolver(issuers.ResolverOptions{
		Cache:             cache,
		Client:            client,
		Logger:            log,
		IssuerURL:         cfg.IssuerURL,
		TrustedOPs:        cfg.TrustedOPs,
		OPHint:            cfg.OPHint,
		OPFile:            a.opFile,
		OPsThatSupportJWT: cfg.OPsThatSupportJWT,
		NumWorkers:        cfg.NumRequestWorkers,
	})
	if err != nil {
		return nil, err
	}
	a.resolver = resolver
	a.agg = &userinfo.Aggregator{
		Client:       client,
		Cache:        cache,
		Logger:       log,
		NumWorkers:   cfg.NumRequestWorkers,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	}
	return a, nil
}

// Close stops the OP file watcher, if one is running.
func (a *Authorizer) Close() error {
	if a.stopWatch != nil {
		a.stopWatch()
	}
	return nil
}

// Authenticate establishes the identity behind the access token: it decodes
// the token, rejects expired ones, resolves candidate issuers, fans out to
// their userinfo endpoints and merges the claims of the winner with the
// token body and the optional introspection response.
func (a *Authorizer) Authenticate(ctx context.Context, accessToken string) (*userinfo.UserInfos, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("%w: no access token", ErrUnauthenticated)
	}

	info, err := tokens.Decode(accessToken)
	if err != nil {
		// Opaque tokens carry no embedded claims; resolution continues with
		// the configured issuers.
		a.log.DebugContext(ctx, "access token is not a JWT", "err", err)
		info = nil
	}
	if timeLeft, ok := info.TimeLeft(time.Now()); ok && timeLeft <= 0 {
		return nil, fmt.Errorf("%w: access token expired %s ago", ErrUnauthorized, -timeLeft)
	}

	candidates, err := a.resolver.Resolve(ctx, accessToken, info)
	if err != nil {
		return nil, errors.Join(ErrUnauthenticated, err)
	}

	claims, winner, err := a.agg.FetchAll(ctx, accessToken, candidates)
	if err != nil {
		return nil, errors.Join(ErrUnauthorized, err)
	}
	introspection := a.agg.Introspect(ctx, accessToken, candidates)

	infos := userinfo.New(info, claims, introspection,
		userinfo.WithPrecedence(a.cfg.ClaimSearchPrecedence),
		userinfo.WithIssuer(winner.Issuer),
		a.claimOverride(),
	)
	a.log.InfoContext(ctx, "authenticated user", "sub", infos.Subject(), "iss", infos.Issuer())
	return infos, nil
}

// Check authenticates the token and evaluates the requirement against the
// resulting identity. The CheckResult carries the diagnostic either way;
// err is only non-nil when authentication itself failed.
func (a *Authorizer) Check(ctx context.Context, accessToken string, req requirements.Requirement) (requirements.CheckResult, error) {
	if a.cfg.Overrides.AssumeAuthenticated {
		return requirements.CheckResult{Satisfied: true, Message: "authentication is disabled by override"}, nil
	}
	if a.cfg.Overrides.AssumeEntitlements != nil {
		// The override replaces live claim lookups wholesale, so no
		// network-backed identity is established at all.
		infos := userinfo.New(nil, nil, nil,
			userinfo.WithPrecedence(a.cfg.ClaimSearchPrecedence),
			userinfo.WithClaimOverride(a.cfg.Overrides.AssumeEntitlements),
		)
		return req.SatisfiedBy(infos), nil
	}
	infos, err := a.Authenticate(ctx, accessToken)
	if err != nil {
		return requirements.CheckResult{Satisfied: false, Message: err.Error()}, err
	}
	return req.SatisfiedBy(infos), nil
}

// Require is Check with the decision folded into the error: it returns nil
// when the requirement is satisfied and an ErrForbidden-wrapped diagnostic
// when it is not.
func (a *Authorizer) Require(ctx context.Context, accessToken string, req requirements.Requirement) error {
	res, err := a.Check(ctx, accessToken, req)
	if err != nil {
		return err
	}
	if !res.Satisfied {
		return fmt.Errorf("%w: %s", ErrForbidden, res.Message)
	}
	return nil
}

func (a *Authorizer) claimOverride() userinfo.Option {
	if a.cfg.Overrides.AssumeEntitlements == nil {
		return func(*userinfo.UserInfos) {}
	}
	return userinfo.WithClaimOverride(a.cfg.Overrides.AssumeEntitlements)
}
