package userinfo

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"golang.org/x/sync/errgroup"

	"github.com/vo-tools/tokengate/internal/fetch"
	"github.com/vo-tools/tokengate/internal/logctx"
	"github.com/vo-tools/tokengate/issuers"
)

// ErrNoUserInfo indicates that no candidate issuer produced a userinfo
// response for the token.
var ErrNoUserInfo = errors.New("userinfo: no issuer candidate returned a userinfo")

// Aggregator probes the userinfo endpoints of candidate issuers with a
// bounded worker pool and keeps whichever answers first. Client and Cache
// are required; ClientID/ClientSecret enable introspection.
type Aggregator struct {
	Client       *fetch.Client
	Cache        *issuers.Cache
	Logger       *slog.Logger
	NumWorkers   int
	ClientID     string
	ClientSecret string
}

type fetchResult struct {
	claims map[string]any
	issuer *issuers.Config
}

// FetchAll queries the userinfo endpoint of every candidate concurrently
// and returns the claims of the first candidate to answer with a valid JSON
// body. Completion order, not candidate order, breaks ties; network latency
// dominates either way. The winning issuer is memoized against the token so
// later calls skip resolution and fan-out entirely.
func (a *Aggregator) FetchAll(ctx context.Context, accessToken string, candidates []*issuers.Config) (map[string]any, *issuers.Config, error) {
	log := a.Logger
	if log == nil {
		log = slog.Default()
	}

	// Cancel the losers once everyone reported in; a straggler past the
	// timeout must not leak its request.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan fetchResult, len(candidates))
	g := new(errgroup.Group)
	if a.NumWorkers > 0 {
		g.SetLimit(a.NumWorkers)
	}
	for _, candidate := range candidates {
		if candidate == nil || candidate.UserinfoEndpoint == "" {
			continue
		}
		candidate := candidate
		g.Go(func() error {
			probeCtx := logctx.WithIssuer(ctx, candidate.Issuer)
			header := http.Header{}
			header.Set("Authorization", "Bearer "+accessToken)
			claims, err := a.Client.GetJSON(probeCtx, candidate.UserinfoEndpoint, header)
			if err != nil {
				// A failed candidate must not sink the others.
				log.DebugContext(probeCtx, "userinfo fetch failed", "endpoint", candidate.UserinfoEndpoint, "err", err)
				return nil
			}
			results <- fetchResult{claims: claims, issuer: candidate}
			return nil
		})
	}
	g.Wait()
	close(results)

	winner, ok := <-results
	if !ok {
		return nil, nil, ErrNoUserInfo
	}

	a.Cache.Add(winner.issuer)
	a.Cache.AssociateToken(accessToken, winner.issuer.Issuer)
	log.DebugContext(ctx, "userinfo established", "issuer", winner.issuer.Issuer)
	return winner.claims, winner.issuer, nil
}

// Introspect posts the token to the introspection endpoint of the first
// candidate that answers 200. Introspection is optional: without client
// credentials, or when every candidate declines, it returns nil without
// error.
func (a *Aggregator) Introspect(ctx context.Context, accessToken string, candidates []*issuers.Config) map[string]any {
	log := a.Logger
	if log == nil {
		log = slog.Default()
	}
	if a.ClientID == "" || a.ClientSecret == "" {
		log.DebugContext(ctx, "skipping introspection, no client credentials configured")
		return nil
	}

	form := url.Values{"token": {accessToken}}
	for _, candidate := range candidates {
		if candidate == nil || candidate.IntrospectionEndpoint == "" {
			continue
		}
		probeCtx := logctx.WithIssuer(ctx, candidate.Issuer)
		claims, err := a.Client.PostFormJSON(probeCtx, candidate.IntrospectionEndpoint, form, a.ClientID, a.ClientSecret)
		if err != nil {
			log.DebugContext(probeCtx, "introspection failed", "endpoint", candidate.IntrospectionEndpoint, "err", err)
			continue
		}
		return claims
	}
	return nil
}
