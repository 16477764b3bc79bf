// Package logctx enriches slog records with data about the token resolution
// in flight, so that log lines from concurrent issuer probes can be
// correlated without threading loggers through every call.
package logctx

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Handler wraps an slog.Handler and annotates every record with the
// resolution data carried by the context, if any.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(resolutionDataKey{}).(*ResolutionData); ok {
		attrs := []any{
			slog.String("id", rd.ResolutionID),
		}
		if rd.Issuer != "" {
			attrs = append(attrs, slog.String("issuer", rd.Issuer))
		}
		r.AddAttrs(slog.Group("resolve", attrs...))
	}
	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type resolutionDataKey struct{}

// ResolutionData identifies one token resolution and, optionally, the issuer
// currently being probed on its behalf.
type ResolutionData struct {
	ResolutionID string
	Issuer       string
}

// WithResolution attaches a fresh resolution id to the context.
func WithResolution(ctx context.Context) context.Context {
	return context.WithValue(ctx, resolutionDataKey{}, &ResolutionData{ResolutionID: uuid.NewString()})
}

// WithIssuer scopes the context to one issuer probe, keeping the resolution
// id of the surrounding resolution.
func WithIssuer(ctx context.Context, issuer string) context.Context {
	rd := &ResolutionData{Issuer: issuer}
	if prev, ok := ctx.Value(resolutionDataKey{}).(*ResolutionData); ok {
		rd.ResolutionID = prev.ResolutionID
	}
	if rd.ResolutionID == "" {
		rd.ResolutionID = uuid.NewString()
	}
	return context.WithValue(ctx, resolutionDataKey{}, rd)
}
