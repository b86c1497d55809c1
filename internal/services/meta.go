package services

import "context"

// Meta identifies who triggered a request; it ends up in audit entries.
type Meta struct {
	Actor     string
	RequestID string
}

type metaKey struct{}

func WithMeta(ctx context.Context, m Meta) context.Context {
	return context.WithValue(ctx, metaKey{}, m)
}

func MetaFrom(ctx context.Context) Meta {
	m, _ := ctx.Value(metaKey{}).(Meta)
	return m
}
