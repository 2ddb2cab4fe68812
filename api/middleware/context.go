package middleware

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const ctxPrincipal contextKey = "principal"

// PrincipalFromContext returns the authenticated principal, or uuid.Nil
// when the request carries none.
func PrincipalFromContext(ctx context.Context) uuid.UUID {
	if ctx == nil {
		return uuid.Nil
	}
	if v, ok := ctx.Value(ctxPrincipal).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

// WithPrincipal injects the principal identifier into the context.
func WithPrincipal(ctx context.Context, principal uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxPrincipal, principal)
}
