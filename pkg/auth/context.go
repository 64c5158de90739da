package auth

import (
	"context"
	"errors"

	"github.com/finllm-labs/gateway/pkg/credentials"
)

type contextKey string

const claimsKey contextKey = "claims"

// WithClaims attaches verified token claims to the context.
func WithClaims(ctx context.Context, c *credentials.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// GetClaims retrieves the verified claims from the context.
func GetClaims(ctx context.Context) (*credentials.Claims, error) {
	c, ok := ctx.Value(claimsKey).(*credentials.Claims)
	if !ok || c == nil {
		return nil, errors.New("no claims in context")
	}
	return c, nil
}
