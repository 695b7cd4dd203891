package auth

import (
	"context"
	"time"
)

type claimsKey struct{}

// WithClaims stores verified token claims on ctx.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}

// WithSubject is shorthand for claims carrying only a subject.
func WithSubject(ctx context.Context, sub string) context.Context {
	c := &Claims{}
	c.Subject = sub
	return WithClaims(ctx, c)
}

// SubjectFromContext returns the caller's user id, or "" when unauthenticated.
func SubjectFromContext(ctx context.Context) string {
	if c, ok := ClaimsFromContext(ctx); ok {
		return c.Subject
	}
	return ""
}

// ExpiresAt reports when the caller's token stops being valid.
func ExpiresAt(ctx context.Context) (time.Time, bool) {
	c, ok := ClaimsFromContext(ctx)
	if !ok || c.ExpiresAt == nil {
		return time.Time{}, false
	}
	return c.ExpiresAt.Time, true
}
