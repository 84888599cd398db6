package auth

import "context"

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const principalContextKey contextKey = "principal_id"

// ContextWithPrincipal adds the authenticated principal id to the context.
func ContextWithPrincipal(ctx context.Context, principalID string) context.Context {
	return context.WithValue(ctx, principalContextKey, principalID)
}

// PrincipalFromContext retrieves the principal id from the context.
// The boolean is false if the request was not authenticated.
func PrincipalFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(principalContextKey).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// MustPrincipalFromContext retrieves the principal id from the context.
// Panics if not present (use only behind the authentication middleware).
func MustPrincipalFromContext(ctx context.Context) string {
	id, ok := PrincipalFromContext(ctx)
	if !ok {
		panic("principal not found in context - ensure auth middleware is applied")
	}
	return id
}
