package auth

import "context"

type callerContextKey struct{}

// ContextWithCaller attaches the verified token claims to the context.
func ContextWithCaller(ctx context.Context, claims *AccessClaims) context.Context {
	if claims == nil {
		return ctx
	}
	return context.WithValue(ctx, callerContextKey{}, claims)
}

// CallerFromContext extracts the verified token claims from the context.
func CallerFromContext(ctx context.Context) (*AccessClaims, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(callerContextKey{}).(*AccessClaims)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}
