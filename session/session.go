// Package session carries the authenticated caller through context.Context
// so server actions never reach for a global client.
package session

import "context"

type Session struct {
	UserID string
	Role   string
}

type ctxKey struct{}

func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the caller, or nil when the request is anonymous.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxKey{}).(*Session)
	if s == nil || s.UserID == "" {
		return nil
	}
	return s
}

func For(ctx context.Context, userID, role string) context.Context {
	return WithSession(ctx, &Session{UserID: userID, Role: role})
}
