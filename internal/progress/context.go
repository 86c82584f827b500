package progress

import "context"

type sessionKey struct{}

// WithSession attaches a session id to ctx so a long running operation
// reports into a session its caller already created.
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionFrom returns the session id attached to ctx, if any.
func SessionFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionKey{}).(string)
	return id, ok && id != ""
}
