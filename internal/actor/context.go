package actor

import "context"

type contextKey struct{}

// Identity is the authenticated requester a turn runs on behalf of.
// ConversationID may be empty for operations that are not conversation-bound
// (approval API calls on the user's whole action list).
type Identity struct {
	UserID         string
	ConversationID string
}

// WithIdentity returns a context carrying the requester identity.
// Use FromContext(ctx) to retrieve it. When the request has no authenticated
// user, do not call WithIdentity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	if id.UserID == "" {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity from the context, or the zero Identity if
// not set.
func FromContext(ctx context.Context) Identity {
	if ctx == nil {
		return Identity{}
	}
	v := ctx.Value(contextKey{})
	if v == nil {
		return Identity{}
	}
	id, _ := v.(Identity)
	return id
}

// UserID is shorthand for FromContext(ctx).UserID.
func UserID(ctx context.Context) string {
	return FromContext(ctx).UserID
}
