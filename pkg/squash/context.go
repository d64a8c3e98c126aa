// context.go carries user data through context.Context so that panics
// recovered further down the call chain are recorded with it.

package squash

import "context"

type userDataKey struct{}

// WithUserData returns a context carrying key=value in addition to any user
// data already attached. Later values for the same key win.
func WithUserData(ctx context.Context, key string, value any) context.Context {
	prev, _ := ctx.Value(userDataKey{}).(Map)
	next := make(Map, len(prev)+1)
	for k, v := range prev {
		next[k] = v
	}
	next[key] = ValueOf(value)
	return context.WithValue(ctx, userDataKey{}, next)
}

// UserDataFromContext returns the user data attached to ctx, or nil.
// The returned map must not be modified.
func UserDataFromContext(ctx context.Context) Map {
	if ctx == nil {
		return nil
	}
	m, _ := ctx.Value(userDataKey{}).(Map)
	return m
}

// UserDataProvider is implemented by errors that carry their own user data.
// Errors wrapped anywhere in the chain are consulted.
type UserDataProvider interface {
	UserData() map[string]any
}
