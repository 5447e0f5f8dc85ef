package shared

import "context"

type actorContextKey struct{}

// Actor identifies the authenticated caller and its tenant scope. It is
// resolved by the upstream auth collaborator and trusted as given.
type Actor struct {
	TenantID    int64
	UserID      int64
	Permissions []string
}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// Valid reports whether both tenant and user are set.
func (a Actor) Valid() bool {
	return a.TenantID > 0 && a.UserID > 0
}
