package types

import (
	"context"
)

// ActorType identifies the kind of authenticated entity making a request.
type ActorType string

const (
	// ActorTypeUser is a marketplace user resolved from a bearer token.
	ActorTypeUser ActorType = "user"
	// ActorTypeSystem is the privileged server-to-server identity resolved
	// from the bypass credential. It passes every ownership check.
	ActorTypeSystem ActorType = "system"
)

// SystemActorID is the subject id used for the bypass identity.
const SystemActorID = "system"

// Actor represents the authenticated entity performing an operation.
type Actor struct {
	ID   string
	Type ActorType
}

// SystemActor returns the privileged bypass identity.
func SystemActor() Actor {
	return Actor{ID: SystemActorID, Type: ActorTypeSystem}
}

// IsSystem reports whether the actor is the bypass identity.
func (a Actor) IsSystem() bool {
	return a.Type == ActorTypeSystem
}

// CanManage reports whether the actor may act on a listing owned by ownerID.
func (a Actor) CanManage(ownerID string) bool {
	if a.IsSystem() {
		return true
	}
	return a.ID != "" && a.ID == ownerID
}

type contextKey string

const (
	actorKey     contextKey = "actor"
	requestIDKey contextKey = "request_id"
)

// WithActor stores the Actor in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor retrieves the Actor from the context.
func GetActor(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
