package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
)

type contextKey string

const ctxActor contextKey = "actor"

// Actor is the authenticated caller of a request.
type Actor struct {
	SubjectID uuid.UUID
	ShopID    *uuid.UUID
	Role      enums.ActorRole
}

// WithActor injects the authenticated actor into the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxActor, actor)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(ctxActor).(Actor)
	return actor, ok
}

// ShopIDFromContext returns the acting shop, or uuid.Nil for operators and drivers.
func ShopIDFromContext(ctx context.Context) uuid.UUID {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.ShopID == nil {
		return uuid.Nil
	}
	return *actor.ShopID
}
