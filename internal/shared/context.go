package shared

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// SystemActorID identifies transitions performed by the service itself
// (PO conversion, full receipt, full billing).
const SystemActorID int64 = -1

// ActorHeader carries the authenticated user id set by the upstream gateway.
const ActorHeader = "X-Actor-ID"

type actorContextKey struct{}

// ContextWithActor stores the actor id in context.
func ContextWithActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actorID)
}

// ActorFromContext extracts the actor id; ok is false when none was set.
func ActorFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(actorContextKey{}).(int64)
	return id, ok && id != 0
}

// ParseActorID parses a positive actor id from a header value.
func ParseActorID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, NewValidationError("actor", "required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewValidationError("actor", fmt.Sprintf("invalid actor id %q", raw))
	}
	return id, nil
}
