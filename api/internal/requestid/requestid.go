package requestid

import (
	"context"

	"github.com/google/uuid"
)

// Header carries the id back to the client.
const Header = "X-Request-Id"

type ctxKey struct{}

func New() string { return uuid.NewString() }

func With(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// From returns the id stored in ctx, or "" when there is none.
func From(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}
