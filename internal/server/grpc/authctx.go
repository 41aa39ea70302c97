package grpcserver

import (
	"context"

	"github.com/thecodingmachine/security.userfiledao/internal/model"
)

type ctxKey string

const userKey ctxKey = "userdir.user"

// WithUser stores the authenticated user in context.
func WithUser(ctx context.Context, u *model.UserRecord) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// UserFromCtx fetches the authenticated user from context.
func UserFromCtx(ctx context.Context) (*model.UserRecord, bool) {
	u, ok := ctx.Value(userKey).(*model.UserRecord)
	return u, ok && u != nil
}
