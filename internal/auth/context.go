package auth

import (
	"context"
	"errors"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID string
	Role   string
}

type ctxKey int

const ctxPrincipal ctxKey = iota

var ErrNoPrincipal = errors.New("auth: no principal in context")

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipal, p)
}

func PrincipalFrom(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(ctxPrincipal).(Principal)
	if !ok || p.UserID == "" {
		return Principal{}, ErrNoPrincipal
	}
	return p, nil
}

func UserID(ctx context.Context) (string, error) {
	p, err := PrincipalFrom(ctx)
	if err != nil {
		return "", err
	}
	return p.UserID, nil
}

func Role(ctx context.Context) (string, error) {
	p, err := PrincipalFrom(ctx)
	if err != nil || p.Role == "" {
		return "", errors.New("role not in context")
	}
	return p.Role, nil
}
