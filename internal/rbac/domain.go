// Package rbac adapts the external authorization gate. The engine never
// decides who a caller is; it only reads the roles the gate supplies.
package rbac

import (
	"context"
	"strings"
)

// Well-known staff roles.
const (
	RoleManager = "manager"
	RoleKitchen = "kitchen"
	RoleServer  = "server"
)

// Staff describes the caller as resolved by the gate. ID is nil for
// anonymous clients such as the public menu board.
type Staff struct {
	ID    *int64
	Roles []string
}

// HasAny reports whether the caller holds at least one of roles.
func (s Staff) HasAny(roles ...string) bool {
	for _, want := range roles {
		for _, have := range s.Roles {
			if strings.EqualFold(want, have) {
				return true
			}
		}
	}
	return false
}

type staffKey struct{}

// WithStaff stores s on ctx.
func WithStaff(ctx context.Context, s Staff) context.Context {
	return context.WithValue(ctx, staffKey{}, s)
}

// StaffFromContext returns the caller stored by the middleware.
func StaffFromContext(ctx context.Context) Staff {
	s, _ := ctx.Value(staffKey{}).(Staff)
	return s
}
